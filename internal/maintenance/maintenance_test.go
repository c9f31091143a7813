package maintenance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"studysphere/internal/commands"
	"studysphere/internal/domain/conversation"
	"studysphere/internal/domain/message"
	"studysphere/internal/domain/user"
	"studysphere/internal/identity"
	"studysphere/internal/maintenance"
	"studysphere/internal/repository"
	"studysphere/internal/services"
	"studysphere/internal/testutil"
	studysphere_errors "studysphere/pkg/errors"
	"studysphere/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newRunner(t *testing.T) (*maintenance.Runner, *gorm.DB) {
	t.Helper()
	// legacy shape: no unique pair index yet
	db := testutil.NewDB(t, false)
	return maintenance.NewRunner(db, 2, logger.NewNop()), db
}

func insertConversation(t *testing.T, db *gorm.DB, a, b uuid.UUID, createdAt time.Time) conversation.Conversation {
	t.Helper()
	c := conversation.Conversation{ParticipantA: a, ParticipantB: b, CreatedAt: createdAt, UpdatedAt: createdAt}
	require.NoError(t, repository.NewConversationRepository(db).Create(context.Background(), &c))
	return c
}

func appendMessages(t *testing.T, db *gorm.DB, c conversation.Conversation, sender uuid.UUID, n int) {
	t.Helper()
	ctx := context.Background()
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	for i := 0; i < n; i++ {
		at := time.Now().UTC()
		seq, err := convRepo.RecordMessage(ctx, c.ID, "msg", at)
		require.NoError(t, err)
		require.NoError(t, msgRepo.Create(ctx, &message.Message{
			ConversationID: c.ID, SenderID: sender, Content: "msg", Seq: seq, CreatedAt: at,
		}))
		require.NoError(t, convRepo.IncrementUnread(ctx, c.ID, sender))
	}
}

func conversationIDs(t *testing.T, db *gorm.DB) []uuid.UUID {
	t.Helper()
	var ids []uuid.UUID
	require.NoError(t, db.Model(&conversation.Conversation{}).Order("id").Pluck("id", &ids).Error)
	return ids
}

func TestNormalizePairs(t *testing.T) {
	runner, db := newRunner(t)
	ctx := context.Background()
	lo, hi := conversation.SortPair(uuid.New(), uuid.New())
	self := uuid.New()

	reversed := insertConversation(t, db, hi, lo, time.Now().UTC())
	insertConversation(t, db, self, self, time.Now().UTC())
	x, y := conversation.SortPair(uuid.New(), uuid.New())
	insertConversation(t, db, x, y, time.Now().UTC())

	report, err := runner.NormalizePairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)

	got, err := repository.NewConversationRepository(db).GetByID(ctx, reversed.ID)
	require.NoError(t, err)
	assert.Equal(t, lo, got.ParticipantA)
	assert.Equal(t, hi, got.ParticipantB)

	again, err := runner.NormalizePairs(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Updated)
}

func TestCollapseDuplicates(t *testing.T) {
	runner, db := newRunner(t)
	ctx := context.Background()
	alice, bob := conversation.SortPair(uuid.New(), uuid.New())
	base := time.Now().UTC().Add(-time.Hour)

	// keeper is the earliest created; the later one is stored reversed
	keeper := insertConversation(t, db, alice, bob, base)
	dup := insertConversation(t, db, bob, alice, base.Add(5*time.Minute))
	x, y := conversation.SortPair(uuid.New(), uuid.New())
	other := insertConversation(t, db, x, y, base)

	appendMessages(t, db, keeper, alice, 2)
	appendMessages(t, db, dup, bob, 3)

	report, err := runner.CollapseDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.Updated)

	first := conversationIDs(t, db)
	assert.ElementsMatch(t, []uuid.UUID{keeper.ID, other.ID}, first)

	merged, err := repository.NewConversationRepository(db).GetByID(ctx, keeper.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), merged.LastSeq)
	assert.Equal(t, 3, merged.UnreadFor(alice))
	assert.Equal(t, 2, merged.UnreadFor(bob))
	assert.True(t, merged.IsSorted())

	msgs, err := repository.NewMessageRepository(db).ListByConversation(ctx, keeper.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
	}

	// a second run changes nothing
	again, err := runner.CollapseDuplicates(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Deleted)
	assert.Equal(t, first, conversationIDs(t, db))
}

func TestCollapseDuplicates_KeepsClientMessageIDs(t *testing.T) {
	runner, db := newRunner(t)
	ctx := context.Background()
	alice, bob := conversation.SortPair(uuid.New(), uuid.New())
	base := time.Now().UTC().Add(-time.Hour)
	keeper := insertConversation(t, db, alice, bob, base)
	dup := insertConversation(t, db, bob, alice, base.Add(time.Minute))

	msgRepo := repository.NewMessageRepository(db)
	clientID := "retry-me"
	require.NoError(t, msgRepo.Create(ctx, &message.Message{
		ConversationID: dup.ID, SenderID: bob, Content: "sent twice", Seq: 1, ClientMessageID: &clientID,
	}))

	_, err := runner.CollapseDuplicates(ctx)
	require.NoError(t, err)

	found, err := msgRepo.GetByClientMessageID(ctx, keeper.ID, clientID)
	require.NoError(t, err)
	assert.Equal(t, "sent twice", found.Content)
}

func TestCollapseDuplicates_WithConcurrentSends(t *testing.T) {
	runner, db := newRunner(t)
	ctx := context.Background()
	l := logger.NewNop()
	resolver := identity.NewResolver(repository.NewUserRepository(db), repository.NewProfileRepository(db), nil, l)
	convs := services.NewConversationService(db, resolver, nil, nil, l)
	msgs := services.NewMessageService(db, convs, nil, nil, nil, l)

	alice, bob := conversation.SortPair(uuid.New(), uuid.New())
	base := time.Now().UTC().Add(-time.Hour)
	keeper := insertConversation(t, db, alice, bob, base)
	dup := insertConversation(t, db, bob, alice, base.Add(time.Minute))
	appendMessages(t, db, keeper, alice, 2)
	appendMessages(t, db, dup, bob, 2)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		saved []uuid.UUID
	)
	for i := 0; i < 20; i++ {
		target := keeper.ID
		if i%2 == 1 {
			target = dup.ID
		}
		wg.Add(1)
		go func(target uuid.UUID) {
			defer wg.Done()
			m, err := msgs.Send(ctx, commands.SendMessageCommand{SenderID: alice, ConversationID: target, Content: "live"})
			if err != nil {
				// a send that lost the race sees the duplicate gone
				assert.True(t, errors.Is(err, studysphere_errors.ErrNotFound), "unexpected error: %v", err)
				return
			}
			mu.Lock()
			saved = append(saved, m.ID)
			mu.Unlock()
		}(target)
	}

	report, err := runner.CollapseDuplicates(ctx)
	wg.Wait()
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
	assert.Equal(t, []uuid.UUID{keeper.ID}, conversationIDs(t, db))

	// every acknowledged send survives on the keeper and seq stays gapless
	var orphans int64
	require.NoError(t, db.Model(&message.Message{}).Where("conversation_id <> ?", keeper.ID).Count(&orphans).Error)
	assert.Zero(t, orphans)
	for _, id := range saved {
		var m message.Message
		require.NoError(t, db.First(&m, "id = ?", id).Error)
		assert.Equal(t, keeper.ID, m.ConversationID)
	}

	page, err := repository.NewMessageRepository(db).ListByConversation(ctx, keeper.ID, 0, 100)
	require.NoError(t, err)
	assert.Len(t, page, 4+len(saved))
	for i, m := range page {
		assert.Equal(t, int64(i+1), m.Seq)
	}
	merged, err := repository.NewConversationRepository(db).GetByID(ctx, keeper.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(len(page)), merged.LastSeq)
}

func TestCollapseDuplicates_TieBreaksOnLowestID(t *testing.T) {
	runner, db := newRunner(t)
	ctx := context.Background()
	a, b := conversation.SortPair(uuid.New(), uuid.New())
	at := time.Now().UTC().Truncate(time.Second)

	c1 := insertConversation(t, db, a, b, at)
	c2 := insertConversation(t, db, a, b, at)
	want := c1.ID
	if c2.ID.String() < c1.ID.String() {
		want = c2.ID
	}

	_, err := runner.CollapseDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{want}, conversationIDs(t, db))
}

func TestRebuildIndex(t *testing.T) {
	runner, db := newRunner(t)
	ctx := context.Background()
	a, b := conversation.SortPair(uuid.New(), uuid.New())
	insertConversation(t, db, a, b, time.Now().UTC())
	insertConversation(t, db, a, b, time.Now().UTC())

	_, err := runner.RebuildIndex(ctx)
	assert.Error(t, err)

	_, err = runner.CollapseDuplicates(ctx)
	require.NoError(t, err)
	report, err := runner.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	err = repository.NewConversationRepository(db).Create(ctx, &conversation.Conversation{ParticipantA: a, ParticipantB: b})
	assert.ErrorIs(t, err, studysphere_errors.ErrAlreadyExists)
}

func TestBackfillNames(t *testing.T) {
	runner, db := newRunner(t)
	ctx := context.Background()
	users := repository.NewUserRepository(db)

	dotted := testutil.CreateUser(t, db, "", "", "a.lee@acme.com", user.RoleStudent)
	single := testutil.CreateUser(t, db, "undefined", "null", "alice@acme.com", user.RoleStudent)
	noEmail := testutil.CreateUser(t, db, "", "", "", user.RoleTutor)
	halfKnown := testutil.CreateUser(t, db, "Grace", "", "grace.hopper@acme.com", user.RoleTutor)
	complete := testutil.CreateUser(t, db, "Bob", "Stone", "bob@acme.com", user.RoleTutor)

	report, err := runner.BackfillNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 4, report.Updated)

	check := func(id uuid.UUID, first, last string) {
		t.Helper()
		u, err := users.GetUserByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, first, u.FirstName)
		assert.Equal(t, last, u.LastName)
	}
	check(dotted.ID, "A", "Lee")
	check(single.ID, "Alice", "")
	suffix := noEmail.ID.String()[len(noEmail.ID.String())-4:]
	check(noEmail.ID, "Tutor", suffix)
	check(halfKnown.ID, "Grace", "Hopper")
	check(complete.ID, "Bob", "Stone")

	again, err := runner.BackfillNames(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Updated)
}

func TestRunAll(t *testing.T) {
	runner, db := newRunner(t)
	ctx := context.Background()
	a, b := conversation.SortPair(uuid.New(), uuid.New())
	insertConversation(t, db, b, a, time.Now().UTC().Add(-time.Minute))
	insertConversation(t, db, a, b, time.Now().UTC())
	testutil.CreateUser(t, db, "", "", "sam.park@acme.com", user.RoleStudent)

	reports, err := runner.RunAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 4)
	assert.Equal(t, maintenance.JobNormalize, reports[0].Job)
	assert.Equal(t, 1, reports[1].Deleted)
	assert.Equal(t, 1, reports[3].Updated)

	ids := conversationIDs(t, db)
	require.Len(t, ids, 1)
	got, err := repository.NewConversationRepository(db).GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, got.IsSorted())

	reports, err = runner.RunAll(ctx)
	require.NoError(t, err)
	for _, r := range reports {
		assert.Zero(t, r.Deleted)
		assert.Zero(t, r.Failed)
	}
	assert.Equal(t, ids, conversationIDs(t, db))
}
