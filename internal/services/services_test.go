package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"studysphere/config"
	"studysphere/internal/commands"
	"studysphere/internal/domain/conversation"
	"studysphere/internal/domain/message"
	"studysphere/internal/domain/user"
	"studysphere/internal/identity"
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

type recordingPublisher struct {
	mu       sync.Mutex
	messages []message.Message
	reads    []uuid.UUID
}

func (p *recordingPublisher) PublishMessage(_ context.Context, msg message.Message, _ conversation.Conversation, _ *time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
}

func (p *recordingPublisher) PublishRead(_ context.Context, _ uuid.UUID, userID uuid.UUID, _ time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads = append(p.reads, userID)
}

type fixture struct {
	db            *gorm.DB
	bus           *commands.Bus
	publisher     *recordingPublisher
	conversations *services.ConversationService
	messages      *services.MessageService
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t, true)
	l := logger.NewNop()
	resolver := identity.NewResolver(repository.NewUserRepository(db), repository.NewProfileRepository(db), nil, l)
	pub := &recordingPublisher{}
	bus := commands.NewBus()
	convs := services.NewConversationService(db, resolver, pub, bus, l)
	msgs := services.NewMessageService(db, convs, pub, nil, bus, l)
	return fixture{db: db, bus: bus, publisher: pub, conversations: convs, messages: msgs}
}

func TestFindOrCreate_PairSymmetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ada", "Lovelace", "ada@acme.com", user.RoleStudent)
	b := testutil.CreateUser(t, f.db, "Bo", "Chen", "bo@acme.com", user.RoleTutor)

	first, created, err := f.conversations.FindOrCreate(ctx, a.ID, b.ID, uuid.NullUUID{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, first.IsSorted())
	assert.Equal(t, 0, first.UnreadFor(a.ID))
	assert.Equal(t, 0, first.UnreadFor(b.ID))

	second, created, err := f.conversations.FindOrCreate(ctx, b.ID, a.ID, uuid.NullUUID{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestFindOrCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ada", "Lovelace", "ada@acme.com", user.RoleStudent)

	_, _, err := f.conversations.FindOrCreate(ctx, a.ID, a.ID, uuid.NullUUID{})
	assert.ErrorIs(t, err, studysphere_errors.ErrInvalidInput)

	_, _, err = f.conversations.FindOrCreate(ctx, a.ID, uuid.Nil, uuid.NullUUID{})
	assert.ErrorIs(t, err, studysphere_errors.ErrInvalidInput)

	_, _, err = f.conversations.FindOrCreate(ctx, a.ID, uuid.New(), uuid.NullUUID{})
	assert.ErrorIs(t, err, studysphere_errors.ErrNotFound)
}

func TestFindOrCreate_ConcurrentFirstContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := testutil.CreateUser(t, f.db, "Xavier", "Ng", "x@acme.com", user.RoleStudent)
	y := testutil.CreateUser(t, f.db, "Yara", "Ode", "y@acme.com", user.RoleTutor)

	const callers = 8
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := x.ID, y.ID
			if i%2 == 1 {
				from, to = to, from
			}
			conv, _, err := f.conversations.FindOrCreate(ctx, from, to, uuid.NullUUID{})
			ids[i], errs[i] = conv.ID, err
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	var count int64
	require.NoError(t, f.db.Model(&conversation.Conversation{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFindOrCreate_TutorContextIsMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	student := testutil.CreateUser(t, f.db, "Sam", "Park", "sam@acme.com", user.RoleStudent)
	tutor := testutil.CreateUser(t, f.db, "Tia", "Ruiz", "tia@acme.com", user.RoleTutor)
	profile := &user.TutorProfile{UserID: tutor.ID, Specialization: "Calculus", Subjects: "math"}
	require.NoError(t, repository.NewProfileRepository(f.db).CreateTutorProfile(ctx, profile))

	plain, _, err := f.conversations.FindOrCreate(ctx, student.ID, tutor.ID, uuid.NullUUID{})
	require.NoError(t, err)
	assert.Equal(t, conversation.TypeDirect, plain.Type)

	withCtx, created, err := f.conversations.FindOrCreate(ctx, student.ID, tutor.ID, uuid.NullUUID{UUID: profile.ID, Valid: true})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, plain.ID, withCtx.ID)
	assert.Equal(t, conversation.TypeTutor, withCtx.Type)
	assert.Equal(t, profile.ID, withCtx.TutorProfileID.UUID)

	summaries, err := f.conversations.ListForUser(ctx, student.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.NotNil(t, summaries[0].TutorInfo)
	assert.Equal(t, "Calculus", summaries[0].TutorInfo.Specialization)
}

func TestSendAndMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ann", "Fox", "ann@acme.com", user.RoleStudent)
	b := testutil.CreateUser(t, f.db, "Ben", "Oak", "ben@acme.com", user.RoleTutor)

	msg, err := f.messages.Send(ctx, commands.SendMessageCommand{SenderID: a.ID, RecipientID: b.ID, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Seq)

	conv, err := f.conversations.Get(ctx, msg.ConversationID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadFor(b.ID))
	assert.Equal(t, 0, conv.UnreadFor(a.ID))
	assert.Equal(t, "hi", conv.LastMessage)

	total, err := f.conversations.UnreadTotal(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	require.NoError(t, f.conversations.MarkRead(ctx, conv.ID, b.ID))
	require.NoError(t, f.conversations.MarkRead(ctx, conv.ID, b.ID))

	conv, err = f.conversations.Get(ctx, conv.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadFor(b.ID))
	assert.Equal(t, 0, conv.UnreadFor(a.ID))

	page, err := f.messages.ListMessages(ctx, conv.ID, b.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.True(t, page[0].Read)

	assert.Len(t, f.publisher.messages, 1)
	assert.Equal(t, []uuid.UUID{b.ID, b.ID}, f.publisher.reads)
}

func TestSend_UnreadOnlyForRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ann", "Fox", "ann@acme.com", user.RoleStudent)
	b := testutil.CreateUser(t, f.db, "Ben", "Oak", "ben@acme.com", user.RoleTutor)
	conv, _, err := f.conversations.FindOrCreate(ctx, a.ID, b.ID, uuid.NullUUID{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.messages.Send(ctx, commands.SendMessageCommand{SenderID: b.ID, ConversationID: conv.ID, Content: "ping"})
		require.NoError(t, err)
	}
	require.NoError(t, f.conversations.MarkRead(ctx, conv.ID, b.ID))

	conv, err = f.conversations.Get(ctx, conv.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, conv.UnreadFor(a.ID))
	assert.Equal(t, 0, conv.UnreadFor(b.ID))
}

func TestSend_NonParticipantRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ann", "Fox", "ann@acme.com", user.RoleStudent)
	b := testutil.CreateUser(t, f.db, "Ben", "Oak", "ben@acme.com", user.RoleTutor)
	mallory := testutil.CreateUser(t, f.db, "Mal", "Lory", "mal@acme.com", user.RoleStudent)
	conv, _, err := f.conversations.FindOrCreate(ctx, a.ID, b.ID, uuid.NullUUID{})
	require.NoError(t, err)

	_, err = f.messages.Send(ctx, commands.SendMessageCommand{SenderID: mallory.ID, ConversationID: conv.ID, Content: "let me in"})
	assert.ErrorIs(t, err, studysphere_errors.ErrInvalidInput)
	assert.ErrorIs(t, err, studysphere_errors.ErrNotParticipant)

	var count int64
	require.NoError(t, f.db.Model(&message.Message{}).Count(&count).Error)
	assert.Zero(t, count)

	after, err := f.conversations.Get(ctx, conv.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.LastSeq)
	assert.Empty(t, after.LastMessage)
	assert.Equal(t, 0, after.UnreadFor(a.ID))
	assert.Equal(t, 0, after.UnreadFor(b.ID))
	assert.Empty(t, f.publisher.messages)

	err = f.conversations.MarkRead(ctx, conv.ID, mallory.ID)
	assert.ErrorIs(t, err, studysphere_errors.ErrNotParticipant)

	_, err = f.messages.ListMessages(ctx, conv.ID, mallory.ID, 0, 10)
	assert.ErrorIs(t, err, studysphere_errors.ErrForbidden)
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ann", "Fox", "ann@acme.com", user.RoleStudent)

	_, err := f.messages.Send(ctx, commands.SendMessageCommand{SenderID: a.ID, ConversationID: uuid.New(), Content: "   "})
	assert.ErrorIs(t, err, studysphere_errors.ErrInvalidInput)

	_, err = f.messages.Send(ctx, commands.SendMessageCommand{SenderID: a.ID, ConversationID: uuid.New(), Content: "hello"})
	assert.ErrorIs(t, err, studysphere_errors.ErrNotFound)
}

func TestSend_ClientMessageIDIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ann", "Fox", "ann@acme.com", user.RoleStudent)
	b := testutil.CreateUser(t, f.db, "Ben", "Oak", "ben@acme.com", user.RoleTutor)

	cmd := commands.SendMessageCommand{SenderID: a.ID, RecipientID: b.ID, Content: "once", ClientMessageID: "c-1"}
	first, err := f.messages.Send(ctx, cmd)
	require.NoError(t, err)
	again, err := f.messages.Send(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	conv, err := f.conversations.Get(ctx, first.ConversationID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadFor(b.ID))
	assert.Equal(t, int64(1), conv.LastSeq)
	assert.Len(t, f.publisher.messages, 1)

	_, err = f.messages.Send(ctx, commands.SendMessageCommand{SenderID: b.ID, ConversationID: conv.ID, Content: "mine", ClientMessageID: "c-1"})
	assert.ErrorIs(t, err, studysphere_errors.ErrInvalidInput)
}

func TestListMessages_OrderAndPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ann", "Fox", "ann@acme.com", user.RoleStudent)
	b := testutil.CreateUser(t, f.db, "Ben", "Oak", "ben@acme.com", user.RoleTutor)
	conv, _, err := f.conversations.FindOrCreate(ctx, a.ID, b.ID, uuid.NullUUID{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := a.ID
			if i%2 == 1 {
				sender = b.ID
			}
			_, err := f.messages.Send(ctx, commands.SendMessageCommand{SenderID: sender, ConversationID: conv.ID, Content: "m"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := f.messages.ListMessages(ctx, conv.ID, a.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 10)
	for i := range all {
		assert.Equal(t, int64(i+1), all[i].Seq)
		if i > 0 {
			assert.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt))
		}
	}

	older, err := f.messages.ListMessages(ctx, conv.ID, a.ID, 6, 3)
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{older[0].Seq, older[1].Seq, older[2].Seq})

	after, err := f.conversations.Get(ctx, conv.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, after.UnreadFor(a.ID))
	assert.Equal(t, 5, after.UnreadFor(b.ID))
	assert.Equal(t, int64(10), after.LastSeq)
}

func TestListForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := testutil.CreateUser(t, f.db, "Mia", "Lund", "mia@acme.com", user.RoleStudent)
	nameless := testutil.CreateUser(t, f.db, "", "", "a.lee@acme.com", user.RoleTutor)
	other := testutil.CreateUser(t, f.db, "Oli", "Berg", "oli@acme.com", user.RoleTutor)

	_, err := f.messages.Send(ctx, commands.SendMessageCommand{SenderID: nameless.ID, RecipientID: me.ID, Content: "first"})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = f.messages.Send(ctx, commands.SendMessageCommand{SenderID: me.ID, RecipientID: other.ID, Content: "second"})
	require.NoError(t, err)

	// conversation with a participant that has no stored record
	ga, gb := conversation.SortPair(me.ID, uuid.New())
	require.NoError(t, repository.NewConversationRepository(f.db).Create(ctx, &conversation.Conversation{ParticipantA: ga, ParticipantB: gb}))

	summaries, err := f.conversations.ListForUser(ctx, me.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, other.ID.String(), summaries[0].OtherUser.ID)
	assert.Equal(t, "Oli Berg", summaries[0].OtherUser.Name)
	assert.Equal(t, 0, summaries[0].UnreadCount)

	assert.Equal(t, nameless.ID.String(), summaries[1].OtherUser.ID)
	assert.Equal(t, "A Lee", summaries[1].OtherUser.Name)
	assert.Equal(t, 1, summaries[1].UnreadCount)

	for _, s := range summaries {
		assert.NotEqual(t, me.ID.String(), s.OtherUser.ID)
	}
}

func TestCommandBusRoutesToServices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ann", "Fox", "ann@acme.com", user.RoleStudent)
	b := testutil.CreateUser(t, f.db, "Ben", "Oak", "ben@acme.com", user.RoleTutor)

	res, err := f.bus.Execute(ctx, commands.FindOrCreateCommand{UserID: a.ID, OtherUserID: b.ID})
	require.NoError(t, err)
	convID := uuid.MustParse(res.AggregateID)

	_, err = f.bus.Execute(ctx, commands.SendMessageCommand{SenderID: a.ID, ConversationID: convID, Content: "via bus"})
	require.NoError(t, err)

	_, err = f.bus.Execute(ctx, commands.MarkReadCommand{ConversationID: convID, UserID: b.ID})
	require.NoError(t, err)

	total, err := f.conversations.UnreadTotal(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestAuthService(t *testing.T) {
	auth := services.NewAuthService(&config.Config{JWTSecret: "test-secret"})
	userID := uuid.New()

	token, err := auth.IssueAccessToken(userID, user.RoleTutor)
	require.NoError(t, err)

	got, err := auth.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	claims, err := auth.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.RoleTutor, claims.Role)

	other := services.NewAuthService(&config.Config{JWTSecret: "other-secret"})
	_, err = other.Authenticate(token)
	assert.ErrorIs(t, err, studysphere_errors.ErrUnauthorized)

	_, err = auth.Authenticate("")
	assert.ErrorIs(t, err, studysphere_errors.ErrUnauthorized)

	ctx := services.WithUserContext(context.Background(), userID)
	fromCtx, ok := services.UserIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, userID, fromCtx)
	assert.Equal(t, 404, services.HTTPStatus(studysphere_errors.ErrNotFound))
	assert.Equal(t, 400, services.HTTPStatus(studysphere_errors.ErrNotParticipant))
}
