// Package maintenance holds the idempotent repair jobs for conversation
// data: pair normalisation, duplicate collapse, the unique pair index and
// the display-name backfill. Each job can be re-run against live data.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"studysphere/internal/domain/conversation"
	"studysphere/internal/domain/user"
	"studysphere/internal/identity"
	"studysphere/internal/metrics"
	"studysphere/internal/repository"
	studysphere_errors "studysphere/pkg/errors"
	"studysphere/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const DefaultBatchSize = 500

const (
	JobNormalize = "normalize"
	JobCollapse  = "collapse"
	JobIndex     = "index"
	JobBackfill  = "backfill"
)

// Report counts per-record outcomes of one job.
type Report struct {
	Job      string        `json:"job"`
	Scanned  int           `json:"scanned"`
	Updated  int           `json:"updated"`
	Deleted  int           `json:"deleted"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

type Runner struct {
	db        *gorm.DB
	batchSize int
	logger    *logger.Logger
}

func NewRunner(db *gorm.DB, batchSize int, l *logger.Logger) *Runner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	return &Runner{db: db, batchSize: batchSize, logger: l.Named("maintenance")}
}

func (r *Runner) record(report *Report, outcome string) {
	metrics.MaintenanceRecords.WithLabelValues(report.Job, outcome).Inc()
	switch outcome {
	case "updated":
		report.Updated++
	case "deleted":
		report.Deleted++
	case "skipped":
		report.Skipped++
	case "failed":
		report.Failed++
	}
}

func (r *Runner) finish(ctx context.Context, report *Report, started time.Time) {
	report.Duration = time.Since(started)
	r.logger.Ctx(ctx).Info("maintenance job finished",
		zap.String("job", report.Job),
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Int("deleted", report.Deleted),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
}

// eachConversation pages through every conversation in id order.
func (r *Runner) eachConversation(ctx context.Context, fn func(conversation.Conversation)) error {
	repo := repository.NewConversationRepository(r.db)
	after := uuid.Nil
	for {
		batch, err := repo.ListAfter(ctx, after, r.batchSize)
		if err != nil {
			return err
		}
		for _, c := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(c)
		}
		if len(batch) < r.batchSize {
			return nil
		}
		after = batch[len(batch)-1].ID
	}
}

func malformed(c conversation.Conversation) bool {
	return c.ParticipantA == uuid.Nil || c.ParticipantB == uuid.Nil || c.ParticipantA == c.ParticipantB
}

// NormalizePairs stores every two-party conversation with its slots in
// sorted order. A row whose sorted pair is already taken is left for
// CollapseDuplicates.
func (r *Runner) NormalizePairs(ctx context.Context) (Report, error) {
	started := time.Now()
	report := Report{Job: JobNormalize}
	repo := repository.NewConversationRepository(r.db)
	log := r.logger.Ctx(ctx)

	err := r.eachConversation(ctx, func(c conversation.Conversation) {
		report.Scanned++
		if malformed(c) {
			log.Warn("malformed participants", zap.String("conversation_id", c.ID.String()))
			r.record(&report, "skipped")
			return
		}
		if c.IsSorted() {
			return
		}
		a, b := conversation.SortPair(c.ParticipantA, c.ParticipantB)
		err := repo.UpdateSlots(ctx, c.ID, a, b)
		switch {
		case err == nil:
			log.Info("participants sorted", zap.String("conversation_id", c.ID.String()))
			r.record(&report, "updated")
		case studysphere_errors.IsConflict(err):
			log.Info("sorted pair already exists, left for collapse", zap.String("conversation_id", c.ID.String()))
			r.record(&report, "skipped")
		default:
			log.Error("sorting participants failed", zap.String("conversation_id", c.ID.String()), zap.Error(err))
			r.record(&report, "failed")
		}
	})
	r.finish(ctx, &report, started)
	return report, err
}

// keeperFirst orders a duplicate group: earliest created first, ties broken
// by the lowest id.
func keeperFirst(group []conversation.Conversation) {
	sort.SliceStable(group, func(i, j int) bool {
		if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		}
		return group[i].ID.String() < group[j].ID.String()
	})
}

// CollapseDuplicates keeps one conversation per unordered pair. Messages of
// the removed rows move onto the keeper after its own, keeping their
// client_message_id unless the keeper already uses it, and their unread
// counters are added to the keeper's.
func (r *Runner) CollapseDuplicates(ctx context.Context) (Report, error) {
	started := time.Now()
	report := Report{Job: JobCollapse}
	log := r.logger.Ctx(ctx)

	groups := make(map[string][]conversation.Conversation)
	var keys []string
	err := r.eachConversation(ctx, func(c conversation.Conversation) {
		report.Scanned++
		if malformed(c) {
			r.record(&report, "skipped")
			return
		}
		key := conversation.PairKey(c.ParticipantA, c.ParticipantB)
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], c)
	})
	if err != nil {
		r.finish(ctx, &report, started)
		return report, err
	}

	for _, key := range keys {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		keeperFirst(group)
		keeper, dups := group[0], group[1:]

		removed, err := r.collapseGroup(ctx, keeper, dups)
		if err != nil {
			log.Error("collapsing duplicates failed",
				zap.String("pair", key), zap.String("keeper_id", keeper.ID.String()), zap.Error(err))
			r.record(&report, "failed")
			continue
		}
		for _, id := range removed {
			log.Info("duplicate conversation removed",
				zap.String("conversation_id", id.String()), zap.String("keeper_id", keeper.ID.String()))
			r.record(&report, "deleted")
		}
		r.record(&report, "updated")
	}
	r.finish(ctx, &report, started)
	return report, nil
}

// collapseGroup merges dups into keeper in one transaction. Every row of
// the group is locked first, in id order, so a send into any of them waits
// for the merge, and the rows are re-read under the lock. A send that loses
// the race finds its conversation gone instead of writing an orphan.
func (r *Runner) collapseGroup(ctx context.Context, keeper conversation.Conversation, dups []conversation.Conversation) ([]uuid.UUID, error) {
	var removed []uuid.UUID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		convRepo := repository.NewConversationRepository(tx)
		msgRepo := repository.NewMessageRepository(tx)

		ids := make([]uuid.UUID, 0, len(dups)+1)
		ids = append(ids, keeper.ID)
		for _, d := range dups {
			ids = append(ids, d.ID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

		locked := make(map[uuid.UUID]conversation.Conversation, len(ids))
		for _, id := range ids {
			c, err := convRepo.GetByIDForUpdate(ctx, id)
			if errors.Is(err, studysphere_errors.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			locked[id] = c
		}

		current, ok := locked[keeper.ID]
		if !ok {
			return fmt.Errorf("keeper %s: %w", keeper.ID, studysphere_errors.ErrNotFound)
		}
		offset := current.LastSeq
		preview, lastAt := current.LastMessage, current.LastMessageTime

		for _, stale := range dups {
			d, ok := locked[stale.ID]
			if !ok {
				continue
			}
			if _, err := msgRepo.Reparent(ctx, d.ID, keeper.ID, offset); err != nil {
				return err
			}
			left, err := msgRepo.CountByConversation(ctx, d.ID)
			if err != nil {
				return err
			}
			if left > 0 {
				return fmt.Errorf("%w: %d messages still on conversation %s", studysphere_errors.ErrConflict, left, d.ID)
			}
			offset += d.LastSeq
			for _, p := range d.Participants {
				if !current.HasParticipant(p.UserID) {
					continue
				}
				if err := convRepo.AddUnread(ctx, keeper.ID, p.UserID, p.UnreadCount); err != nil {
					return err
				}
			}
			if d.LastMessageTime != nil && (lastAt == nil || d.LastMessageTime.After(*lastAt)) {
				preview, lastAt = d.LastMessage, d.LastMessageTime
			}
			if err := convRepo.Delete(ctx, d.ID); err != nil {
				return err
			}
			removed = append(removed, d.ID)
		}

		if err := convRepo.SetLastMessage(ctx, keeper.ID, preview, lastAt, offset); err != nil {
			return err
		}
		if !current.IsSorted() {
			a, b := conversation.SortPair(current.ParticipantA, current.ParticipantB)
			return convRepo.UpdateSlots(ctx, keeper.ID, a, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// RebuildIndex drops the legacy participants index and creates the unique
// pair index. It fails while duplicate pairs remain.
func (r *Runner) RebuildIndex(ctx context.Context) (Report, error) {
	started := time.Now()
	report := Report{Job: JobIndex, Scanned: 1}
	err := repository.NewConversationRepository(r.db).EnsurePairIndex(ctx)
	if err != nil {
		r.record(&report, "failed")
		r.logger.Ctx(ctx).Error("pair index rebuild failed", zap.Error(err))
	} else {
		r.record(&report, "updated")
	}
	r.finish(ctx, &report, started)
	return report, err
}

// BackfillNames writes a derived name for users whose name parts are blank
// or placeholders. Only the unusable parts are replaced.
func (r *Runner) BackfillNames(ctx context.Context) (Report, error) {
	started := time.Now()
	report := Report{Job: JobBackfill}
	repo := repository.NewUserRepository(r.db)
	log := r.logger.Ctx(ctx)

	after := uuid.Nil
	for {
		batch, err := repo.ListAfter(ctx, after, r.batchSize)
		if err != nil {
			r.finish(ctx, &report, started)
			return report, err
		}
		for _, u := range batch {
			report.Scanned++
			first, last, changed := backfilledNames(u)
			if !changed {
				continue
			}
			if err := repo.UpdateNames(ctx, u.ID, first, last); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					r.finish(ctx, &report, started)
					return report, err
				}
				log.Error("name backfill failed", zap.String("user_id", u.ID.String()), zap.Error(err))
				r.record(&report, "failed")
				continue
			}
			log.Info("name backfilled", zap.String("user_id", u.ID.String()),
				zap.String("first_name", first), zap.String("last_name", last))
			r.record(&report, "updated")
		}
		if len(batch) < r.batchSize {
			break
		}
		after = batch[len(batch)-1].ID
	}
	r.finish(ctx, &report, started)
	return report, nil
}

func backfilledNames(u user.User) (string, string, bool) {
	if _, ok := identity.FullName(u.FirstName, u.LastName); ok {
		return u.FirstName, u.LastName, false
	}
	name, ok := identity.DeriveFromEmail(u.Email)
	if !ok {
		name = identity.DeriveFromIdentifier(u.Role, u.ID.String())
	}
	derivedFirst, derivedLast := identity.SplitName(name)

	first, last := u.FirstName, u.LastName
	if identity.IsPlaceholder(first) {
		first = derivedFirst
	}
	if identity.IsPlaceholder(last) {
		last = derivedLast
	}
	return first, last, first != u.FirstName || last != u.LastName
}

// RunAll runs normalise, collapse, index and backfill in that order and
// stops at the first job that cannot complete.
func (r *Runner) RunAll(ctx context.Context) ([]Report, error) {
	jobs := []func(context.Context) (Report, error){
		r.NormalizePairs,
		r.CollapseDuplicates,
		r.RebuildIndex,
		r.BackfillNames,
	}
	reports := make([]Report, 0, len(jobs))
	for _, job := range jobs {
		report, err := job(ctx)
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}
