package realtime

import (
	"sort"
	"sync"
	"time"

	"studysphere/internal/metrics"
)

const (
	defaultReorderHold = 500 * time.Millisecond
	reorderIdle        = 10 * time.Minute
)

// sequencer releases the message events of each conversation in seq order.
// Local sends and relayed ones race each other, so an event that arrives
// ahead of a gap is held until the gap fills or hold passes. After hold the
// held events go out anyway: delivery is at most once and a missing event
// may never come.
type sequencer struct {
	mu        sync.Mutex
	hold      time.Duration
	release   func(MessageEvent)
	convs     map[string]*convOrder
	now       func() time.Time
	lastSweep time.Time
}

type convOrder struct {
	next    int64
	pending map[int64]MessageEvent
	timer   *time.Timer
	gen     int
	seen    time.Time
}

func newSequencer(hold time.Duration, release func(MessageEvent)) *sequencer {
	return &sequencer{
		hold:    hold,
		release: release,
		convs:   make(map[string]*convOrder),
		now:     time.Now,
	}
}

func (s *sequencer) admit(ev MessageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := ev.Message.Seq
	if seq <= 0 {
		s.release(ev)
		return
	}
	now := s.now()
	s.sweep(now)

	id := ev.Message.ConversationID
	st, ok := s.convs[id]
	if !ok {
		st = &convOrder{next: seq, pending: make(map[int64]MessageEvent)}
		// first event seen here: wait for the previous one only while it
		// may still be on its way
		if seq > 1 && ev.PrevAt != nil && now.Sub(*ev.PrevAt) < s.hold {
			st.next = seq - 1
		}
		s.convs[id] = st
	}
	st.seen = now

	switch {
	case seq < st.next:
		metrics.EventsReordered.WithLabelValues("late").Inc()
		s.release(ev)
	case seq == st.next:
		s.release(ev)
		st.next++
		s.drain(st)
	default:
		if _, dup := st.pending[seq]; dup {
			return
		}
		st.pending[seq] = ev
		metrics.EventsReordered.WithLabelValues("held").Inc()
		if st.timer == nil {
			st.gen++
			gen := st.gen
			st.timer = time.AfterFunc(s.hold, func() { s.expire(id, gen) })
		}
	}
}

func (s *sequencer) drain(st *convOrder) {
	for {
		ev, ok := st.pending[st.next]
		if !ok {
			break
		}
		delete(st.pending, st.next)
		s.release(ev)
		st.next++
	}
	if len(st.pending) == 0 && st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

// expire releases everything still held for a conversation, skipping the
// gap in front of it.
func (s *sequencer) expire(id string, gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.convs[id]
	if !ok || st.gen != gen {
		return
	}
	st.timer = nil
	if len(st.pending) == 0 {
		return
	}
	seqs := make([]int64, 0, len(st.pending))
	for seq := range st.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		s.release(st.pending[seq])
		delete(st.pending, seq)
	}
	st.next = seqs[len(seqs)-1] + 1
	metrics.EventsReordered.WithLabelValues("gap_skipped").Inc()
}

// sweep forgets conversations that have been quiet for reorderIdle.
func (s *sequencer) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < reorderIdle {
		return
	}
	s.lastSweep = now
	for id, st := range s.convs {
		if len(st.pending) == 0 && now.Sub(st.seen) >= reorderIdle {
			delete(s.convs, id)
		}
	}
}
