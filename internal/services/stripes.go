package services

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

const defaultStripes = 64

// stripedLock serialises work per conversation on this instance without a
// mutex per conversation. Two conversations may share a stripe.
type stripedLock struct {
	stripes []sync.Mutex
}

func newStripedLock(n int) *stripedLock {
	if n <= 0 {
		n = defaultStripes
	}
	return &stripedLock{stripes: make([]sync.Mutex, n)}
}

func (l *stripedLock) lock(id uuid.UUID) func() {
	h := fnv.New32a()
	h.Write(id[:])
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
