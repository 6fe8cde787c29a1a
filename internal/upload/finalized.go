package upload

import (
	"sync"
	"time"
)

// DefaultFinalizedRetention is how long a merged or aborted correlation id
// keeps refusing chunks.
const DefaultFinalizedRetention = time.Hour

// finalized remembers correlation ids that were merged or aborted, so a late
// chunk for one of them is refused instead of opening a new upload.
type finalized struct {
	mu        sync.Mutex
	retention time.Duration
	now       func() time.Time
	ids       map[string]time.Time
}

func newFinalized(retention time.Duration) *finalized {
	return &finalized{
		retention: retention,
		now:       time.Now,
		ids:       make(map[string]time.Time),
	}
}

func (f *finalized) add(id string) {
	if id == "" || f.retention <= 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	for k, at := range f.ids {
		if now.Sub(at) > f.retention {
			delete(f.ids, k)
		}
	}
	f.ids[id] = now
}

func (f *finalized) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	at, ok := f.ids[id]
	return ok && f.now().Sub(at) <= f.retention
}
