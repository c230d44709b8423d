package screener

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/moexbonds/moexbonds/pkg/models"
)

// Snapshot is one committed, immutable working set.
type Snapshot struct {
	Bonds     []models.Bond
	Seq       uint64
	FetchedAt time.Time
	Source    string
	Boards    []string
	Stats     NormalizeStats

	index map[string]int
}

// NewSnapshot indexes bonds by SECID.
func NewSnapshot(bonds []models.Bond, fetchedAt time.Time, source string, boards []string, stats NormalizeStats) *Snapshot {
	idx := make(map[string]int, len(bonds))
	for i := range bonds {
		idx[bonds[i].SecID] = i
	}
	return &Snapshot{
		Bonds:     bonds,
		FetchedAt: fetchedAt,
		Source:    source,
		Boards:    boards,
		Stats:     stats,
		index:     idx,
	}
}

// Lookup finds a bond by SECID.
func (s *Snapshot) Lookup(secid string) (models.Bond, bool) {
	if s == nil {
		return models.Bond{}, false
	}
	i, ok := s.index[secid]
	if !ok {
		return models.Bond{}, false
	}
	return s.Bonds[i], true
}

// Len is the number of bonds, 0 for a nil snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bonds)
}

// WorkingSet holds the current snapshot. Each refresh takes a sequence
// token with Begin; a commit is discarded when a later token has already
// committed, so a slow, stale fetch never overwrites a newer one.
type WorkingSet struct {
	next atomic.Uint64

	mu      sync.RWMutex
	current *Snapshot
}

// Begin returns a new sequence token.
func (w *WorkingSet) Begin() uint64 {
	return w.next.Add(1)
}

// Commit installs snap under token. It returns false, leaving the set
// untouched, when token is not newer than the current snapshot.
func (w *WorkingSet) Commit(token uint64, snap *Snapshot) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil && token <= w.current.Seq {
		return false
	}
	snap.Seq = token
	w.current = snap
	return true
}

// Current returns the committed snapshot, or nil before the first commit.
func (w *WorkingSet) Current() *Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
