// Package persistence saves ledger snapshots for crash recovery. The store
// owns the on-disk/on-wire format; the core only hands it snapshots and asks
// for the latest one back.
package persistence

import (
	"context"
	"sync"

	"github.com/sawpanic/riskcore/internal/ledger"
)

// SnapshotStore persists ledger snapshots and restores the most recent one.
type SnapshotStore interface {
	// Save persists a snapshot.
	Save(ctx context.Context, snap ledger.Snapshot) error

	// Load returns the most recent snapshot, or ok=false when none exists.
	Load(ctx context.Context) (snap ledger.Snapshot, ok bool, err error)
}

// MemoryStore keeps the most recent snapshots in memory. Used in tests and
// dry runs where durability is not required.
type MemoryStore struct {
	mu    sync.Mutex
	snaps []ledger.Snapshot
	keep  int
}

// NewMemoryStore creates a store retaining the last keep snapshots.
func NewMemoryStore(keep int) *MemoryStore {
	if keep <= 0 {
		keep = 16
	}
	return &MemoryStore{keep: keep}
}

// Save appends the snapshot, discarding the oldest beyond the retention cap.
func (m *MemoryStore) Save(_ context.Context, snap ledger.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snaps = append(m.snaps, snap)
	if len(m.snaps) > m.keep {
		m.snaps = m.snaps[len(m.snaps)-m.keep:]
	}
	return nil
}

// Load returns the most recently saved snapshot.
func (m *MemoryStore) Load(_ context.Context) (ledger.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.snaps) == 0 {
		return ledger.Snapshot{}, false, nil
	}
	return m.snaps[len(m.snaps)-1], true, nil
}

// Count reports retained snapshots.
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}
