// Package store defines the persistence interface for the pool engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/hicpool/pool-engine/internal/model"
)

// ErrNotFound is returned when no snapshot has been saved yet.
var ErrNotFound = errors.New("store: not found")

// Store persists the audit event stream and periodic state snapshots.
// PostgreSQL is the source of truth; Redis provides a read-through cache
// layer.
type Store interface {
	// --- Audit events ---

	// AppendEvents appends committed events. Sequence numbers are unique;
	// appending a sequence number twice is an error.
	AppendEvents(ctx context.Context, events []model.Event) error

	// ListEvents returns events matching the filter in sequence order.
	ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error)

	// TruncateEvents deletes every event with a sequence number above
	// afterSeq and reports how many were removed.
	TruncateEvents(ctx context.Context, afterSeq uint64) (int64, error)

	// --- Snapshots ---

	// SaveSnapshot stores a serialised pool state.
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error

	// LatestSnapshot returns the snapshot with the highest LastSeq.
	LatestSnapshot(ctx context.Context) (*model.Snapshot, error)
}
