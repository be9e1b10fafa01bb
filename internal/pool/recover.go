package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hicpool/pool-engine/internal/config"
	"github.com/hicpool/pool-engine/internal/model"
	"github.com/hicpool/pool-engine/internal/store"
)

// Archive is a journal that can hand back its latest snapshot and drop
// events that no snapshot covers.
type Archive interface {
	Journal
	LatestSnapshot(ctx context.Context) (*model.Snapshot, error)
	TruncateEvents(ctx context.Context, afterSeq uint64) (int64, error)
}

// Recover resumes the pool held in a. The state is taken from the latest
// snapshot; journal events committed after it cannot be replayed and are
// dropped so that new events reuse their sequence numbers cleanly. An
// empty archive yields a freshly deployed pool. The archive becomes the
// journal of the returned Ecosystem.
func Recover(ctx context.Context, params config.Params, deployer model.Address, a Archive, opts ...Option) (*Ecosystem, error) {
	opts = append(opts, WithJournal(a))

	snap, err := a.LatestSnapshot(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		snap = nil
	case err != nil:
		return nil, fmt.Errorf("pool: load snapshot: %w", err)
	}
	var e *Ecosystem
	var lastSeq uint64
	if snap == nil {
		slog.Info("no snapshot found, deploying fresh pool", "deployer", deployer)
		e = New(params, deployer, opts...)
	} else {
		if e, err = Restore(params, *snap, opts...); err != nil {
			return nil, err
		}
		lastSeq = snap.LastSeq
		slog.Info("pool restored", "snapshot", snap.ID, "pool_day", snap.Day, "last_seq", snap.LastSeq)
	}

	dropped, err := a.TruncateEvents(ctx, lastSeq)
	if err != nil {
		return nil, fmt.Errorf("pool: truncate journal after seq %d: %w", lastSeq, err)
	}
	if dropped > 0 {
		slog.Warn("journal events newer than the latest snapshot dropped", "events", dropped, "snapshot_seq", lastSeq)
	}
	return e, nil
}
