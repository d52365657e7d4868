package main

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/observability"
	"github.com/x5th/x-leverage/internal/persistence"
	"github.com/x5th/x-leverage/internal/projection"
)

// snapshotCheckInterval is how often the periodic snapshotter looks at the
// core's sequence.
const snapshotCheckInterval = 10 * time.Second

// adminOps backs the operator endpoints and the periodic snapshotter.
type adminOps struct {
	engine  *core.DeterministicCore
	snapMgr *persistence.SnapshotManager
	db      *sql.DB
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex // serializes snapshots
	lastSeq int64
}

// TakeSnapshot captures and stores the core's state. It returns the last
// sequence the snapshot covers, or -1 when nothing has been processed.
func (a *adminOps) TakeSnapshot(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	st := a.engine.CreateSnapshotState()
	if st.Sequence < 0 {
		return -1, nil
	}

	size, err := a.snapMgr.SaveSnapshot(ctx, persistence.SnapshotDataFromCore(st, time.Now().UTC()), true)
	if err != nil {
		return 0, err
	}
	a.lastSeq = st.Sequence

	a.metrics.SnapshotTaken.Inc()
	a.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	a.metrics.SnapshotSizeBytes.Set(float64(size))
	a.metrics.SnapshotLastSeq.Set(float64(st.Sequence))

	a.logger.Info().Int64("sequence", st.Sequence).Int("bytes", size).Dur("took", time.Since(start)).Msg("snapshot saved")
	return st.Sequence, nil
}

// RebuildProjections discards the read models and rebuilds balances from
// the journal. Positions and the pool repopulate as later events arrive.
func (a *adminOps) RebuildProjections(ctx context.Context) error {
	a.logger.Warn().Msg("rebuilding projections")
	return projection.RebuildProjections(ctx, a.db)
}

// runPeriodic takes a snapshot every interval events until ctx is done.
func (a *adminOps) runPeriodic(ctx context.Context, interval int64) {
	a.mu.Lock()
	a.lastSeq = a.engine.GetSequence() - 1
	a.mu.Unlock()

	ticker := time.NewTicker(snapshotCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			due := a.engine.GetSequence()-1-a.lastSeq >= interval
			a.mu.Unlock()
			if !due {
				continue
			}
			if _, err := a.TakeSnapshot(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}
