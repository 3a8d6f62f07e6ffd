package persistence

import (
	"ExchangeLedger/internal/core"
	"ExchangeLedger/internal/observability"
	"ExchangeLedger/internal/state"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// RecoveryResult summarizes a startup recovery.
type RecoveryResult struct {
	SnapshotSequence int64 // -1 on cold start
	Replayed         int
	LastSequence     int64 // -1 when the log is empty
	WarmedKeys       int
}

// Recover rebuilds the exchange from the latest verified snapshot plus the
// events logged after it, then warms the request dedup cache.
func Recover(
	ctx context.Context,
	ex *core.Exchange,
	snapshots *SnapshotManager,
	dedup *PostgresIdempotencyChecker,
	warmLimit int,
	logger zerolog.Logger,
) (RecoveryResult, error) {
	res := RecoveryResult{SnapshotSequence: -1, LastSequence: -1}

	snap, err := snapshots.LoadLatestSnapshot(ctx)
	if err != nil {
		return res, err
	}
	if snap != nil {
		if err := ex.RestoreFromSnapshot(snap); err != nil {
			return res, fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		res.SnapshotSequence = snap.Sequence
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored from snapshot")
	} else {
		logger.Info().Msg("no verified snapshot, cold start")
	}

	from := res.SnapshotSequence + 1
	for {
		envs, err := snapshots.LoadEventsFrom(ctx, from, replayPageSize)
		if err != nil {
			return res, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(envs) == 0 {
			break
		}
		if err := ex.Replay(envs); err != nil {
			return res, err
		}
		res.Replayed += len(envs)
		from = envs[len(envs)-1].Sequence + 1
		if len(envs) < replayPageSize {
			break
		}
	}
	res.LastSequence = ex.GetSequence() - 1

	if dedup != nil && warmLimit > 0 {
		keys, err := dedup.RecentKeys(ctx, warmLimit)
		if err != nil {
			return res, fmt.Errorf("warm dedup cache: %w", err)
		}
		ex.WarmLRU(keys)
		res.WarmedKeys = len(keys)
	}

	logger.Info().
		Int64("snapshot_sequence", res.SnapshotSequence).
		Int("replayed", res.Replayed).
		Int64("last_sequence", res.LastSequence).
		Int("warmed_keys", res.WarmedKeys).
		Msg("recovery complete")
	return res, nil
}

// Snapshotter takes a snapshot every interval events and verifies it once
// the persistence worker has written the event it ends at.
type Snapshotter struct {
	ex        *core.Exchange
	snapshots *SnapshotManager
	worker    *PersistenceWorker
	interval  int64
	metrics   *observability.Metrics
	logger    zerolog.Logger

	mu      sync.Mutex
	lastSeq int64
	pending *state.Snapshot
}

func NewSnapshotter(
	ex *core.Exchange,
	snapshots *SnapshotManager,
	worker *PersistenceWorker,
	interval int64,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Snapshotter {
	s := &Snapshotter{
		ex:        ex,
		snapshots: snapshots,
		worker:    worker,
		interval:  interval,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   ex.GetSequence() - 1,
	}
	worker.OnFlushed(s.onFlushed)
	return s
}

// Run checks every tick whether a snapshot is due. Blocks until ctx is done.
func (s *Snapshotter) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			due := s.ex.GetSequence()-1-s.lastSeq >= s.interval
			s.mu.Unlock()
			if due {
				if err := s.Take(ctx); err != nil {
					s.logger.Error().Err(err).Msg("snapshot failed")
				}
			}
		}
	}
}

// Take saves a snapshot of the current state. It stays unverified until
// its last event is persisted.
func (s *Snapshotter) Take(ctx context.Context) error {
	snap := s.ex.Snapshot()
	if snap.Sequence < 0 {
		return nil
	}
	size, err := s.snapshots.SaveSnapshot(ctx, snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.lastSeq = snap.Sequence
	s.pending = snap
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	s.logger.Info().Int64("sequence", snap.Sequence).Int("size_bytes", size).Msg("snapshot saved")

	return s.verifyPending(ctx)
}

func (s *Snapshotter) onFlushed(ctx context.Context, _ []core.CoreOutput) {
	if err := s.verifyPending(ctx); err != nil {
		s.logger.Error().Err(err).Msg("snapshot verification failed")
	}
}

func (s *Snapshotter) verifyPending(ctx context.Context) error {
	s.mu.Lock()
	snap := s.pending
	if snap == nil || s.worker.LastPersisted() < snap.Sequence {
		s.mu.Unlock()
		return nil
	}
	s.pending = nil
	s.mu.Unlock()

	if err := s.snapshots.VerifySnapshot(ctx, snap); err != nil {
		return err
	}
	s.logger.Info().Int64("sequence", snap.Sequence).Msg("snapshot verified")
	return nil
}
