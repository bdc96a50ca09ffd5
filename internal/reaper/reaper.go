// Package reaper implements the idle-shard reaper (C6, §4.6): it snapshots
// each shard's checkpoint, waits out the idle window, and releases any
// shard whose checkpoint hasn't moved — freeing it for a worker that is
// actually making progress to pick up.
package reaper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"shardconsumer/internal/lease"
)

// LeaseAPI is the subset of the lease manager the reaper needs.
type LeaseAPI interface {
	CheckpointSnapshot(ctx context.Context, shardID lease.ShardID) (seq lease.SequenceNumber, owned bool, ok bool)
	Release(ctx context.Context, shardID lease.ShardID)
}

// Reaper is the idle-shard reaper (C6).
type Reaper struct {
	leases LeaseAPI
	window time.Duration
	log    *logrus.Logger
}

// New builds a Reaper with the given idle window (§4.6, §6.2: 5 minutes in
// production; tests pass a shorter window).
func New(leases LeaseAPI, window time.Duration, log *logrus.Logger) *Reaper {
	return &Reaper{leases: leases, window: window, log: log}
}

// Sweep snapshots shardIDs' checkpoints, waits out the idle window, then
// releases any shard whose sequence number hasn't advanced (§4.6). It
// returns early if ctx is cancelled during the wait, releasing nothing.
func (r *Reaper) Sweep(ctx context.Context, shardIDs []lease.ShardID) {
	before := make(map[lease.ShardID]lease.SequenceNumber, len(shardIDs))
	for _, id := range shardIDs {
		if seq, _, ok := r.leases.CheckpointSnapshot(ctx, id); ok {
			before[id] = seq
		}
	}

	if !sleepOrDone(ctx, r.window) {
		return
	}

	for _, id := range shardIDs {
		seq, owned, ok := r.leases.CheckpointSnapshot(ctx, id)
		if !ok || !owned {
			continue
		}
		prior, hadPrior := before[id]
		if hadPrior && prior == seq {
			r.log.WithField("shard_id", id).Info("reaper: shard idle, releasing")
			r.leases.Release(ctx, id)
		}
	}
}

// sleepOrDone waits for d or ctx cancellation, reporting whether it slept
// the full duration.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
