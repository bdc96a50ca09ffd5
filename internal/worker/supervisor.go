// Package worker implements the worker supervisor (C7, §4.7): it mints a
// process-wide identifier, enumerates shards with startup backoff, and
// keeps a bounded pool of shard readers fed forever, pausing once per
// cycle for the idle reaper's sweep.
package worker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"shardconsumer/internal/config"
	"shardconsumer/internal/lease"
)

// StreamAPI is the subset of the stream adapter the supervisor needs.
type StreamAPI interface {
	EnumerateShards(ctx context.Context) []lease.ShardID
}

// Reaper is the subset of the idle reaper the supervisor needs.
type Reaper interface {
	Sweep(ctx context.Context, shardIDs []lease.ShardID)
}

// Reader is the subset of the shard reader the supervisor needs.
type Reader interface {
	Run(ctx context.Context, worker lease.WorkerID, shardID lease.ShardID)
}

// Supervisor is the worker supervisor (C7).
type Supervisor struct {
	stream   StreamAPI
	reaper   Reaper
	reader   Reader
	poolSize int
	log      *logrus.Logger
}

// New builds a Supervisor with the given pool size (§6.2: 5 in production).
func New(stream StreamAPI, reaper Reaper, reader Reader, poolSize int, log *logrus.Logger) *Supervisor {
	return &Supervisor{stream: stream, reaper: reaper, reader: reader, poolSize: poolSize, log: log}
}

// Run mints a process UUID, starts the bounded worker pool, enumerates
// shards once, and then loops forever over that same list: sweep idle
// ones, dispatch every shard to the pool. It returns only when ctx is
// cancelled.
//
// Dispatch never waits on a shard job to finish: each shard is submitted
// as its own goroutine that blocks on the pool's slot semaphore, so a
// cycle with more in-flight shards than poolSize still returns to the
// reaper sweep immediately instead of stalling behind busy workers.
func (s *Supervisor) Run(ctx context.Context) {
	processID := uuid.NewString()
	s.log.WithField("process_id", processID).Info("worker: starting supervisor")

	slots := make(chan int, s.poolSize)
	for i := 0; i < s.poolSize; i++ {
		slots <- i
	}

	shards := s.enumerateWithBackoff(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		s.reaper.Sweep(ctx, shards)

		for _, shardID := range shards {
			go s.dispatch(ctx, processID, slots, shardID)
		}
	}
}

// dispatch waits for a free pool slot, then runs shardID under the
// WorkerID that slot owns. Submission (the goroutine spawn in Run) never
// blocks; only this goroutine waits on the semaphore.
func (s *Supervisor) dispatch(ctx context.Context, processID string, slots chan int, shardID lease.ShardID) {
	select {
	case slot := <-slots:
		defer func() { slots <- slot }()
		workerID := lease.WorkerID(fmt.Sprintf("%s-%d", processID, slot))
		s.reader.Run(ctx, workerID, shardID)
	case <-ctx.Done():
	}
}

// enumerateWithBackoff calls EnumerateShards up to config.EnumerateMaxAttempts
// times in all, sleeping between attempts with the same exponential backoff
// as the shard reader's fetch loop.
func (s *Supervisor) enumerateWithBackoff(ctx context.Context) []lease.ShardID {
	shards := s.stream.EnumerateShards(ctx)
	for attempt := 0; shards == nil && attempt < config.EnumerateMaxAttempts-1; attempt++ {
		s.log.WithField("attempt", attempt).Warn("worker: describe-stream failed at startup, retrying")
		millis := math.Pow(2, float64(attempt)) * 100
		sleepOrDone(ctx, time.Duration(millis)*time.Millisecond)
		if ctx.Err() != nil {
			return nil
		}
		shards = s.stream.EnumerateShards(ctx)
	}
	return shards
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
