// Package reader implements the shard reader (C5, §4.5): the per-shard read
// loop that claims a lease, pulls record batches, ships them through the
// sink, and checkpoints progress. A single Reader is shared by all worker
// goroutines; each Run call drives one shard on its caller's goroutine.
package reader

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"shardconsumer/internal/config"
	"shardconsumer/internal/lease"
	"shardconsumer/internal/streamadapter"
)

// LeaseAPI is the subset of the lease manager a Reader needs.
type LeaseAPI interface {
	ClaimForRead(ctx context.Context, shardID lease.ShardID, worker lease.WorkerID) lease.ClaimResult
	ValidateOwnership(ctx context.Context, shardID lease.ShardID, worker lease.WorkerID) bool
	Advance(ctx context.Context, shardID lease.ShardID, seq lease.SequenceNumber) bool
	Release(ctx context.Context, shardID lease.ShardID)
}

// StreamAPI is the subset of the stream adapter a Reader needs.
type StreamAPI interface {
	OpenIterator(ctx context.Context, shardID lease.ShardID, seq lease.SequenceNumber) (streamadapter.Iterator, error)
	Fetch(ctx context.Context, iter streamadapter.Iterator, limit int32) ([]lease.Record, streamadapter.Iterator, error)
}

// SinkAPI is the subset of the sink adapter a Reader needs.
type SinkAPI interface {
	ShipBatch(ctx context.Context, records []lease.Record) bool
}

// state names the shard reader's explicit states (§9, §4.5).
type state int

const (
	stateClaiming state = iota
	stateOpening
	stateReading
	stateBackoff
	stateShipping
	stateDone
)

// Reader runs the per-shard read loop for one (worker, shard) pair.
type Reader struct {
	leases LeaseAPI
	stream StreamAPI
	sink   SinkAPI
	log    *logrus.Logger
}

// New builds a Reader.
func New(leases LeaseAPI, stream StreamAPI, sink SinkAPI, log *logrus.Logger) *Reader {
	return &Reader{leases: leases, stream: stream, sink: sink, log: log}
}

// Run drives shardID to completion for worker: claim, read until exhausted,
// ownership is lost, or the fetch retry budget is spent, then return.
func (r *Reader) Run(ctx context.Context, worker lease.WorkerID, shardID lease.ShardID) {
	logEntry := r.log.WithFields(logrus.Fields{"shard_id": shardID, "worker_id": worker})

	st := stateClaiming
	var cursor lease.SequenceNumber
	var iter streamadapter.Iterator
	var retries int
	var readsSinceValidation int
	var pendingBatch []lease.Record

	for {
		switch st {
		case stateClaiming:
			result := r.leases.ClaimForRead(ctx, shardID, worker)
			switch result.Outcome {
			case lease.Fresh:
				cursor = ""
			case lease.Resumed:
				cursor = result.Resuming
			case lease.AlreadyHeld:
				logEntry.Debug("reader: shard already owned, skipping")
				st = stateDone
				continue
			case lease.Failed:
				logEntry.Debug("reader: lost the claim race, skipping")
				st = stateDone
				continue
			}
			st = stateOpening

		case stateOpening:
			if !r.leases.ValidateOwnership(ctx, shardID, worker) {
				logEntry.Warn("reader: ownership lost before opening iterator, stopping")
				st = stateDone
				continue
			}

			opened, err := r.stream.OpenIterator(ctx, shardID, cursor)
			if err != nil {
				logEntry.WithError(err).Error("reader: failed to open shard iterator")
				st = stateDone
				continue
			}
			iter = opened
			retries = 0
			readsSinceValidation = 0
			st = stateReading

		case stateReading:
			readsSinceValidation++
			if readsSinceValidation == config.ReadsBetweenValidation {
				readsSinceValidation = 0
				if !r.leases.ValidateOwnership(ctx, shardID, worker) {
					logEntry.Warn("reader: ownership lost mid-read, stopping")
					st = stateDone
					continue
				}
			}

			batch, next, err := r.stream.Fetch(ctx, iter, config.FetchBatchLimit)
			if err != nil {
				retries++
				if retries >= config.MaxFetchRetries {
					logEntry.WithError(err).Error("reader: exhausted fetch retries, releasing lease")
					r.leases.Release(ctx, shardID)
					st = stateDone
					continue
				}
				logEntry.WithError(err).WithField("retries", retries).Warn("reader: fetch failed, backing off")
				st = stateBackoff
				continue
			}
			retries = 0

			if len(batch) == 0 {
				if next == "" {
					logEntry.Debug("reader: shard exhausted")
					st = stateDone
					continue
				}
				iter = next
				continue
			}

			pendingBatch = batch
			cursor = batch[len(batch)-1].SequenceNumber
			if next != "" {
				iter = next
			} else {
				iter = ""
			}
			st = stateShipping

		case stateBackoff:
			sleepOrDone(ctx, backoffFor(retries))
			if ctx.Err() != nil {
				st = stateDone
				continue
			}
			st = stateReading

		case stateShipping:
			if !r.sink.ShipBatch(ctx, pendingBatch) {
				logEntry.Error("reader: shipping failed, stopping shard read")
				st = stateDone
				continue
			}
			if !r.leases.Advance(ctx, shardID, cursor) {
				logEntry.Warn("reader: checkpoint write failed")
			}
			pendingBatch = nil

			if iter == "" {
				logEntry.Debug("reader: shard exhausted")
				st = stateDone
				continue
			}
			st = stateReading

		case stateDone:
			return
		}
	}
}

// backoffFor computes the exponential backoff for a given retry count:
// 2^retries * 100ms.
func backoffFor(retries int) time.Duration {
	millis := math.Pow(2, float64(retries)) * 100
	return time.Duration(millis) * time.Millisecond
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
