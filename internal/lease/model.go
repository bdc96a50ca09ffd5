// Package lease implements the shard ownership protocol: the data model
// (§3), the coordination store adapter (C1, §4.1) and the lease manager
// (C4, §4.4). Leases are values in a shared store, never in-process
// pointers — release is always an explicit store write (§9).
package lease

// ShardID identifies a partition of the upstream stream.
type ShardID string

// WorkerID identifies one (process, thread) pair reading a shard. Built by
// the worker supervisor as "<process-uuid>-<thread-identifier>"; two
// concurrent readers never share one.
type WorkerID string

// SequenceNumber is the stream's native, per-shard totally ordered cursor.
type SequenceNumber string

// Record is one (sequence number, payload) pair from a RecordBatch.
type Record struct {
	SequenceNumber SequenceNumber
	Data           []byte
}

// Lease is the persisted ownership+checkpoint record for one shard (§3).
// OwnerID and SequenceNumber are pointers so their absence (null in the
// store) is distinguishable from the empty string.
type Lease struct {
	ShardID                ShardID
	OwnerID                *WorkerID
	SequenceNumber         *SequenceNumber
	NumberOfOwnersSwitched int64
}

// IsOwned reports whether the lease currently has an owner.
func (l *Lease) IsOwned() bool {
	return l != nil && l.OwnerID != nil && *l.OwnerID != ""
}

// HasCheckpoint reports whether the lease has a recorded sequence number.
func (l *Lease) HasCheckpoint() bool {
	return l != nil && l.SequenceNumber != nil
}

// ActivelyHeldWithProgress is I2: an owned lease with a checkpoint.
func (l *Lease) ActivelyHeldWithProgress() bool {
	return l.IsOwned() && l.HasCheckpoint()
}

// OwnedBy reports whether worker is the current owner.
func (l *Lease) OwnedBy(worker WorkerID) bool {
	return l.IsOwned() && *l.OwnerID == worker
}
