package lease

import "context"

// ClaimOutcome is the result of a ClaimForRead call (§4.4).
type ClaimOutcome int

const (
	// Failed means the caller could not claim the shard (lost a race, or
	// the store call itself failed).
	Failed ClaimOutcome = iota
	// Fresh means the caller now owns the shard with no prior checkpoint;
	// it should open its iterator at the trim horizon.
	Fresh
	// Resumed means the caller now owns the shard and should resume from
	// the carried SequenceNumber.
	Resumed
	// AlreadyHeld means another worker owns the shard; the caller must
	// not read from it.
	AlreadyHeld
)

// ClaimResult is ClaimForRead's return value: an outcome plus, for Resumed,
// the checkpoint to resume from.
type ClaimResult struct {
	Outcome  ClaimOutcome
	Resuming SequenceNumber
}

// Manager is the lease manager (C4, §4.4): claim, validate, advance and
// release shard ownership against the Store (C1).
type Manager struct {
	store *Store
}

// NewManager builds a Manager over the given Store.
func NewManager(store *Store) *Manager {
	return &Manager{store: store}
}

// ClaimForRead attempts to take ownership of shardID for worker, per the
// three-way branch in §4.4.
func (m *Manager) ClaimForRead(ctx context.Context, shardID ShardID, worker WorkerID) ClaimResult {
	current := m.store.Read(ctx, shardID)

	if current == nil {
		if m.store.InsertIfAbsent(ctx, shardID, worker) {
			return ClaimResult{Outcome: Fresh}
		}
		return ClaimResult{Outcome: Failed}
	}

	if !current.IsOwned() {
		if !m.store.ClaimIfUnowned(ctx, shardID, worker) {
			return ClaimResult{Outcome: Failed}
		}
		if current.HasCheckpoint() {
			return ClaimResult{Outcome: Resumed, Resuming: *current.SequenceNumber}
		}
		return ClaimResult{Outcome: Fresh}
	}

	return ClaimResult{Outcome: AlreadyHeld}
}

// ValidateOwnership reports whether worker is still the recorded owner of
// shardID. Used before opening an iterator and periodically during reads.
func (m *Manager) ValidateOwnership(ctx context.Context, shardID ShardID, worker WorkerID) bool {
	current := m.store.Read(ctx, shardID)
	return current.OwnedBy(worker)
}

// Advance checkpoints shardID to seq.
func (m *Manager) Advance(ctx context.Context, shardID ShardID, seq SequenceNumber) bool {
	return m.store.Checkpoint(ctx, shardID, seq)
}

// Release clears shardID's owner.
func (m *Manager) Release(ctx context.Context, shardID ShardID) {
	m.store.ReleaseOwner(ctx, shardID)
}

// CheckpointSnapshot reads shardID's lease and returns its sequence number
// and whether it has an owner, for use by the idle reaper (C6). It returns
// ok=false unless the lease is actively held with progress (§3 I2, §4.6
// step 1): both an owner and a checkpoint present.
func (m *Manager) CheckpointSnapshot(ctx context.Context, shardID ShardID) (seq SequenceNumber, owned bool, ok bool) {
	current := m.store.Read(ctx, shardID)
	if !current.ActivelyHeldWithProgress() {
		return "", false, false
	}
	return *current.SequenceNumber, true, true
}
