package lease

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

func testManager() (*Manager, *fakeDynamoDB) {
	fake := newFakeDynamoDB()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	store := NewStore(fake, "leases", log)
	return NewManager(store), fake
}

// S1: empty store, one worker claims a never-before-seen shard.
func TestClaimForRead_FreshOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	mgr, _ := testManager()

	result := mgr.ClaimForRead(ctx, "sh-000", "W1")
	if result.Outcome != Fresh {
		t.Fatalf("expected Fresh, got %v", result.Outcome)
	}

	ok := mgr.ValidateOwnership(ctx, "sh-000", "W1")
	if !ok {
		t.Fatal("expected W1 to own sh-000 after Fresh claim")
	}
}

// S2: a lease already owned by W1 is not claimable by W2.
func TestClaimForRead_AlreadyHeld(t *testing.T) {
	ctx := context.Background()
	mgr, _ := testManager()

	if res := mgr.ClaimForRead(ctx, "sh-000", "W1"); res.Outcome != Fresh {
		t.Fatalf("setup: expected Fresh, got %v", res.Outcome)
	}

	result := mgr.ClaimForRead(ctx, "sh-000", "W2")
	if result.Outcome != AlreadyHeld {
		t.Fatalf("expected AlreadyHeld, got %v", result.Outcome)
	}
}

// S3: two workers race to claim a released, checkpointed shard; exactly
// one resumes, the other fails, and the switch counter increments by one.
func TestClaimForRead_ResumedRaceHasOneWinner(t *testing.T) {
	ctx := context.Background()
	mgr, _ := testManager()

	mgr.ClaimForRead(ctx, "sh-000", "W1")
	mgr.Advance(ctx, "sh-000", "seq-200")
	mgr.Release(ctx, "sh-000")

	var wg sync.WaitGroup
	results := make([]ClaimResult, 2)
	workers := []WorkerID{"W2", "W3"}
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = mgr.ClaimForRead(ctx, "sh-000", workers[i])
		}(i)
	}
	wg.Wait()

	resumedCount, failedCount := 0, 0
	var resumedSeq SequenceNumber
	for _, r := range results {
		switch r.Outcome {
		case Resumed:
			resumedCount++
			resumedSeq = r.Resuming
		case Failed:
			failedCount++
		}
	}

	if resumedCount != 1 || failedCount != 1 {
		t.Fatalf("expected exactly one Resumed and one Failed, got resumed=%d failed=%d", resumedCount, failedCount)
	}
	if resumedSeq != "seq-200" {
		t.Fatalf("expected resumed sequence seq-200, got %q", resumedSeq)
	}

	// W1's insert set the counter to 1; the one successful claim adds 1.
	lease := mgr.store.Read(ctx, "sh-000")
	if lease.NumberOfOwnersSwitched != 2 {
		t.Fatalf("expected switch counter 2, got %d", lease.NumberOfOwnersSwitched)
	}
}

// P1/P2: fuzz N concurrent claimers against a common never-before-seen
// shard; exactly one observes success and the switch counter lands at 1.
func TestClaimForRead_ConcurrentClaimersExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	mgr, fake := testManager()

	const n = 20
	var wg sync.WaitGroup
	outcomes := make([]ClaimOutcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = mgr.ClaimForRead(ctx, "sh-race", WorkerID(string(rune('A'+i)))).Outcome
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, o := range outcomes {
		if o == Fresh {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	_ = fake
	lease := mgr.store.Read(ctx, "sh-race")
	if lease.NumberOfOwnersSwitched != 1 {
		t.Fatalf("expected switch counter 1, got %d", lease.NumberOfOwnersSwitched)
	}
}

// P3: Advance followed by Read yields the checkpointed sequence number.
func TestAdvanceThenRead(t *testing.T) {
	ctx := context.Background()
	mgr, _ := testManager()

	mgr.ClaimForRead(ctx, "sh-000", "W1")
	if !mgr.Advance(ctx, "sh-000", "seq-99") {
		t.Fatal("expected Advance to succeed")
	}

	seq, owned, ok := mgr.CheckpointSnapshot(ctx, "sh-000")
	if !ok || !owned || seq != "seq-99" {
		t.Fatalf("expected checkpoint seq-99 owned=true, got seq=%q owned=%v ok=%v", seq, owned, ok)
	}
}

func TestValidateOwnership_FalseWhenUnowned(t *testing.T) {
	ctx := context.Background()
	mgr, _ := testManager()

	if mgr.ValidateOwnership(ctx, "sh-nope", "W1") {
		t.Fatal("expected ValidateOwnership to be false for a nonexistent shard")
	}
}

func TestRelease_ClearsOwner(t *testing.T) {
	ctx := context.Background()
	mgr, _ := testManager()

	mgr.ClaimForRead(ctx, "sh-000", "W1")
	mgr.Release(ctx, "sh-000")

	if mgr.ValidateOwnership(ctx, "sh-000", "W1") {
		t.Fatal("expected W1 to no longer own sh-000 after Release")
	}

	result := mgr.ClaimForRead(ctx, "sh-000", "W2")
	if result.Outcome != Fresh {
		t.Fatalf("expected Fresh for W2 after release (no checkpoint set), got %v", result.Outcome)
	}
}
