package sequencer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/CurioWorks/commerce_layer/internal/app/storage/memory"
)

type fakeLedger struct {
	mu       sync.Mutex
	sequence uint64
	calls    int
	err      error
}

func (f *fakeLedger) GetAccountSequence(_ context.Context, _ string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.sequence, nil
}

func TestAllocateSeedsFromLedger(t *testing.T) {
	ledger := &fakeLedger{sequence: 42}
	alloc := New(memory.New(), ledger, nil)

	seq, err := alloc.Allocate(context.Background(), "signer-a")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if seq != 42 {
		t.Fatalf("first allocation = %d, want 42", seq)
	}

	seq, err = alloc.Allocate(context.Background(), "signer-a")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if seq != 43 {
		t.Fatalf("second allocation = %d, want 43", seq)
	}
	if ledger.calls != 1 {
		t.Fatalf("ledger queried %d times, want 1", ledger.calls)
	}
}

func TestAllocateRequiresSigner(t *testing.T) {
	alloc := New(memory.New(), &fakeLedger{}, nil)
	if _, err := alloc.Allocate(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty signer address")
	}
}

func TestAllocateSeedFailurePersistsNothing(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("node down")}
	store := memory.New()
	alloc := New(store, ledger, nil)

	if _, err := alloc.Allocate(context.Background(), "signer-a"); err == nil {
		t.Fatal("expected seed failure")
	}

	// The failed transaction must not have created the counter; the next
	// call seeds again once the ledger recovers.
	ledger.mu.Lock()
	ledger.err = nil
	ledger.sequence = 7
	ledger.mu.Unlock()

	seq, err := alloc.Allocate(context.Background(), "signer-a")
	if err != nil {
		t.Fatalf("Allocate after recovery: %v", err)
	}
	if seq != 7 {
		t.Fatalf("allocation = %d, want 7", seq)
	}
}

func TestAllocateConcurrentContiguous(t *testing.T) {
	const n = 64
	alloc := New(memory.New(), &fakeLedger{sequence: 100}, nil)

	results := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq, err := alloc.Allocate(context.Background(), "signer-a")
			if err != nil {
				t.Errorf("Allocate: %v", err)
				return
			}
			results[i] = seq
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, seq := range results {
		if want := uint64(100 + i); seq != want {
			t.Fatalf("allocations not contiguous at %d: got %d, want %d", i, seq, want)
		}
	}
}

func TestAllocateIndependentSigners(t *testing.T) {
	alloc := New(memory.New(), &fakeLedger{sequence: 5}, nil)

	a, err := alloc.Allocate(context.Background(), "signer-a")
	if err != nil {
		t.Fatalf("Allocate a: %v", err)
	}
	b, err := alloc.Allocate(context.Background(), "signer-b")
	if err != nil {
		t.Fatalf("Allocate b: %v", err)
	}
	if a != 5 || b != 5 {
		t.Fatalf("independent signers share no counter: got %d and %d, want 5 each", a, b)
	}
}

func TestRecordConfirmedMonotonic(t *testing.T) {
	store := memory.New()
	alloc := New(store, &fakeLedger{sequence: 0}, nil)
	ctx := context.Background()

	if _, err := alloc.Allocate(ctx, "signer-a"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if err := alloc.RecordConfirmed(ctx, "signer-a", 9); err != nil {
		t.Fatalf("RecordConfirmed: %v", err)
	}
	// Lower confirmations never move the watermark back.
	if err := alloc.RecordConfirmed(ctx, "signer-a", 4); err != nil {
		t.Fatalf("RecordConfirmed lower: %v", err)
	}

	c, err := store.GetSequenceCounter(ctx, "signer-a")
	if err != nil {
		t.Fatalf("GetSequenceCounter: %v", err)
	}
	if c.HighestConfirmed != 9 {
		t.Fatalf("HighestConfirmed = %d, want 9", c.HighestConfirmed)
	}
}
