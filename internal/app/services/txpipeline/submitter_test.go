package txpipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CurioWorks/commerce_layer/internal/app/services/sequencer"
	"github.com/CurioWorks/commerce_layer/internal/app/storage/memory"
	"github.com/CurioWorks/commerce_layer/internal/chain"
	"github.com/CurioWorks/commerce_layer/internal/events"
)

// scriptedLedger returns pre-seeded broadcast outcomes in order and records
// every broadcast payload.
type scriptedLedger struct {
	mu        sync.Mutex
	sequence  uint64
	sequences []uint64
	outcomes  []error
	broadcast []chain.SignedTx
}

func (l *scriptedLedger) GetAccountSequence(context.Context, string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sequences) > 0 {
		seq := l.sequences[0]
		l.sequences = l.sequences[1:]
		return seq, nil
	}
	return l.sequence, nil
}

func (l *scriptedLedger) BroadcastTx(_ context.Context, tx chain.SignedTx) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broadcast = append(l.broadcast, tx)
	if len(l.outcomes) == 0 {
		return tx.Hash, nil
	}
	out := l.outcomes[0]
	l.outcomes = l.outcomes[1:]
	if out != nil {
		return "", out
	}
	return tx.Hash, nil
}

func (l *scriptedLedger) GetTx(context.Context, string) (*chain.Tx, error) {
	return nil, nil
}

func newSubmitter(t *testing.T, ledger *scriptedLedger, pub events.Publisher) *Submitter {
	t.Helper()
	alloc := sequencer.New(memory.New(), ledger, nil)
	return New(alloc, ledger, pub, nil).WithBackoff(time.Millisecond)
}

func buildAt(t *testing.T) (BuildFunc, *[]uint64) {
	t.Helper()
	var built []uint64
	return func(seq uint64) (chain.SignedTx, error) {
		built = append(built, seq)
		return chain.NewSignedTx([]byte{byte(seq), 0xAB}), nil
	}, &built
}

func TestSubmitHappyPath(t *testing.T) {
	ledger := &scriptedLedger{sequence: 10}
	sub := newSubmitter(t, ledger, nil)
	build, built := buildAt(t)

	res, err := sub.Submit(context.Background(), "signer-a", build)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Sequence != 10 {
		t.Fatalf("sequence = %d, want 10", res.Sequence)
	}
	if len(*built) != 1 || (*built)[0] != 10 {
		t.Fatalf("built at %v, want [10]", *built)
	}
	if res.TxHash == "" {
		t.Fatal("missing tx hash")
	}
}

func TestSubmitDuplicateResolvedLocally(t *testing.T) {
	ledger := &scriptedLedger{
		sequence: 0,
		outcomes: []error{&chain.BroadcastError{Kind: chain.KindDuplicate, Code: -501, Msg: "already exists"}},
	}
	sub := newSubmitter(t, ledger, nil)
	build, _ := buildAt(t)

	res, err := sub.Submit(context.Background(), "signer-a", build)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The hash comes from the signed payload; the node was not re-queried
	// and no second broadcast happened.
	if len(ledger.broadcast) != 1 {
		t.Fatalf("broadcast %d times, want 1", len(ledger.broadcast))
	}
	if res.TxHash != ledger.broadcast[0].Hash {
		t.Fatalf("hash %q, want local hash %q", res.TxHash, ledger.broadcast[0].Hash)
	}
}

func TestSubmitBadSequenceRebuildsOnce(t *testing.T) {
	// The seed query sees 0; the post-mismatch re-query sees 5.
	ledger := &scriptedLedger{
		sequences: []uint64{0, 5},
		outcomes:  []error{&chain.BroadcastError{Kind: chain.KindBadSequence, Code: -504, Msg: "sequence mismatch"}},
	}
	sub := newSubmitter(t, ledger, nil)
	build, built := buildAt(t)

	res, err := sub.Submit(context.Background(), "signer-a", build)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(*built) != 2 {
		t.Fatalf("built %d times, want 2", len(*built))
	}
	if (*built)[1] != 5 {
		t.Fatalf("rebuilt at %d, want 5", (*built)[1])
	}
	if res.Sequence != 5 {
		t.Fatalf("result sequence = %d, want 5", res.Sequence)
	}
}

func TestSubmitBadSequenceFailsAfterSecondRejection(t *testing.T) {
	ledger := &scriptedLedger{
		sequence: 0,
		outcomes: []error{
			&chain.BroadcastError{Kind: chain.KindBadSequence, Code: -504, Msg: "sequence mismatch"},
			&chain.BroadcastError{Kind: chain.KindBadSequence, Code: -504, Msg: "sequence mismatch"},
		},
	}
	rec := &events.Recorder{}
	sub := newSubmitter(t, ledger, rec)
	build, built := buildAt(t)

	if _, err := sub.Submit(context.Background(), "signer-a", build); err == nil {
		t.Fatal("expected terminal failure")
	}
	// Exactly one retry.
	if len(*built) != 2 {
		t.Fatalf("built %d times, want 2", len(*built))
	}

	topics := rec.Topics()
	if len(topics) != 2 || topics[0] != events.TopicChainTxFailed || topics[1] != events.TopicSequenceGap {
		t.Fatalf("topics = %v, want [chain.tx.failed chain.sequence.gap]", topics)
	}
}

func TestSubmitTransientRetriesSameBytes(t *testing.T) {
	ledger := &scriptedLedger{
		sequence: 3,
		outcomes: []error{&chain.BroadcastError{Kind: chain.KindOther, Code: -505, Msg: "insufficient fee"}},
	}
	sub := newSubmitter(t, ledger, nil)
	build, built := buildAt(t)

	res, err := sub.Submit(context.Background(), "signer-a", build)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(*built) != 1 {
		t.Fatalf("transient retry must reuse the signed bytes, built %d times", len(*built))
	}
	if len(ledger.broadcast) != 2 {
		t.Fatalf("broadcast %d times, want 2", len(ledger.broadcast))
	}
	if string(ledger.broadcast[0].Bytes) != string(ledger.broadcast[1].Bytes) {
		t.Fatal("retry broadcast different bytes")
	}
	if res.Sequence != 3 {
		t.Fatalf("sequence = %d, want 3", res.Sequence)
	}
}

func TestSubmitTransientFailsAfterOneRetry(t *testing.T) {
	transient := &chain.BroadcastError{Kind: chain.KindOther, Code: -500, Msg: "verification failed"}
	ledger := &scriptedLedger{sequence: 0, outcomes: []error{transient, transient}}
	rec := &events.Recorder{}
	sub := newSubmitter(t, ledger, rec)
	build, _ := buildAt(t)

	_, err := sub.Submit(context.Background(), "signer-a", build)
	if err == nil {
		t.Fatal("expected terminal failure")
	}
	if !chain.IsBroadcastError(err) {
		t.Fatalf("expected classified broadcast error, got %v", err)
	}
	if len(ledger.broadcast) != 2 {
		t.Fatalf("broadcast %d times, want 2", len(ledger.broadcast))
	}
}

func TestSubmitBuildErrorSkipsBroadcast(t *testing.T) {
	ledger := &scriptedLedger{sequence: 0}
	rec := &events.Recorder{}
	sub := newSubmitter(t, ledger, rec)

	_, err := sub.Submit(context.Background(), "signer-a", func(uint64) (chain.SignedTx, error) {
		return chain.SignedTx{}, errors.New("no key material")
	})
	if err == nil {
		t.Fatal("expected build error")
	}
	if len(ledger.broadcast) != 0 {
		t.Fatalf("broadcast %d times, want 0", len(ledger.broadcast))
	}

	// The slot was allocated and will never be used; the gap must be flagged
	// the same way a terminal broadcast failure is.
	want := []string{events.TopicChainTxFailed, events.TopicSequenceGap}
	got := rec.Topics()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("topics = %v, want %v", got, want)
	}

	// The burned slot is not handed out again.
	build, _ := buildAt(t)
	res, err := sub.Submit(context.Background(), "signer-a", build)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Sequence != 1 {
		t.Fatalf("sequence after burned slot = %d, want 1", res.Sequence)
	}
}

func TestSubmitFailureLeavesSequenceGap(t *testing.T) {
	transient := &chain.BroadcastError{Kind: chain.KindOther, Code: -507, Msg: "policy"}
	ledger := &scriptedLedger{sequence: 20, outcomes: []error{transient, transient}}
	sub := newSubmitter(t, ledger, nil)
	build, _ := buildAt(t)

	if _, err := sub.Submit(context.Background(), "signer-a", build); err == nil {
		t.Fatal("expected failure")
	}

	// The failed slot is burned; the next submission gets a fresh number.
	res, err := sub.Submit(context.Background(), "signer-a", build)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Sequence != 21 {
		t.Fatalf("sequence after gap = %d, want 21", res.Sequence)
	}
}
