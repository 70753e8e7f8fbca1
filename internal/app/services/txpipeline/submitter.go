// Package txpipeline builds, signs, and broadcasts ledger transactions with
// retry and idempotent duplicate handling.
package txpipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/CurioWorks/commerce_layer/internal/app/metrics"
	"github.com/CurioWorks/commerce_layer/internal/app/services/sequencer"
	"github.com/CurioWorks/commerce_layer/internal/chain"
	"github.com/CurioWorks/commerce_layer/internal/events"
	"github.com/CurioWorks/commerce_layer/pkg/logger"
)

// DefaultRetryBackoff is the fixed wait before retrying a transient
// broadcast failure.
const DefaultRetryBackoff = 3 * time.Second

// BuildFunc produces a signed transaction for the given sequence number. It
// is invoked again with the ledger's authoritative sequence if the node
// reports a sequence mismatch.
type BuildFunc func(sequence uint64) (chain.SignedTx, error)

// Result reports a successful submission.
type Result struct {
	TxHash     string
	Sequence   uint64
	SignerAddr string
}

// Submitter drives one transaction from sequence allocation to broadcast.
type Submitter struct {
	alloc   *sequencer.Allocator
	ledger  chain.Ledger
	pub     events.Publisher
	log     *logger.Logger
	backoff time.Duration
}

// New constructs a submitter.
func New(alloc *sequencer.Allocator, ledger chain.Ledger, pub events.Publisher, log *logger.Logger) *Submitter {
	if log == nil {
		log = logger.NewDefault("txpipeline")
	}
	if pub == nil {
		pub = events.Noop{}
	}
	return &Submitter{
		alloc:   alloc,
		ledger:  ledger,
		pub:     pub,
		log:     log,
		backoff: DefaultRetryBackoff,
	}
}

// WithBackoff overrides the transient-retry backoff, mainly for tests.
func (s *Submitter) WithBackoff(d time.Duration) *Submitter {
	s.backoff = d
	return s
}

// Submit allocates a sequence, builds and broadcasts the signed transaction,
// and applies the classified retry rules:
//   - duplicate: treated as success; the hash is recomputed locally from the
//     signed payload, never re-queried from the node
//   - bad sequence: re-query the authoritative sequence, rebuild, retry once
//   - other: fixed backoff, retry the same signed bytes once
//
// A terminal failure is published as a chain.tx.failed event (and a
// chain.sequence.gap event, since the allocated slot is never reused) before
// the error is returned.
func (s *Submitter) Submit(ctx context.Context, signerAddr string, build BuildFunc) (Result, error) {
	seq, err := s.alloc.Allocate(ctx, signerAddr)
	if err != nil {
		return Result{}, err
	}

	signed, err := build(seq)
	if err != nil {
		// The allocated slot is burned even though nothing was broadcast.
		err = fmt.Errorf("build signed tx at sequence %d: %w", seq, err)
		s.reportFailure(ctx, signerAddr, seq, err)
		return Result{}, err
	}

	hash, err := s.broadcastOnce(ctx, signed)
	if err != nil {
		hash, seq, err = s.retry(ctx, signerAddr, seq, signed, build, err)
	}
	if err != nil {
		s.reportFailure(ctx, signerAddr, seq, err)
		return Result{}, err
	}

	// Advisory bookkeeping only; a failure here never fails the submission.
	if rerr := s.alloc.RecordConfirmed(ctx, signerAddr, seq); rerr != nil {
		s.log.WithError(rerr).WithField("signer", signerAddr).Warn("record confirmed sequence")
	}

	return Result{TxHash: hash, Sequence: seq, SignerAddr: signerAddr}, nil
}

// broadcastOnce broadcasts and resolves the duplicate case locally.
func (s *Submitter) broadcastOnce(ctx context.Context, signed chain.SignedTx) (string, error) {
	hash, err := s.ledger.BroadcastTx(ctx, signed)
	if err == nil {
		return hash, nil
	}
	if chain.BroadcastKind(err) == chain.KindDuplicate {
		// The node already holds this exact transaction. The hash is
		// deterministic from the signed payload, so no re-query is needed.
		return signed.Hash, nil
	}
	return "", err
}

// retry applies exactly one retry according to the error classification.
func (s *Submitter) retry(ctx context.Context, signerAddr string, seq uint64, signed chain.SignedTx, build BuildFunc, cause error) (string, uint64, error) {
	kind := chain.BroadcastKind(cause)
	metrics.RecordBroadcastRetry(kind.String())

	switch kind {
	case chain.KindBadSequence:
		authoritative, err := s.ledger.GetAccountSequence(ctx, signerAddr)
		if err != nil {
			return "", seq, fmt.Errorf("re-query sequence after mismatch: %w", err)
		}
		s.log.WithField("signer", signerAddr).
			WithField("allocated", seq).
			WithField("authoritative", authoritative).
			Warn("sequence mismatch, rebuilding")

		rebuilt, err := build(authoritative)
		if err != nil {
			return "", authoritative, fmt.Errorf("rebuild signed tx at sequence %d: %w", authoritative, err)
		}
		hash, err := s.broadcastOnce(ctx, rebuilt)
		return hash, authoritative, err

	default:
		select {
		case <-ctx.Done():
			return "", seq, ctx.Err()
		case <-time.After(s.backoff):
		}
		hash, err := s.broadcastOnce(ctx, signed)
		return hash, seq, err
	}
}

func (s *Submitter) reportFailure(ctx context.Context, signerAddr string, seq uint64, cause error) {
	s.log.WithError(cause).
		WithField("signer", signerAddr).
		WithField("sequence", seq).
		Error("transaction broadcast permanently failed; sequence slot will not be reused")

	metrics.RecordSequenceGap()
	s.pub.Publish(ctx, events.TopicChainTxFailed, map[string]interface{}{
		"signer":   signerAddr,
		"sequence": seq,
		"error":    cause.Error(),
	})
	s.pub.Publish(ctx, events.TopicSequenceGap, map[string]interface{}{
		"signer":   signerAddr,
		"sequence": seq,
	})
}
