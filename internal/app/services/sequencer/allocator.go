// Package sequencer issues unique, monotonically increasing per-signer
// sequence numbers backed by the shared transactional store.
package sequencer

import (
	"context"
	"fmt"

	"github.com/CurioWorks/commerce_layer/internal/app/core"
	"github.com/CurioWorks/commerce_layer/internal/app/domain/signer"
	"github.com/CurioWorks/commerce_layer/internal/app/storage"
	"github.com/CurioWorks/commerce_layer/pkg/logger"
)

// SequenceQuerier is the one ledger call the allocator needs: the account's
// authoritative on-chain sequence, used to seed a fresh counter.
type SequenceQuerier interface {
	GetAccountSequence(ctx context.Context, address string) (uint64, error)
}

// Allocator hands out sequence numbers. Mutual exclusion comes from the
// store transaction, not an in-process mutex, because the service runs as
// multiple stateless instances.
type Allocator struct {
	store  storage.TxRunner
	ledger SequenceQuerier
	log    *logger.Logger
}

// New constructs an allocator.
func New(store storage.TxRunner, ledger SequenceQuerier, log *logger.Logger) *Allocator {
	if log == nil {
		log = logger.NewDefault("sequencer")
	}
	return &Allocator{store: store, ledger: ledger, log: log}
}

// Allocate returns the next sequence number for signerAddr. Under N
// concurrent calls the returned values are a contiguous permutation of
// [start, start+N): the counter row is read-incremented-written inside one
// store transaction, and an absent counter is lazily seeded from the ledger.
// On transaction failure no partial state is persisted; the caller retries
// the whole allocation.
func (a *Allocator) Allocate(ctx context.Context, signerAddr string) (uint64, error) {
	if signerAddr == "" {
		return 0, core.RequiredError("signer address")
	}

	var seq uint64
	err := a.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		counter, err := tx.GetSequenceCounter(ctx, signerAddr)
		switch {
		case core.IsNotFound(err):
			onchain, lerr := a.ledger.GetAccountSequence(ctx, signerAddr)
			if lerr != nil {
				return fmt.Errorf("seed counter for %s: %w", signerAddr, lerr)
			}
			counter = signer.SequenceCounter{SignerAddr: signerAddr, NextSequence: onchain}
			a.log.WithField("signer", signerAddr).
				WithField("sequence", onchain).
				Info("seeded sequence counter from ledger")
		case err != nil:
			return err
		}

		seq = counter.NextSequence
		counter.NextSequence = seq + 1
		return tx.PutSequenceCounter(ctx, counter)
	})
	if err != nil {
		return 0, core.WrapServiceError("sequencer", "Allocate", err)
	}
	return seq, nil
}

// RecordConfirmed advances the advisory highest-confirmed sequence for a
// signer. It only ever moves forward and is never consulted for allocation.
func (a *Allocator) RecordConfirmed(ctx context.Context, signerAddr string, seq uint64) error {
	err := a.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		counter, err := tx.GetSequenceCounter(ctx, signerAddr)
		if err != nil {
			return err
		}
		if seq <= counter.HighestConfirmed {
			return nil
		}
		counter.HighestConfirmed = seq
		return tx.PutSequenceCounter(ctx, counter)
	})
	return core.WrapServiceError("sequencer", "RecordConfirmed", err)
}
