// Package storage defines the persistence contracts for the commerce layer.
package storage

import (
	"context"
	"time"

	"github.com/CurioWorks/commerce_layer/internal/app/domain/listing"
	"github.com/CurioWorks/commerce_layer/internal/app/domain/purchase"
	"github.com/CurioWorks/commerce_layer/internal/app/domain/signer"
)

// Tx exposes read/write handles inside one store transaction. Reads observe
// the transaction's own writes; the whole transaction is rejected if any read
// row was mutated concurrently (postgres: row locks / serialization failure).
type Tx interface {
	// GetSequenceCounter returns the counter for a signer, or a not-found
	// error if the signer has never allocated.
	GetSequenceCounter(ctx context.Context, signerAddr string) (signer.SequenceCounter, error)
	// PutSequenceCounter upserts the counter row.
	PutSequenceCounter(ctx context.Context, c signer.SequenceCounter) error

	GetListing(ctx context.Context, id string) (listing.Listing, error)
	UpdateListing(ctx context.Context, l listing.Listing) error

	// CreatePurchase fails with a conflict, distinct from update, when a
	// record with the same ID or gateway session already exists. This is
	// what makes checkout record creation exactly-once.
	CreatePurchase(ctx context.Context, p purchase.Purchase) error
	UpdatePurchase(ctx context.Context, p purchase.Purchase) error
	GetPurchase(ctx context.Context, id string) (purchase.Purchase, error)
	GetPurchaseBySession(ctx context.Context, sessionID string) (purchase.Purchase, error)

	CreateChainTx(ctx context.Context, tx purchase.ChainTx) error
}

// TxRunner runs a function inside one all-or-nothing store transaction.
type TxRunner interface {
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store combines transactional access with the plain reads used by handlers
// and background jobs.
type Store interface {
	TxRunner

	CreateListing(ctx context.Context, l listing.Listing) (listing.Listing, error)
	GetListing(ctx context.Context, id string) (listing.Listing, error)
	// ListStuckListings returns listings whose processing lock has been held
	// since before the cutoff. Used by the watchdog for alerting only.
	ListStuckListings(ctx context.Context, cutoff time.Time) ([]listing.Listing, error)

	GetPurchase(ctx context.Context, id string) (purchase.Purchase, error)
	GetPurchaseBySession(ctx context.Context, sessionID string) (purchase.Purchase, error)
	GetChainTx(ctx context.Context, id string) (purchase.ChainTx, error)

	GetSequenceCounter(ctx context.Context, signerAddr string) (signer.SequenceCounter, error)
}
