// Package settlement owns the purchase lifecycle of a sellable unit: lock
// acquisition, price computation, stock decrement, and the transition to a
// terminal state. All mutual exclusion is expressed as store transactions so
// the logic is correct across multiple stateless processes.
package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/CurioWorks/commerce_layer/internal/app/core"
	"github.com/CurioWorks/commerce_layer/internal/app/domain/purchase"
	"github.com/CurioWorks/commerce_layer/internal/app/metrics"
	"github.com/CurioWorks/commerce_layer/internal/app/services/txpipeline"
	"github.com/CurioWorks/commerce_layer/internal/app/storage"
	"github.com/CurioWorks/commerce_layer/internal/events"
	"github.com/CurioWorks/commerce_layer/pkg/logger"
)

// Acquisition is the priced claim on a listing returned by Acquire. The
// caller must end it with either Fulfill or Release.
type Acquisition struct {
	ListingID  string
	SignerAddr string
	Quantity   int64
	Batch      int64
	UnitPrice  int64
	Total      int64
}

// Service is the purchase settlement state machine.
type Service struct {
	store     storage.Store
	curve     *Curve
	submitter *txpipeline.Submitter
	pub       events.Publisher
	log       *logger.Logger
}

// New constructs the settlement service.
func New(store storage.Store, curve *Curve, submitter *txpipeline.Submitter, pub events.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("settlement")
	}
	if pub == nil {
		pub = events.Noop{}
	}
	return &Service{store: store, curve: curve, submitter: submitter, pub: pub, log: log}
}

// Curve exposes the pricing curve for read-only price quotes.
func (s *Service) Curve() *Curve { return s.curve }

// Acquire takes the exclusive processing lock on a listing and computes the
// price under the same transaction, so two concurrent buyers can never
// observe and pay the same lowest available batch. Quantity-aware: the stock
// check verifies stock-quantity >= 0 before locking.
func (s *Service) Acquire(ctx context.Context, listingID string, quantity int64) (Acquisition, error) {
	if quantity < 1 {
		return Acquisition{}, core.NewValidationError("", "quantity", "must be at least 1")
	}

	var acq Acquisition
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		l, err := tx.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if l.IsProcessing {
			return core.NewConflictError(core.CodeAlreadyProcessing, "listing", listingID, "another purchase is in flight")
		}
		if !l.Available(quantity) {
			return core.NewConflictError(core.CodeOutOfStock, "listing", listingID, "insufficient stock")
		}

		acq = Acquisition{
			ListingID:  l.ID,
			SignerAddr: l.SignerAddr,
			Quantity:   quantity,
			Batch:      l.Batch,
			UnitPrice:  s.curve.Price(l.Batch),
			Total:      s.curve.Total(l.Batch, quantity),
		}

		l.IsProcessing = true
		l.ProcessingAt = time.Now().UTC()
		return tx.UpdateListing(ctx, l)
	})
	if err != nil {
		return Acquisition{}, core.WrapServiceError("settlement", "Acquire", err)
	}
	return acq, nil
}

// Lock takes the processing lock without a stock check or price quote. Claims
// use it: stock was already decremented when the purchase was paid, and only
// the deferred delivery remains to be serialized.
func (s *Service) Lock(ctx context.Context, listingID string) error {
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		l, err := tx.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if l.IsProcessing {
			return core.NewConflictError(core.CodeAlreadyProcessing, "listing", listingID, "another purchase is in flight")
		}
		l.IsProcessing = true
		l.ProcessingAt = time.Now().UTC()
		return tx.UpdateListing(ctx, l)
	})
	return core.WrapServiceError("settlement", "Lock", err)
}

// CompleteClaim commits a claimed delivery in one transaction: the purchase
// advances past pending_claim, the chain-tx record is written, and the lock
// clears. Stock is untouched; it moved when the purchase was paid.
func (s *Service) CompleteClaim(ctx context.Context, listingID string, p *purchase.Purchase, ct *purchase.ChainTx) error {
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		l, err := tx.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		l.IsProcessing = false
		l.ProcessingAt = time.Time{}
		if err := tx.UpdateListing(ctx, l); err != nil {
			return err
		}

		if ct != nil {
			if ct.ID == "" {
				ct.ID = uuid.NewString()
			}
			if err := tx.CreateChainTx(ctx, *ct); err != nil {
				return err
			}
			p.ChainTxID = ct.ID
		}
		return tx.UpdatePurchase(ctx, *p)
	})
	return core.WrapServiceError("settlement", "CompleteClaim", err)
}

// Fulfill commits the success path in one transaction: stock decrement, sold
// count and batch advance, purchase and chain-tx record writes, and lock
// release. Interrupted before commit, nothing applies and the lock holder
// retains the lock; there is no state where stock moved but the lock leaked.
//
// The purchase record is updated in place when the store already knows p.ID
// (both checkout and on-chain flows create it before delivery) and created
// otherwise.
func (s *Service) Fulfill(ctx context.Context, acq Acquisition, p *purchase.Purchase, ct *purchase.ChainTx) error {
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		l, err := tx.GetListing(ctx, acq.ListingID)
		if err != nil {
			return err
		}

		l.Stock -= acq.Quantity
		l.SoldCount += acq.Quantity
		l.Batch += acq.Quantity
		l.IsProcessing = false
		if err := tx.UpdateListing(ctx, l); err != nil {
			return err
		}

		if ct != nil {
			if ct.ID == "" {
				ct.ID = uuid.NewString()
			}
			if err := tx.CreateChainTx(ctx, *ct); err != nil {
				return err
			}
			p.ChainTxID = ct.ID
		}

		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if _, err := tx.GetPurchase(ctx, p.ID); core.IsNotFound(err) {
			return tx.CreatePurchase(ctx, *p)
		} else if err != nil {
			return err
		}
		return tx.UpdatePurchase(ctx, *p)
	})
	return core.WrapServiceError("settlement", "Fulfill", err)
}

// Release clears the processing lock after a failed delivery, leaving stock
// and sold count untouched. It runs in its own transaction and the original
// error is re-thrown by the caller.
func (s *Service) Release(ctx context.Context, listingID string) error {
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		l, err := tx.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if !l.IsProcessing {
			return nil
		}
		l.IsProcessing = false
		l.ProcessingAt = time.Time{}
		return tx.UpdateListing(ctx, l)
	})
	return core.WrapServiceError("settlement", "Release", err)
}

// PurchaseOnChain settles a purchase paid directly on the ledger: acquire the
// lock, record the purchase as processing, deliver via the submission
// pipeline, then fulfill. Any failure after acquisition releases the lock,
// marks the record as error, and re-throws.
func (s *Service) PurchaseOnChain(ctx context.Context, listingID, buyerAccount, walletAddr string, quantity int64, build txpipeline.BuildFunc) (purchase.Purchase, error) {
	if walletAddr == "" {
		return purchase.Purchase{}, core.NewValidationError(core.CodeBadAddress, "wallet address", "is required")
	}

	start := time.Now()
	acq, err := s.Acquire(ctx, listingID, quantity)
	if err != nil {
		return purchase.Purchase{}, err
	}

	p := purchase.Purchase{
		ID:           uuid.NewString(),
		ListingID:    listingID,
		BuyerAccount: buyerAccount,
		WalletAddr:   walletAddr,
		Status:       purchase.StatusProcessing,
		Quantity:     quantity,
		UnitPrice:    acq.UnitPrice,
		TotalPrice:   acq.Total,
	}
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreatePurchase(ctx, p)
	})
	if err != nil {
		s.releaseAfterFailure(ctx, listingID)
		return purchase.Purchase{}, core.WrapServiceError("settlement", "PurchaseOnChain", err)
	}

	res, err := s.submitter.Submit(ctx, acq.SignerAddr, build)
	if err != nil {
		s.releaseAfterFailure(ctx, listingID)
		s.markFailed(ctx, p, err)
		s.publishFailed(ctx, p.ID, listingID, buyerAccount, err)
		metrics.RecordSettlement("error", time.Since(start))
		return purchase.Purchase{}, err
	}

	p.Status = purchase.StatusCompleted
	ct := &purchase.ChainTx{
		SignerAddr: res.SignerAddr,
		Sequence:   res.Sequence,
		TxHash:     res.TxHash,
	}
	if err := s.Fulfill(ctx, acq, &p, ct); err != nil {
		// The broadcast went out but the record did not commit. The lock is
		// still held for recovery; this is not silently swallowed.
		s.publishFailed(ctx, p.ID, listingID, buyerAccount, err)
		metrics.RecordSettlement("unreconciled", time.Since(start))
		return purchase.Purchase{}, core.NewUnreconciledError("settlement.PurchaseOnChain",
			"chain delivery succeeded but fulfillment did not commit", err)
	}

	s.pub.Publish(ctx, events.TopicPurchaseCompleted, map[string]interface{}{
		"purchase_id": p.ID,
		"listing_id":  listingID,
		"tx_hash":     res.TxHash,
		"total":       acq.Total,
	})
	metrics.RecordSettlement("completed", time.Since(start))
	return p, nil
}

func (s *Service) releaseAfterFailure(ctx context.Context, listingID string) {
	if err := s.Release(ctx, listingID); err != nil {
		s.log.WithError(err).WithField("listing", listingID).Error("release lock after failed delivery")
	}
}

func (s *Service) markFailed(ctx context.Context, p purchase.Purchase, cause error) {
	p.Status = purchase.StatusError
	p.FailReason = cause.Error()
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.UpdatePurchase(ctx, p)
	})
	if err != nil {
		s.log.WithError(err).WithField("purchase", p.ID).Error("mark purchase failed")
	}
}

func (s *Service) publishFailed(ctx context.Context, purchaseID, listingID, buyerAccount string, cause error) {
	s.pub.Publish(ctx, events.TopicPurchaseFailed, map[string]interface{}{
		"purchase_id": purchaseID,
		"listing_id":  listingID,
		"buyer":       buyerAccount,
		"error":       cause.Error(),
	})
}
