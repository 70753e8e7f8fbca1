// Package paybridge reconciles payment-gateway events with on-chain
// settlement. Webhooks arrive at-least-once, so every mutation sits behind an
// idempotency gate keyed by the gateway session.
package paybridge

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/CurioWorks/commerce_layer/internal/app/core"
	"github.com/CurioWorks/commerce_layer/internal/app/domain/purchase"
	"github.com/CurioWorks/commerce_layer/internal/app/metrics"
	"github.com/CurioWorks/commerce_layer/internal/app/services/settlement"
	"github.com/CurioWorks/commerce_layer/internal/app/services/txpipeline"
	"github.com/CurioWorks/commerce_layer/internal/app/storage"
	"github.com/CurioWorks/commerce_layer/internal/events"
	"github.com/CurioWorks/commerce_layer/internal/payments"
	"github.com/CurioWorks/commerce_layer/pkg/logger"
)

// DeliveryBuilder produces the BuildFunc that signs the asset transfer for a
// purchase to a wallet. Injected so the bridge stays independent of the
// concrete signing scheme.
type DeliveryBuilder func(p purchase.Purchase, walletAddr string) txpipeline.BuildFunc

// Bridge drives purchases that settle through the card-payment gateway.
type Bridge struct {
	store     storage.Store
	settle    *settlement.Service
	submitter *txpipeline.Submitter
	gateway   payments.Client
	builder   DeliveryBuilder
	pub       events.Publisher
	log       *logger.Logger
}

// New constructs the bridge.
func New(store storage.Store, settle *settlement.Service, submitter *txpipeline.Submitter, gateway payments.Client, builder DeliveryBuilder, pub events.Publisher, log *logger.Logger) *Bridge {
	if log == nil {
		log = logger.NewDefault("paybridge")
	}
	if pub == nil {
		pub = events.Noop{}
	}
	return &Bridge{
		store:     store,
		settle:    settle,
		submitter: submitter,
		gateway:   gateway,
		builder:   builder,
		pub:       pub,
		log:       log,
	}
}

// Checkout authorizes funds for a quoted purchase and creates the purchase
// record in state new, strictly once per gateway session. The quote is
// re-validated against the locked price when the webhook arrives.
func (b *Bridge) Checkout(ctx context.Context, listingID, buyerAccount, walletAddr string, quantity int64) (purchase.Purchase, error) {
	if quantity < 1 {
		return purchase.Purchase{}, core.NewValidationError("", "quantity", "must be at least 1")
	}
	l, err := b.store.GetListing(ctx, listingID)
	if err != nil {
		return purchase.Purchase{}, err
	}
	if !l.Available(quantity) {
		return purchase.Purchase{}, core.NewConflictError(core.CodeOutOfStock, "listing", listingID, "insufficient stock")
	}

	quote := b.settle.Curve().Total(l.Batch, quantity)
	sessionID, err := b.gateway.Authorize(ctx, buyerAccount, quote, "usd")
	if err != nil {
		return purchase.Purchase{}, fmt.Errorf("authorize payment: %w", err)
	}

	p := purchase.Purchase{
		ID:           uuid.NewString(),
		ListingID:    listingID,
		BuyerAccount: buyerAccount,
		WalletAddr:   walletAddr,
		SessionID:    sessionID,
		Status:       purchase.StatusNew,
		Quantity:     quantity,
		UnitPrice:    b.settle.Curve().Price(l.Batch),
		TotalPrice:   quote,
	}
	err = b.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreatePurchase(ctx, p)
	})
	if err != nil {
		// The record never existed, so the hold is safe to release.
		if cerr := b.gateway.CancelAuthorization(ctx, sessionID); cerr != nil {
			b.log.WithError(cerr).WithField("session", sessionID).Warn("cancel authorization after failed checkout")
		}
		return purchase.Purchase{}, err
	}
	return p, nil
}

// HandlePaymentEvent processes one gateway webhook delivery. Replays of an
// already-handled event return nil without mutating anything: the purchase
// record's status is the idempotency gate.
func (b *Bridge) HandlePaymentEvent(ctx context.Context, ev payments.WebhookEvent) error {
	p, err := b.store.GetPurchaseBySession(ctx, ev.SessionID)
	if err != nil {
		return core.WrapServiceError("paybridge", "HandlePaymentEvent", err)
	}
	if p.Status != purchase.StatusNew {
		metrics.RecordWebhookReplay()
		b.log.WithField("session", ev.SessionID).
			WithField("status", string(p.Status)).
			Debug("webhook replay ignored")
		return nil
	}

	switch ev.EventType {
	case payments.EventPaymentCanceled:
		return b.markError(ctx, p, "authorization canceled by gateway")
	case payments.EventPaymentAuthorized:
		return b.settleAuthorized(ctx, p, ev)
	default:
		b.log.WithField("event_type", ev.EventType).Debug("ignoring webhook event type")
		return nil
	}
}

func (b *Bridge) settleAuthorized(ctx context.Context, p purchase.Purchase, ev payments.WebhookEvent) error {
	acq, err := b.settle.Acquire(ctx, p.ListingID, p.Quantity)
	if err != nil {
		if core.IsConflict(err) && core.ConflictCode(err) == core.CodeOutOfStock {
			// A concurrent delivery of the same event may have settled the
			// purchase and drained the stock after the gate was read.
			if b.settledConcurrently(ctx, p.SessionID) {
				return nil
			}
			b.cancelHold(ctx, p.SessionID)
			if merr := b.markError(ctx, p, "out of stock at settlement"); merr != nil {
				return merr
			}
		}
		return err
	}

	// Second gate, now under the listing lock: another delivery of the same
	// event may have passed the first gate and settled before we locked.
	if b.settledConcurrently(ctx, p.SessionID) {
		b.releaseLock(ctx, p.ListingID)
		return nil
	}

	p.Status = purchase.StatusProcessing
	err = b.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.UpdatePurchase(ctx, p)
	})
	if err != nil {
		b.releaseLock(ctx, p.ListingID)
		return core.WrapServiceError("paybridge", "settleAuthorized", err)
	}

	// Price is locked now; the hold must cover it.
	if ev.AmountCapturable < acq.Total {
		b.releaseLock(ctx, p.ListingID)
		b.cancelHold(ctx, p.SessionID)
		if merr := b.markError(ctx, p, "authorized amount below locked price"); merr != nil {
			return merr
		}
		return core.NewValidationError(core.CodeInsufficientFunds, "amount_capturable",
			fmt.Sprintf("need %d, have %d", acq.Total, ev.AmountCapturable))
	}

	wallet := p.WalletAddr
	if wallet == "" {
		wallet = ev.WalletAddr
	}
	if wallet == "" {
		return b.fulfillPendingClaim(ctx, acq, p)
	}
	return b.fulfillAndCapture(ctx, acq, p, wallet)
}

// fulfillAndCapture is the known-recipient flow: deliver on chain, commit the
// record as paid, capture funds, then complete.
func (b *Bridge) fulfillAndCapture(ctx context.Context, acq settlement.Acquisition, p purchase.Purchase, wallet string) error {
	res, err := b.submitter.Submit(ctx, acq.SignerAddr, b.builder(p, wallet))
	if err != nil {
		// Failure before capture: release the lock, void the hold, surface.
		b.releaseLock(ctx, p.ListingID)
		b.cancelHold(ctx, p.SessionID)
		if merr := b.markError(ctx, p, "chain delivery failed: "+err.Error()); merr != nil {
			b.log.WithError(merr).WithField("purchase", p.ID).Error("mark purchase failed")
		}
		b.pub.Publish(ctx, events.TopicPurchaseFailed, map[string]interface{}{
			"purchase_id": p.ID,
			"error":       err.Error(),
		})
		return err
	}

	p.Status = purchase.StatusPaid
	p.WalletAddr = wallet
	p.UnitPrice = acq.UnitPrice
	p.TotalPrice = acq.Total
	ct := &purchase.ChainTx{
		SignerAddr: res.SignerAddr,
		Sequence:   res.Sequence,
		TxHash:     res.TxHash,
	}
	if err := b.settle.Fulfill(ctx, acq, &p, ct); err != nil {
		// Delivered on chain but nothing committed. The lock stays held for
		// recovery and the hold is left intact for manual remediation.
		b.reportUnreconciled(ctx, p, "chain delivery succeeded but fulfillment did not commit", err)
		return core.NewUnreconciledError("paybridge.fulfillAndCapture",
			"chain delivery succeeded but fulfillment did not commit", err)
	}

	if err := b.gateway.Capture(ctx, p.SessionID, acq.Total); err != nil {
		// Goods delivered, funds not captured.
		b.reportUnreconciled(ctx, p, "fulfilled but capture failed", err)
		return core.NewUnreconciledError("paybridge.fulfillAndCapture", "fulfilled but capture failed", err)
	}

	p.Status = purchase.StatusCompleted
	err = b.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.UpdatePurchase(ctx, p)
	})
	if err != nil {
		// Capture succeeded but the record update failed: the inconsistency
		// the taxonomy singles out for manual reconciliation.
		b.reportUnreconciled(ctx, p, "capture succeeded but record update failed", err)
		return core.NewUnreconciledError("paybridge.fulfillAndCapture",
			"capture succeeded but record update failed", err)
	}

	b.pub.Publish(ctx, events.TopicPurchaseCompleted, map[string]interface{}{
		"purchase_id": p.ID,
		"listing_id":  p.ListingID,
		"tx_hash":     res.TxHash,
		"total":       acq.Total,
	})
	return nil
}

// fulfillPendingClaim is the unknown-recipient flow: reserve the stock, park
// the purchase behind a claim token, and capture. Chain delivery happens at
// claim time.
func (b *Bridge) fulfillPendingClaim(ctx context.Context, acq settlement.Acquisition, p purchase.Purchase) error {
	token, err := newClaimToken()
	if err != nil {
		b.releaseLock(ctx, p.ListingID)
		return err
	}

	p.Status = purchase.StatusPendingClaim
	p.ClaimToken = token
	p.UnitPrice = acq.UnitPrice
	p.TotalPrice = acq.Total
	if err := b.settle.Fulfill(ctx, acq, &p, nil); err != nil {
		b.releaseLock(ctx, p.ListingID)
		b.cancelHold(ctx, p.SessionID)
		return err
	}

	if err := b.gateway.Capture(ctx, p.SessionID, acq.Total); err != nil {
		b.reportUnreconciled(ctx, p, "stock reserved but capture failed", err)
		return core.NewUnreconciledError("paybridge.fulfillPendingClaim",
			"stock reserved but capture failed", err)
	}
	return nil
}

// Claim redeems a pending delivery. The listing lock plus the status check
// inside it make the token single-use even under concurrent redemption.
func (b *Bridge) Claim(ctx context.Context, purchaseID, token, walletAddr string) (purchase.Purchase, error) {
	if walletAddr == "" {
		return purchase.Purchase{}, core.NewValidationError(core.CodeBadAddress, "wallet address", "is required")
	}
	if token == "" {
		return purchase.Purchase{}, core.RequiredError("claim token")
	}

	p, err := b.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return purchase.Purchase{}, err
	}
	if p.Status == purchase.StatusCompleted {
		return purchase.Purchase{}, core.NewConflictError(core.CodeAlreadyClaimed, "purchase", purchaseID, "already claimed")
	}
	if p.Status != purchase.StatusPendingClaim {
		return purchase.Purchase{}, core.NewConflictError(core.CodeAlreadyHandled, "purchase", purchaseID,
			"not awaiting claim")
	}
	if subtle.ConstantTimeCompare([]byte(p.ClaimToken), []byte(token)) != 1 {
		return purchase.Purchase{}, core.NewValidationError(core.CodeBadClaimToken, "claim token", "does not match")
	}

	listingID := p.ListingID
	if err := b.settle.Lock(ctx, listingID); err != nil {
		return purchase.Purchase{}, err
	}

	// Re-read under the lock: a concurrent claim may have completed between
	// the precheck and lock acquisition.
	p, err = b.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		b.releaseLock(ctx, listingID)
		return purchase.Purchase{}, err
	}
	if p.Status != purchase.StatusPendingClaim {
		b.releaseLock(ctx, listingID)
		return purchase.Purchase{}, core.NewConflictError(core.CodeAlreadyClaimed, "purchase", purchaseID, "already claimed")
	}

	l, err := b.store.GetListing(ctx, listingID)
	if err != nil {
		b.releaseLock(ctx, listingID)
		return purchase.Purchase{}, err
	}

	res, err := b.submitter.Submit(ctx, l.SignerAddr, b.builder(p, walletAddr))
	if err != nil {
		b.releaseLock(ctx, listingID)
		return purchase.Purchase{}, err
	}

	p.Status = purchase.StatusCompleted
	p.WalletAddr = walletAddr
	ct := &purchase.ChainTx{
		SignerAddr: res.SignerAddr,
		Sequence:   res.Sequence,
		TxHash:     res.TxHash,
	}
	if err := b.settle.CompleteClaim(ctx, p.ListingID, &p, ct); err != nil {
		b.reportUnreconciled(ctx, p, "claim delivered but completion did not commit", err)
		return purchase.Purchase{}, core.NewUnreconciledError("paybridge.Claim",
			"claim delivered but completion did not commit", err)
	}

	b.pub.Publish(ctx, events.TopicPurchaseCompleted, map[string]interface{}{
		"purchase_id": p.ID,
		"listing_id":  p.ListingID,
		"tx_hash":     res.TxHash,
		"claimed":     true,
	})
	return p, nil
}

// settledConcurrently re-reads the purchase and reports whether another
// delivery of the same event already moved it past new.
func (b *Bridge) settledConcurrently(ctx context.Context, sessionID string) bool {
	fresh, err := b.store.GetPurchaseBySession(ctx, sessionID)
	if err != nil || fresh.Status == purchase.StatusNew {
		return false
	}
	metrics.RecordWebhookReplay()
	b.log.WithField("session", sessionID).
		WithField("status", string(fresh.Status)).
		Debug("concurrent webhook delivery already settled")
	return true
}

// markError moves the purchase to error unless a concurrent delivery already
// drove it to a terminal state; completed and error records are never
// overwritten.
func (b *Bridge) markError(ctx context.Context, p purchase.Purchase, reason string) error {
	err := b.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		fresh, err := tx.GetPurchase(ctx, p.ID)
		if err != nil {
			return err
		}
		if fresh.Status.Terminal() {
			return nil
		}
		fresh.Status = purchase.StatusError
		fresh.FailReason = reason
		return tx.UpdatePurchase(ctx, fresh)
	})
	return core.WrapServiceError("paybridge", "markError", err)
}

func (b *Bridge) releaseLock(ctx context.Context, listingID string) {
	if err := b.settle.Release(ctx, listingID); err != nil {
		b.log.WithError(err).WithField("listing", listingID).Error("release settlement lock")
	}
}

func (b *Bridge) cancelHold(ctx context.Context, sessionID string) {
	if err := b.gateway.CancelAuthorization(ctx, sessionID); err != nil {
		b.log.WithError(err).WithField("session", sessionID).Warn("cancel authorization")
	}
}

func (b *Bridge) reportUnreconciled(ctx context.Context, p purchase.Purchase, detail string, cause error) {
	b.log.WithError(cause).
		WithField("purchase", p.ID).
		WithField("session", p.SessionID).
		WithField("detail", detail).
		Error("unreconciled payment state, manual remediation required")
	b.pub.Publish(ctx, events.TopicUnreconciled, map[string]interface{}{
		"purchase_id": p.ID,
		"session_id":  p.SessionID,
		"detail":      detail,
		"error":       cause.Error(),
	})
}

// newClaimToken returns an unguessable 32-byte token.
func newClaimToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate claim token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
