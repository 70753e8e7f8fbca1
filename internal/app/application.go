package app

import (
	"context"

	"github.com/CurioWorks/commerce_layer/internal/app/domain/listing"
	"github.com/CurioWorks/commerce_layer/internal/app/domain/purchase"
	"github.com/CurioWorks/commerce_layer/internal/app/services/paybridge"
	"github.com/CurioWorks/commerce_layer/internal/app/services/sequencer"
	"github.com/CurioWorks/commerce_layer/internal/app/services/settlement"
	"github.com/CurioWorks/commerce_layer/internal/app/services/txpipeline"
	"github.com/CurioWorks/commerce_layer/internal/app/storage"
	"github.com/CurioWorks/commerce_layer/internal/app/storage/memory"
	"github.com/CurioWorks/commerce_layer/internal/chain"
	"github.com/CurioWorks/commerce_layer/internal/events"
	"github.com/CurioWorks/commerce_layer/internal/payments"
	"github.com/CurioWorks/commerce_layer/internal/watchdog"
	"github.com/CurioWorks/commerce_layer/pkg/cache"
	"github.com/CurioWorks/commerce_layer/pkg/logger"
)

// curveCacheSize bounds the memoized batch prices.
const curveCacheSize = 4096

// Deps carries the externally constructed dependencies. Nil Store falls
// back to the in-memory implementation; nil Events falls back to a no-op
// publisher. Ledger, Gateway and Signer have no in-process defaults.
type Deps struct {
	Store   storage.Store
	Ledger  chain.Ledger
	Gateway payments.Client
	Signer  *chain.Signer
	Events  events.Publisher
	Pricing settlement.CurveConfig
}

// Application ties the settlement services together.
type Application struct {
	log *logger.Logger

	Store      storage.Store
	Signer     *chain.Signer
	Sequencer  *sequencer.Allocator
	Submitter  *txpipeline.Submitter
	Settlement *settlement.Service
	Bridge     *paybridge.Bridge
	Watchdog   *watchdog.Sweeper
}

// New builds a fully initialised application.
func New(deps Deps, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if deps.Store == nil {
		deps.Store = memory.New()
	}
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}

	curve, err := settlement.NewCurve(deps.Pricing, cache.New[int64, int64](curveCacheSize, 0))
	if err != nil {
		return nil, err
	}

	alloc := sequencer.New(deps.Store, deps.Ledger, log.WithField("component", "sequencer"))
	submitter := txpipeline.New(alloc, deps.Ledger, deps.Events, log.WithField("component", "txpipeline"))
	settle := settlement.New(deps.Store, curve, submitter, deps.Events, log.WithField("component", "settlement"))

	builder := DeliveryBuilder(deps.Signer)
	bridge := paybridge.New(deps.Store, settle, submitter, deps.Gateway, builder, deps.Events, log.WithField("component", "paybridge"))

	sweeper := watchdog.New(deps.Store, deps.Events, log.WithField("component", "watchdog"), watchdog.DefaultThreshold)

	return &Application{
		log:        log,
		Store:      deps.Store,
		Signer:     deps.Signer,
		Sequencer:  alloc,
		Submitter:  submitter,
		Settlement: settle,
		Bridge:     bridge,
		Watchdog:   sweeper,
	}, nil
}

// DeliveryBuilder adapts the signer into the pipeline's build callback.
func DeliveryBuilder(signer *chain.Signer) paybridge.DeliveryBuilder {
	return func(p purchase.Purchase, walletAddr string) txpipeline.BuildFunc {
		return func(sequence uint64) (chain.SignedTx, error) {
			return signer.BuildDelivery(chain.Delivery{
				Recipient:  walletAddr,
				ListingID:  p.ListingID,
				PurchaseID: p.ID,
				Quantity:   p.Quantity,
				Sequence:   sequence,
			})
		}
	}
}

// CreateListing registers a listing signed by the platform account.
func (a *Application) CreateListing(ctx context.Context, title, ownerAccount string, stock int64) (listing.Listing, error) {
	l := listing.Listing{
		Title:        title,
		OwnerAccount: ownerAccount,
		Stock:        stock,
	}
	if a.Signer != nil {
		l.SignerAddr = a.Signer.Address()
	}
	return a.Store.CreateListing(ctx, l)
}

// BuyOnChain settles a purchase paid directly on the ledger.
func (a *Application) BuyOnChain(ctx context.Context, listingID, buyerAccount, walletAddr string, quantity int64) (purchase.Purchase, error) {
	build := func(sequence uint64) (chain.SignedTx, error) {
		return a.Signer.BuildDelivery(chain.Delivery{
			Recipient: walletAddr,
			ListingID: listingID,
			Quantity:  quantity,
			Sequence:  sequence,
		})
	}
	return a.Settlement.PurchaseOnChain(ctx, listingID, buyerAccount, walletAddr, quantity, build)
}

// Start begins background work. Currently that is the lock watchdog.
func (a *Application) Start(schedule string) error {
	return a.Watchdog.Start(schedule)
}

// Stop halts background work.
func (a *Application) Stop() {
	a.Watchdog.Stop()
}
