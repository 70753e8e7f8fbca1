// Package memory provides an in-memory implementation of the storage
// interfaces. Transactions are serialized by a single mutex and staged in a
// write set, so a failed transaction leaves no partial state. It is intended
// for tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CurioWorks/commerce_layer/internal/app/core"
	"github.com/CurioWorks/commerce_layer/internal/app/domain/listing"
	"github.com/CurioWorks/commerce_layer/internal/app/domain/purchase"
	"github.com/CurioWorks/commerce_layer/internal/app/domain/signer"
	"github.com/CurioWorks/commerce_layer/internal/app/storage"
)

// Store is an in-memory store safe for concurrent use.
type Store struct {
	mu                 sync.Mutex
	listings           map[string]listing.Listing
	purchases          map[string]purchase.Purchase
	purchasesBySession map[string]string
	chainTxs           map[string]purchase.ChainTx
	counters           map[string]signer.SequenceCounter
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		listings:           make(map[string]listing.Listing),
		purchases:          make(map[string]purchase.Purchase),
		purchasesBySession: make(map[string]string),
		chainTxs:           make(map[string]purchase.ChainTx),
		counters:           make(map[string]signer.SequenceCounter),
	}
}

// memTx stages writes until the transaction function returns nil.
type memTx struct {
	store *Store

	listings  map[string]listing.Listing
	purchases map[string]purchase.Purchase
	sessions  map[string]string
	chainTxs  map[string]purchase.ChainTx
	counters  map[string]signer.SequenceCounter
}

var _ storage.Tx = (*memTx)(nil)

// RunTransaction executes fn with exclusive access to the store. Writes are
// applied only if fn returns nil.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		store:     s,
		listings:  make(map[string]listing.Listing),
		purchases: make(map[string]purchase.Purchase),
		sessions:  make(map[string]string),
		chainTxs:  make(map[string]purchase.ChainTx),
		counters:  make(map[string]signer.SequenceCounter),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	for id, l := range tx.listings {
		s.listings[id] = l
	}
	for id, p := range tx.purchases {
		s.purchases[id] = p
	}
	for sess, id := range tx.sessions {
		s.purchasesBySession[sess] = id
	}
	for id, ct := range tx.chainTxs {
		s.chainTxs[id] = ct
	}
	for addr, c := range tx.counters {
		s.counters[addr] = c
	}
	return nil
}

// --- Tx ----------------------------------------------------------------------

func (t *memTx) GetSequenceCounter(_ context.Context, signerAddr string) (signer.SequenceCounter, error) {
	if c, ok := t.counters[signerAddr]; ok {
		return c, nil
	}
	if c, ok := t.store.counters[signerAddr]; ok {
		return c, nil
	}
	return signer.SequenceCounter{}, core.NewNotFoundError("sequence counter", signerAddr)
}

func (t *memTx) PutSequenceCounter(_ context.Context, c signer.SequenceCounter) error {
	c.UpdatedAt = time.Now().UTC()
	t.counters[c.SignerAddr] = c
	return nil
}

func (t *memTx) GetListing(_ context.Context, id string) (listing.Listing, error) {
	if l, ok := t.listings[id]; ok {
		return l, nil
	}
	if l, ok := t.store.listings[id]; ok {
		return l, nil
	}
	return listing.Listing{}, core.NewNotFoundError("listing", id)
}

func (t *memTx) UpdateListing(ctx context.Context, l listing.Listing) error {
	if _, err := t.GetListing(ctx, l.ID); err != nil {
		return err
	}
	l.UpdatedAt = time.Now().UTC()
	t.listings[l.ID] = l
	return nil
}

func (t *memTx) CreatePurchase(_ context.Context, p purchase.Purchase) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, inTx := t.purchases[p.ID]
	_, committed := t.store.purchases[p.ID]
	if inTx || committed {
		return core.NewConflictError(core.CodeAlreadyHandled, "purchase", p.ID, "already exists")
	}
	if p.SessionID != "" {
		_, inTx = t.sessions[p.SessionID]
		_, committed = t.store.purchasesBySession[p.SessionID]
		if inTx || committed {
			return core.NewConflictError(core.CodeAlreadyHandled, "purchase session", p.SessionID, "already exists")
		}
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	t.purchases[p.ID] = p
	if p.SessionID != "" {
		t.sessions[p.SessionID] = p.ID
	}
	return nil
}

func (t *memTx) UpdatePurchase(ctx context.Context, p purchase.Purchase) error {
	existing, err := t.GetPurchase(ctx, p.ID)
	if err != nil {
		return err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	t.purchases[p.ID] = p
	if p.SessionID != "" {
		t.sessions[p.SessionID] = p.ID
	}
	return nil
}

func (t *memTx) GetPurchase(_ context.Context, id string) (purchase.Purchase, error) {
	if p, ok := t.purchases[id]; ok {
		return p, nil
	}
	if p, ok := t.store.purchases[id]; ok {
		return p, nil
	}
	return purchase.Purchase{}, core.NewNotFoundError("purchase", id)
}

func (t *memTx) GetPurchaseBySession(ctx context.Context, sessionID string) (purchase.Purchase, error) {
	if id, ok := t.sessions[sessionID]; ok {
		return t.GetPurchase(ctx, id)
	}
	if id, ok := t.store.purchasesBySession[sessionID]; ok {
		return t.GetPurchase(ctx, id)
	}
	return purchase.Purchase{}, core.NewNotFoundError("purchase session", sessionID)
}

func (t *memTx) CreateChainTx(_ context.Context, ct purchase.ChainTx) error {
	if ct.ID == "" {
		ct.ID = uuid.NewString()
	}
	_, inTx := t.chainTxs[ct.ID]
	_, committed := t.store.chainTxs[ct.ID]
	if inTx || committed {
		return core.NewConflictError(core.CodeAlreadyHandled, "chain tx", ct.ID, "already exists")
	}
	ct.CreatedAt = time.Now().UTC()
	t.chainTxs[ct.ID] = ct
	return nil
}

// --- Plain reads/writes -------------------------------------------------------

func (s *Store) CreateListing(_ context.Context, l listing.Listing) (listing.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = uuid.NewString()
	} else if _, exists := s.listings[l.ID]; exists {
		return listing.Listing{}, core.NewConflictError(core.CodeAlreadyHandled, "listing", l.ID, "already exists")
	}

	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	s.listings[l.ID] = l
	return l, nil
}

func (s *Store) GetListing(_ context.Context, id string) (listing.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return listing.Listing{}, core.NewNotFoundError("listing", id)
	}
	return l, nil
}

func (s *Store) ListStuckListings(_ context.Context, cutoff time.Time) ([]listing.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stuck []listing.Listing
	for _, l := range s.listings {
		if l.IsProcessing && l.ProcessingAt.Before(cutoff) {
			stuck = append(stuck, l)
		}
	}
	return stuck, nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (purchase.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return purchase.Purchase{}, core.NewNotFoundError("purchase", id)
	}
	return p, nil
}

func (s *Store) GetPurchaseBySession(_ context.Context, sessionID string) (purchase.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.purchasesBySession[sessionID]
	if !ok {
		return purchase.Purchase{}, core.NewNotFoundError("purchase session", sessionID)
	}
	return s.purchases[id], nil
}

func (s *Store) GetChainTx(_ context.Context, id string) (purchase.ChainTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ct, ok := s.chainTxs[id]
	if !ok {
		return purchase.ChainTx{}, core.NewNotFoundError("chain tx", id)
	}
	return ct, nil
}

func (s *Store) GetSequenceCounter(_ context.Context, signerAddr string) (signer.SequenceCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[signerAddr]
	if !ok {
		return signer.SequenceCounter{}, core.NewNotFoundError("sequence counter", signerAddr)
	}
	return c, nil
}
