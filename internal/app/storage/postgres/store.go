// Package postgres implements the storage interfaces backed by PostgreSQL.
// Transactional reads take row locks (SELECT ... FOR UPDATE), so concurrent
// transactions touching the same listing or signer counter serialize at the
// database, matching the single-writer-per-document model.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/CurioWorks/commerce_layer/internal/app/core"
	"github.com/CurioWorks/commerce_layer/internal/app/domain/listing"
	"github.com/CurioWorks/commerce_layer/internal/app/domain/purchase"
	"github.com/CurioWorks/commerce_layer/internal/app/domain/signer"
	"github.com/CurioWorks/commerce_layer/internal/app/storage"
)

// Store implements storage.Store using the provided database handle.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
)

// mapError translates driver errors into the shared taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return core.NewConflictError(core.CodeAlreadyHandled, "record", "", "already exists")
		case pqSerializationFailure:
			return core.ErrUnavailable
		}
	}
	return err
}

// Store transactions run serializable. FOR UPDATE cannot lock a counter row
// that does not exist yet, so under read committed two first-time allocations
// for the same signer would both read not-found, both seed from the ledger,
// and hand out the same sequence. At serializable the second writer fails
// with 40001, which mapError turns into core.ErrUnavailable for the caller
// to retry.
var txOptions = &sql.TxOptions{Isolation: sql.LevelSerializable}

// RunTransaction executes fn inside one database transaction. Any error
// rolls the whole transaction back; no partial state is persisted.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, txOptions)
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgTx{tx: dbTx}); err != nil {
		_ = dbTx.Rollback()
		return mapError(err)
	}
	return mapError(dbTx.Commit())
}

// pgTx is the transactional handle given to RunTransaction callbacks.
type pgTx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*pgTx)(nil)

func (t *pgTx) GetSequenceCounter(ctx context.Context, signerAddr string) (signer.SequenceCounter, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT signer_addr, next_sequence, highest_confirmed, updated_at
		FROM signer_sequences
		WHERE signer_addr = $1
		FOR UPDATE
	`, signerAddr)

	var c signer.SequenceCounter
	if err := row.Scan(&c.SignerAddr, &c.NextSequence, &c.HighestConfirmed, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return signer.SequenceCounter{}, core.NewNotFoundError("sequence counter", signerAddr)
		}
		return signer.SequenceCounter{}, err
	}
	return c, nil
}

func (t *pgTx) PutSequenceCounter(ctx context.Context, c signer.SequenceCounter) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO signer_sequences (signer_addr, next_sequence, highest_confirmed, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (signer_addr) DO UPDATE
		SET next_sequence = EXCLUDED.next_sequence,
		    highest_confirmed = EXCLUDED.highest_confirmed,
		    updated_at = EXCLUDED.updated_at
	`, c.SignerAddr, c.NextSequence, c.HighestConfirmed, time.Now().UTC())
	return err
}

func scanListing(row interface{ Scan(...interface{}) error }) (listing.Listing, error) {
	var (
		l            listing.Listing
		processingAt sql.NullTime
	)
	err := row.Scan(&l.ID, &l.Title, &l.OwnerAccount, &l.SignerAddr, &l.Stock, &l.SoldCount,
		&l.Batch, &l.IsProcessing, &processingAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return listing.Listing{}, err
	}
	if processingAt.Valid {
		l.ProcessingAt = processingAt.Time.UTC()
	}
	return l, nil
}

const listingColumns = `id, title, owner_account, signer_addr, stock, sold_count, batch, is_processing, processing_at, created_at, updated_at`

func (t *pgTx) GetListing(ctx context.Context, id string) (listing.Listing, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE id = $1
		FOR UPDATE
	`, id)

	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return listing.Listing{}, core.NewNotFoundError("listing", id)
	}
	return l, err
}

func (t *pgTx) UpdateListing(ctx context.Context, l listing.Listing) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE listings
		SET stock = $2, sold_count = $3, batch = $4, is_processing = $5, processing_at = $6, updated_at = $7
		WHERE id = $1
	`, l.ID, l.Stock, l.SoldCount, l.Batch, l.IsProcessing, toNullTime(l.ProcessingAt), time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return core.NewNotFoundError("listing", l.ID)
	}
	return nil
}

const purchaseColumns = `id, listing_id, buyer_account, wallet_addr, session_id, status, quantity, unit_price, total_price, claim_token, chain_tx_id, fail_reason, created_at, updated_at`

func scanPurchase(row interface{ Scan(...interface{}) error }) (purchase.Purchase, error) {
	var (
		p         purchase.Purchase
		status    string
		sessionID sql.NullString
	)
	err := row.Scan(&p.ID, &p.ListingID, &p.BuyerAccount, &p.WalletAddr, &sessionID, &status,
		&p.Quantity, &p.UnitPrice, &p.TotalPrice, &p.ClaimToken, &p.ChainTxID, &p.FailReason,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return purchase.Purchase{}, err
	}
	p.Status = purchase.Status(status)
	if sessionID.Valid {
		p.SessionID = sessionID.String
	}
	return p, nil
}

func (t *pgTx) CreatePurchase(ctx context.Context, p purchase.Purchase) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	// Plain INSERT: the primary key and the unique session index make
	// creation fail distinctly when the record already exists.
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, p.ID, p.ListingID, p.BuyerAccount, p.WalletAddr, toNullString(p.SessionID), string(p.Status),
		p.Quantity, p.UnitPrice, p.TotalPrice, p.ClaimToken, p.ChainTxID, p.FailReason, now, now)
	return mapError(err)
}

func (t *pgTx) UpdatePurchase(ctx context.Context, p purchase.Purchase) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE purchases
		SET wallet_addr = $2, status = $3, claim_token = $4, chain_tx_id = $5, fail_reason = $6, updated_at = $7
		WHERE id = $1
	`, p.ID, p.WalletAddr, string(p.Status), p.ClaimToken, p.ChainTxID, p.FailReason, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return core.NewNotFoundError("purchase", p.ID)
	}
	return nil
}

func (t *pgTx) GetPurchase(ctx context.Context, id string) (purchase.Purchase, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE id = $1
		FOR UPDATE
	`, id)

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return purchase.Purchase{}, core.NewNotFoundError("purchase", id)
	}
	return p, err
}

func (t *pgTx) GetPurchaseBySession(ctx context.Context, sessionID string) (purchase.Purchase, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE session_id = $1
		FOR UPDATE
	`, sessionID)

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return purchase.Purchase{}, core.NewNotFoundError("purchase session", sessionID)
	}
	return p, err
}

func (t *pgTx) CreateChainTx(ctx context.Context, ct purchase.ChainTx) error {
	if ct.ID == "" {
		ct.ID = uuid.NewString()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO chain_txs (id, signer_addr, sequence, tx_hash, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ct.ID, ct.SignerAddr, ct.Sequence, ct.TxHash, ct.Payload, time.Now().UTC())
	return mapError(err)
}

// --- Plain reads/writes -------------------------------------------------------

func (s *Store) CreateListing(ctx context.Context, l listing.Listing) (listing.Listing, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, l.ID, l.Title, l.OwnerAccount, l.SignerAddr, l.Stock, l.SoldCount, l.Batch,
		l.IsProcessing, toNullTime(l.ProcessingAt), l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return listing.Listing{}, mapError(err)
	}
	return l, nil
}

func (s *Store) GetListing(ctx context.Context, id string) (listing.Listing, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE id = $1
	`, id)

	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return listing.Listing{}, core.NewNotFoundError("listing", id)
	}
	return l, err
}

func (s *Store) ListStuckListings(ctx context.Context, cutoff time.Time) ([]listing.Listing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE is_processing AND processing_at < $1
		ORDER BY processing_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []listing.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func (s *Store) GetPurchase(ctx context.Context, id string) (purchase.Purchase, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE id = $1
	`, id)

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return purchase.Purchase{}, core.NewNotFoundError("purchase", id)
	}
	return p, err
}

func (s *Store) GetPurchaseBySession(ctx context.Context, sessionID string) (purchase.Purchase, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE session_id = $1
	`, sessionID)

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return purchase.Purchase{}, core.NewNotFoundError("purchase session", sessionID)
	}
	return p, err
}

func (s *Store) GetChainTx(ctx context.Context, id string) (purchase.ChainTx, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, signer_addr, sequence, tx_hash, payload, created_at
		FROM chain_txs
		WHERE id = $1
	`, id)

	var ct purchase.ChainTx
	err := row.Scan(&ct.ID, &ct.SignerAddr, &ct.Sequence, &ct.TxHash, &ct.Payload, &ct.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return purchase.ChainTx{}, core.NewNotFoundError("chain tx", id)
	}
	return ct, err
}

func (s *Store) GetSequenceCounter(ctx context.Context, signerAddr string) (signer.SequenceCounter, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT signer_addr, next_sequence, highest_confirmed, updated_at
		FROM signer_sequences
		WHERE signer_addr = $1
	`, signerAddr)

	var c signer.SequenceCounter
	err := row.Scan(&c.SignerAddr, &c.NextSequence, &c.HighestConfirmed, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return signer.SequenceCounter{}, core.NewNotFoundError("sequence counter", signerAddr)
	}
	return c, err
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
