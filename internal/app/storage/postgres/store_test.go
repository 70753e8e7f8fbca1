package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/CurioWorks/commerce_layer/internal/app/core"
	"github.com/CurioWorks/commerce_layer/internal/app/domain/purchase"
	"github.com/CurioWorks/commerce_layer/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

// A counter row that does not exist yet cannot be locked with FOR UPDATE, so
// first-time seeding relies on the isolation level to reject the second of
// two concurrent seeders.
func TestTransactionIsolationIsSerializable(t *testing.T) {
	if txOptions.Isolation != sql.LevelSerializable {
		t.Fatalf("isolation = %v, want serializable", txOptions.Isolation)
	}
}

func TestRunTransactionCommitsCounterUpsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"signer_addr", "next_sequence", "highest_confirmed", "updated_at"}).
		AddRow("signer-a", 7, 6, time.Now())
	mock.ExpectQuery("SELECT (.+) FROM signer_sequences WHERE signer_addr = (.+) FOR UPDATE").
		WithArgs("signer-a").
		WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO signer_sequences (.+) ON CONFLICT").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.GetSequenceCounter(ctx, "signer-a")
		if err != nil {
			return err
		}
		if c.NextSequence != 7 {
			t.Fatalf("next sequence = %d, want 7", c.NextSequence)
		}
		c.NextSequence++
		return tx.PutSequenceCounter(ctx, c)
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunTransactionRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.RunTransaction(context.Background(), func(context.Context, storage.Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSerializationFailureMapsToUnavailable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM signer_sequences").
		WithArgs("signer-a").
		WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetSequenceCounter(ctx, "signer-a")
		return err
	})
	if !errors.Is(err, core.ErrUnavailable) {
		t.Fatalf("err = %v, want unavailable", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDuplicatePurchaseMapsToConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO purchases").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreatePurchase(ctx, purchase.Purchase{ID: "p-1", Status: purchase.StatusNew})
	})
	if !core.IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetSequenceCounterNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM signer_sequences").
		WithArgs("signer-x").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetSequenceCounter(ctx, "signer-x")
		if !core.IsNotFound(err) {
			t.Fatalf("err = %v, want not found", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
