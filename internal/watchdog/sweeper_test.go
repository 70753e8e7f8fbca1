package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/CurioWorks/commerce_layer/internal/app/domain/listing"
	"github.com/CurioWorks/commerce_layer/internal/app/storage"
	"github.com/CurioWorks/commerce_layer/internal/app/storage/memory"
	"github.com/CurioWorks/commerce_layer/internal/events"
)

func lockListing(t *testing.T, store *memory.Store, id string, heldFor time.Duration) {
	t.Helper()
	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		l, err := tx.GetListing(ctx, id)
		if err != nil {
			return err
		}
		l.IsProcessing = true
		l.ProcessingAt = time.Now().UTC().Add(-heldFor)
		return tx.UpdateListing(ctx, l)
	})
	if err != nil {
		t.Fatalf("lock listing: %v", err)
	}
}

func TestSweepReportsStuckLocks(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	stuck, _ := store.CreateListing(ctx, listing.Listing{Title: "stuck"})
	recent, _ := store.CreateListing(ctx, listing.Listing{Title: "recent"})
	free, _ := store.CreateListing(ctx, listing.Listing{Title: "free"})

	lockListing(t, store, stuck.ID, time.Hour)
	lockListing(t, store, recent.ID, time.Second)

	rec := &events.Recorder{}
	s := New(store, rec, nil, 5*time.Minute)
	s.Sweep(ctx)

	if len(rec.Events) != 1 {
		t.Fatalf("published %d events, want 1", len(rec.Events))
	}
	if rec.Events[0].Topic != events.TopicLockStuck {
		t.Fatalf("topic = %s, want %s", rec.Events[0].Topic, events.TopicLockStuck)
	}
	payload, ok := rec.Events[0].Payload.(map[string]interface{})
	if !ok || payload["listing_id"] != stuck.ID {
		t.Fatalf("payload = %v, want listing %s", rec.Events[0].Payload, stuck.ID)
	}

	// Sweep never touches the locks themselves.
	for _, id := range []string{stuck.ID, recent.ID} {
		l, _ := store.GetListing(ctx, id)
		if !l.IsProcessing {
			t.Fatalf("sweep released lock on %s", id)
		}
	}
	l, _ := store.GetListing(ctx, free.ID)
	if l.IsProcessing {
		t.Fatal("unlocked listing became locked")
	}
}

func TestSweepEmptyStore(t *testing.T) {
	rec := &events.Recorder{}
	s := New(memory.New(), rec, nil, 0)
	s.Sweep(context.Background())
	if len(rec.Events) != 0 {
		t.Fatalf("published %d events on empty store", len(rec.Events))
	}
}
