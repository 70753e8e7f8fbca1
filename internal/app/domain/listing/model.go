// Package listing defines the sellable-unit model.
package listing

import "time"

// Listing is a sellable unit. IsProcessing is the exclusive settlement lock:
// while held, no other purchase may price, reserve, or deliver against this
// listing. ProcessingAt records when the lock was taken so the watchdog can
// flag stuck locks.
type Listing struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	OwnerAccount string    `json:"owner_account"`
	SignerAddr   string    `json:"signer_addr"`
	Stock        int64     `json:"stock"`
	SoldCount    int64     `json:"sold_count"`
	Batch        int64     `json:"batch"`
	IsProcessing bool      `json:"is_processing"`
	ProcessingAt time.Time `json:"processing_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Available reports whether qty units can still be sold.
func (l Listing) Available(qty int64) bool {
	return qty > 0 && l.Stock >= qty
}
