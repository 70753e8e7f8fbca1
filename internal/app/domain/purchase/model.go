// Package purchase defines the purchase lifecycle model.
package purchase

import "time"

// Status is the purchase lifecycle state. The settlement bridge treats any
// status other than new as already handled, which makes webhook processing
// idempotent under at-least-once delivery.
type Status string

const (
	StatusNew          Status = "new"
	StatusProcessing   Status = "processing"
	StatusPaid         Status = "paid"
	StatusPendingClaim Status = "pending_claim"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Purchase is one buyer's settlement record for a listing.
type Purchase struct {
	ID           string `json:"id"`
	ListingID    string `json:"listing_id"`
	BuyerAccount string `json:"buyer_account"`
	WalletAddr   string `json:"wallet_addr,omitempty"`
	// SessionID is the payment-gateway session; unique per purchase.
	SessionID  string `json:"session_id,omitempty"`
	Status     Status `json:"status"`
	Quantity   int64  `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	TotalPrice int64  `json:"total_price"`
	// ClaimToken gates deferred delivery when the buyer's wallet was unknown
	// at payment time.
	ClaimToken string    `json:"claim_token,omitempty"`
	ChainTxID  string    `json:"chain_tx_id,omitempty"`
	FailReason string    `json:"fail_reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ChainTx records one broadcast ledger transaction.
type ChainTx struct {
	ID         string    `json:"id"`
	SignerAddr string    `json:"signer_addr"`
	Sequence   uint64    `json:"sequence"`
	TxHash     string    `json:"tx_hash"`
	Payload    []byte    `json:"payload,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
