package chain

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Delivery describes an asset transfer to be executed on chain.
type Delivery struct {
	NetworkID  uint32 `json:"network"`
	Signer     string `json:"signer"`
	Recipient  string `json:"recipient"`
	ListingID  string `json:"listing_id"`
	PurchaseID string `json:"purchase_id"`
	Quantity   int64  `json:"quantity"`
	Sequence   uint64 `json:"sequence"`
}

// Signer builds and signs delivery transactions for one chain account.
type Signer struct {
	address   string
	key       ed25519.PrivateKey
	networkID uint32
}

// NewSigner parses a hex-encoded ed25519 seed and binds it to an address.
func NewSigner(address, seedHex string, networkID uint32) (*Signer, error) {
	if address == "" {
		return nil, fmt.Errorf("signer address required")
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode signer key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signer key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Signer{
		address:   address,
		key:       ed25519.NewKeyFromSeed(seed),
		networkID: networkID,
	}, nil
}

// Address returns the chain address the signer controls.
func (s *Signer) Address() string { return s.address }

// BuildDelivery serializes and signs a delivery at the given sequence.
// The same Delivery at the same sequence always yields the same bytes,
// so a duplicate-broadcast response can be resolved by the local hash.
func (s *Signer) BuildDelivery(d Delivery) (SignedTx, error) {
	d.NetworkID = s.networkID
	d.Signer = s.address

	body, err := json.Marshal(d)
	if err != nil {
		return SignedTx{}, fmt.Errorf("marshal delivery: %w", err)
	}

	envelope := struct {
		Tx        json.RawMessage `json:"tx"`
		Signature string          `json:"signature"`
	}{
		Tx:        body,
		Signature: hex.EncodeToString(ed25519.Sign(s.key, body)),
	}

	signed, err := json.Marshal(envelope)
	if err != nil {
		return SignedTx{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return NewSignedTx(signed), nil
}
