// Package signer defines the per-account sequence bookkeeping model.
package signer

import "time"

// SequenceCounter is the authoritative allocation state for one chain
// account. NextSequence is the next number to hand out; HighestConfirmed is
// advisory bookkeeping of broadcast confirmations and is never consulted for
// allocation.
type SequenceCounter struct {
	SignerAddr       string    `json:"signer_addr"`
	NextSequence     uint64    `json:"next_sequence"`
	HighestConfirmed uint64    `json:"highest_confirmed"`
	UpdatedAt        time.Time `json:"updated_at"`
}
