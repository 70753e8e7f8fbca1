package chain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a broadcast failure. Retry logic branches on this tag,
// never on message substrings.
type ErrorKind int

const (
	// KindOther covers transient or unclassified node errors.
	KindOther ErrorKind = iota
	// KindDuplicate means the node already holds this exact transaction.
	KindDuplicate
	// KindBadSequence means the signed sequence does not match the account's
	// on-chain sequence.
	KindBadSequence
)

func (k ErrorKind) String() string {
	switch k {
	case KindDuplicate:
		return "duplicate"
	case KindBadSequence:
		return "bad_sequence"
	default:
		return "other"
	}
}

// Node error codes for sendrawtransaction failures.
const (
	codeAlreadyExists    = -501
	codeMempoolConflict  = -502
	codeInvalidSequence  = -504
	codeInsufficientFee  = -505
	codePolicyViolation  = -507
	codeVerificationFail = -500
)

// BroadcastError reports a failed transaction broadcast with its
// classification.
type BroadcastError struct {
	Kind ErrorKind
	Code int
	Msg  string
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast failed (%s, code %d): %s", e.Kind, e.Code, e.Msg)
}

// classifyBroadcastError maps a node RPC error to a tagged BroadcastError.
func classifyBroadcastError(rpcErr *RPCError) *BroadcastError {
	kind := KindOther
	switch rpcErr.Code {
	case codeAlreadyExists, codeMempoolConflict:
		kind = KindDuplicate
	case codeInvalidSequence:
		kind = KindBadSequence
	}
	return &BroadcastError{Kind: kind, Code: rpcErr.Code, Msg: rpcErr.Message}
}

// BroadcastKind extracts the classification from err, or KindOther if err is
// not a BroadcastError.
func BroadcastKind(err error) ErrorKind {
	var be *BroadcastError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindOther
}

// IsBroadcastError reports whether err carries a broadcast classification.
func IsBroadcastError(err error) bool {
	var be *BroadcastError
	return errors.As(err, &be)
}
