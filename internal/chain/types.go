package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      int             `json:"id"`
}

// RPCError is the node-reported error payload.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// SignedTx is a signed, broadcast-ready transaction. Hash is computed locally
// from the signed payload at build time, so a duplicate broadcast can be
// resolved without re-querying the node.
type SignedTx struct {
	Bytes []byte
	Hash  string
}

// NewSignedTx wraps signed payload bytes with their deterministic hash.
func NewSignedTx(signed []byte) SignedTx {
	sum := sha256.Sum256(signed)
	return SignedTx{Bytes: signed, Hash: "0x" + hex.EncodeToString(sum[:])}
}

// Tx is a transaction as reported by the node.
type Tx struct {
	Hash        string `json:"hash"`
	Sender      string `json:"sender"`
	Sequence    uint64 `json:"sequence"`
	BlockHash   string `json:"blockhash,omitempty"`
	BlockTime   uint64 `json:"blocktime,omitempty"`
	VMState     string `json:"vmstate,omitempty"`
	RawTxBase64 string `json:"tx,omitempty"`
}

// Account is the node's view of an account, as returned by getaccountstate.
type Account struct {
	Address  string `json:"address"`
	Balance  string `json:"balance"`
	Sequence uint64 `json:"sequence"`
}
