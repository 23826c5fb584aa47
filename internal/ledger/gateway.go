package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	// ErrSigningRejected means the signer declined or the intent was discarded before signing.
	ErrSigningRejected = errors.New("ledger: signing rejected")
	// ErrMalformedResponse means a read result did not match the contract schema.
	ErrMalformedResponse = errors.New("ledger: malformed response")
	// ErrReverted means the ledger refused the write.
	ErrReverted = errors.New("ledger: transaction reverted")
	// ErrConfirmationTimeout means no receipt was observed within the confirmation window.
	ErrConfirmationTimeout = errors.New("ledger: confirmation timeout")
	// ErrNotFound means the requested on-chain record does not exist.
	ErrNotFound = errors.New("ledger: not found")
	// ErrUnavailable means the ledger endpoint could not be reached.
	ErrUnavailable = errors.New("ledger: unavailable")
)

// TxStatus is what the confirmation watcher observes for a handle.
type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxIncluded TxStatus = "included"
	TxFailed   TxStatus = "failed"
)

// Handle identifies a submitted write.
type Handle struct {
	Hash common.Hash
}

// String renders the transaction hash.
func (h Handle) String() string {
	return h.Hash.Hex()
}

// Event is one decoded contract log. Fields holds indexed and data arguments by ABI name.
type Event struct {
	Name   string
	Fields map[string]any
	Block  uint64
	Index  uint
}

// Before reports whether e was emitted before o.
func (e Event) Before(o Event) bool {
	if e.Block != o.Block {
		return e.Block < o.Block
	}
	return e.Index < o.Index
}

// Gateway is the generic read/write surface of the ledger, keyed by contract method name.
// Call results carry the Go types produced by ABI decoding.
//
// Events returns the logs of the named event in emission order. query holds one slice of
// accepted values per indexed argument, in declaration order; an empty slice matches
// anything.
type Gateway interface {
	Call(ctx context.Context, method string, args ...any) ([]any, error)
	Events(ctx context.Context, event string, query ...[]any) ([]Event, error)
	Send(ctx context.Context, signer Signer, method string, args ...any) (Handle, error)
	Status(ctx context.Context, h Handle) (TxStatus, error)
}
