package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUserRejected indicates the signer refused to sign the operation.
	ErrUserRejected = errors.New("operation rejected by user")
	// ErrSubmissionFailed indicates the operation never reached the ledger.
	ErrSubmissionFailed = errors.New("operation submission failed")
	// ErrTimeout indicates no outcome was observed within the wait bound.
	ErrTimeout = errors.New("timed out waiting for ledger outcome")
	// ErrNetwork indicates a transient failure talking to the ledger node.
	ErrNetwork = errors.New("ledger network error")
)

// Operation is a write operation to submit to the external ledger.
type Operation struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64 // 0 means estimate
}

// OutcomeStatus is the settlement verdict reported by the ledger.
type OutcomeStatus string

const (
	OutcomeSuccess  OutcomeStatus = "success"
	OutcomeReverted OutcomeStatus = "reverted"
)

// Outcome is the terminal result of a submitted operation.
type Outcome struct {
	Status      OutcomeStatus
	BlockNumber uint64
	BlockHash   string
	GasUsed     uint64
}

// Client signs and submits operations and waits for their outcome.
type Client interface {
	// Submit sends the operation and returns the ledger-assigned identifier.
	// Errors wrap ErrUserRejected or ErrSubmissionFailed.
	Submit(ctx context.Context, op Operation) (string, error)
	// AwaitOutcome blocks until the identifier settles, the timeout elapses
	// (ErrTimeout) or the node cannot be reached (ErrNetwork).
	AwaitOutcome(ctx context.Context, identifier string, timeout time.Duration) (Outcome, error)
}
