package types

import "fmt"

// TxStatus defines the lifecycle status of a transaction record.
type TxStatus string

const (
	// TxStatusPending indicates the operation was accepted by the ledger client and awaits settlement.
	TxStatusPending TxStatus = "pending"
	// TxStatusConfirmed indicates the ledger settled the operation successfully.
	TxStatusConfirmed TxStatus = "confirmed"
	// TxStatusFailed indicates the ledger rejected the operation, or the local wait for it timed out.
	TxStatusFailed TxStatus = "failed"
)

// ParseTxStatus validates a raw status value. Only the exact lowercase names are accepted.
func ParseTxStatus(raw string) (TxStatus, error) {
	switch s := TxStatus(raw); s {
	case TxStatusPending, TxStatusConfirmed, TxStatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown transaction status %q", raw)
	}
}

// IsTerminal reports whether the status can no longer change.
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusConfirmed || s == TxStatusFailed
}

// CanBecome reports whether moving from s to next is allowed.
// Pending may move anywhere, a terminal status only to itself.
func (s TxStatus) CanBecome(next TxStatus) bool {
	if s == next {
		return true
	}
	return s == TxStatusPending && next.IsTerminal()
}
