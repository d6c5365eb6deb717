package txstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"txledger/internal/types"
)

var (
	// ErrInvalidRecord indicates a record that cannot enter the store.
	ErrInvalidRecord = errors.New("invalid transaction record")
	// ErrPrincipalMismatch indicates a record scoped to another principal.
	ErrPrincipalMismatch = errors.New("record belongs to another principal")
)

// Failure reasons written by the confirmation watcher.
const (
	ReasonConfirmationTimeout = "confirmation_timeout"
	ReasonReverted            = "reverted"
)

// ConfirmationData is the settlement reference attached once a record leaves pending.
type ConfirmationData struct {
	BlockNumber uint64 `json:"blockNumber"`
	BlockHash   string `json:"blockHash,omitempty"`
	GasUsed     uint64 `json:"gasUsed"`
}

// Record is one externally submitted write operation.
type Record struct {
	Identifier       string            `json:"identifier"`
	Principal        string            `json:"principal"`
	Category         types.Category    `json:"category"`
	Description      string            `json:"description"`
	CreatedAt        time.Time         `json:"createdAt"`
	Status           types.TxStatus    `json:"status"`
	Reason           string            `json:"reason,omitempty"`
	ConfirmationData *ConfirmationData `json:"confirmationData,omitempty"`
	RelatedEntityID  string            `json:"relatedEntityId,omitempty"`
}

// NormalizeIdentifier canonicalizes an identifier so local and remote copies compare equal.
// Identifiers are hex transaction hashes, where case carries no meaning, so
// they are folded to lower case. A case-sensitive identifier scheme would
// need its own normalization.
func NormalizeIdentifier(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// NormalizePrincipal canonicalizes a principal address.
func NormalizePrincipal(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r.ConfirmationData != nil {
		cd := *r.ConfirmationData
		r.ConfirmationData = &cd
	}
	return r
}

// IsTerminal reports whether the record has settled.
func (r Record) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// normalize canonicalizes identity fields and checks the record invariants.
func (r Record) normalize() (Record, error) {
	r = r.Clone()
	r.Identifier = NormalizeIdentifier(r.Identifier)
	r.Principal = NormalizePrincipal(r.Principal)
	if r.Identifier == "" {
		return r, fmt.Errorf("%w: empty identifier", ErrInvalidRecord)
	}
	if r.Status == "" {
		r.Status = types.TxStatusPending
	}
	if _, err := types.ParseTxStatus(string(r.Status)); err != nil {
		return r, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if r.Category == "" {
		r.Category = types.CategoryOther
	}
	if r.Status == types.TxStatusConfirmed && r.ConfirmationData == nil {
		return r, fmt.Errorf("%w: confirmed record %s has no confirmation data", ErrInvalidRecord, r.Identifier)
	}
	if r.Status == types.TxStatusPending {
		r.ConfirmationData = nil
		r.Reason = ""
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}
