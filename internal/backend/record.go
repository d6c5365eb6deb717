package backend

import (
	"fmt"
	"strings"
	"time"

	"txledger/internal/txstore"
	"txledger/internal/types"
)

// wireRecord is the record shape the backend sends. Every field is optional on
// the wire; normalizeRecord decides what is acceptable.
type wireRecord struct {
	Identifier       string            `json:"identifier"`
	Principal        string            `json:"principal"`
	Category         string            `json:"category"`
	Description      string            `json:"description"`
	CreatedAt        string            `json:"createdAt"`
	Status           string            `json:"status"`
	Reason           string            `json:"reason"`
	ConfirmationData *wireConfirmation `json:"confirmationData"`
	RelatedEntityID  string            `json:"relatedEntityId"`
}

type wireConfirmation struct {
	BlockNumber *uint64 `json:"blockNumber"`
	BlockHash   string  `json:"blockHash"`
	GasUsed     *uint64 `json:"gasUsed"`
}

type wirePage struct {
	Records    []wireRecord `json:"records"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
	TotalPages int          `json:"totalPages"`
}

// normalizeRecord turns a wire record into a store record, or fails with
// ErrMalformedRecord.
func normalizeRecord(w wireRecord) (txstore.Record, error) {
	id := txstore.NormalizeIdentifier(w.Identifier)
	if id == "" {
		return txstore.Record{}, fmt.Errorf("%w: missing identifier", ErrMalformedRecord)
	}
	status, err := types.ParseTxStatus(strings.ToLower(strings.TrimSpace(w.Status)))
	if err != nil {
		return txstore.Record{}, fmt.Errorf("%w: %s: %w", ErrMalformedRecord, id, err)
	}
	category, err := types.ParseCategory(strings.ToLower(strings.TrimSpace(w.Category)))
	if err != nil {
		return txstore.Record{}, fmt.Errorf("%w: %s: %w", ErrMalformedRecord, id, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, w.CreatedAt)
	if err != nil {
		return txstore.Record{}, fmt.Errorf("%w: %s: createdAt: %w", ErrMalformedRecord, id, err)
	}

	r := txstore.Record{
		Identifier:      id,
		Principal:       txstore.NormalizePrincipal(w.Principal),
		Category:        category,
		Description:     w.Description,
		CreatedAt:       createdAt.UTC(),
		Status:          status,
		RelatedEntityID: w.RelatedEntityID,
	}
	if status == types.TxStatusPending {
		return r, nil
	}

	r.Reason = w.Reason
	if cd := w.ConfirmationData; cd != nil {
		if cd.BlockNumber == nil {
			return txstore.Record{}, fmt.Errorf("%w: %s: confirmationData without blockNumber", ErrMalformedRecord, id)
		}
		r.ConfirmationData = &txstore.ConfirmationData{BlockNumber: *cd.BlockNumber, BlockHash: cd.BlockHash}
		if cd.GasUsed != nil {
			r.ConfirmationData.GasUsed = *cd.GasUsed
		}
	}
	if status == types.TxStatusConfirmed && r.ConfirmationData == nil {
		return txstore.Record{}, fmt.Errorf("%w: %s: confirmed without confirmationData", ErrMalformedRecord, id)
	}
	return r, nil
}

// patchBody is the PATCH payload: only the settlement fields.
type patchBody struct {
	Status           types.TxStatus            `json:"status"`
	Reason           string                    `json:"reason,omitempty"`
	ConfirmationData *txstore.ConfirmationData `json:"confirmationData,omitempty"`
}
