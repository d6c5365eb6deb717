package query

import (
	"strings"
	"time"

	"txledger/internal/txstore"
	"txledger/internal/types"
)

const fallbackLimit = 10

// Filter narrows a query. Zero values match everything. From and To bound
// createdAt inclusively; EntityText is a case-insensitive substring of
// relatedEntityId.
type Filter struct {
	Category   types.Category
	Status     types.TxStatus
	From       time.Time
	To         time.Time
	EntityText string
}

// Page is one page of matching records.
type Page struct {
	Records    []txstore.Record `json:"records"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int              `json:"totalPages"`
}

// Source is the read side of the record store.
type Source interface {
	All() []txstore.Record
}

// View serves paginated, filtered reads over a store. It never mutates it.
type View struct {
	source       Source
	defaultLimit int
}

// NewView creates a view over source. A non-positive defaultLimit means 10.
func NewView(source Source, defaultLimit int) *View {
	if defaultLimit <= 0 {
		defaultLimit = fallbackLimit
	}
	return &View{source: source, defaultLimit: defaultLimit}
}

// Matches reports whether r passes the filter.
func (f Filter) Matches(r txstore.Record) bool {
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.CreatedAt.After(f.To) {
		return false
	}
	if f.EntityText != "" && !strings.Contains(strings.ToLower(r.RelatedEntityID), strings.ToLower(f.EntityText)) {
		return false
	}
	return true
}

// Query returns page (1-based) of the records matching filter, in the store's
// newest-first order. An out of range page is clamped; an empty result is
// page 1 of 0.
func (v *View) Query(filter Filter, page, limit int) Page {
	if limit <= 0 {
		limit = v.defaultLimit
	}

	var matched []txstore.Record
	for _, r := range v.source.All() {
		if filter.Matches(r) {
			matched = append(matched, r)
		}
	}

	total := len(matched)
	totalPages := total / limit
	if total%limit != 0 {
		totalPages++
	}
	out := Page{Records: []txstore.Record{}, Total: total, Limit: limit, TotalPages: totalPages, Page: 1}
	if totalPages == 0 {
		return out
	}

	switch {
	case page < 1:
		page = 1
	case page > totalPages:
		page = totalPages
	}
	start := (page - 1) * limit
	end := total
	if total-start > limit {
		end = start + limit
	}
	out.Page = page
	out.Records = matched[start:end]
	return out
}

// Summary counts records per status.
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
}

// Summarize counts the records matching filter per status.
func (v *View) Summarize(filter Filter) Summary {
	var s Summary
	for _, r := range v.source.All() {
		if !filter.Matches(r) {
			continue
		}
		s.Total++
		switch r.Status {
		case types.TxStatusPending:
			s.Pending++
		case types.TxStatusConfirmed:
			s.Confirmed++
		case types.TxStatusFailed:
			s.Failed++
		}
	}
	return s
}
