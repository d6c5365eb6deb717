package txstore

import (
	"sort"

	"txledger/internal/types"
)

// Conflict describes an identifier for which both copies settled differently.
// The local copy is kept; nothing decides which ledger verdict is right.
type Conflict struct {
	Identifier   string         `json:"identifier"`
	LocalStatus  types.TxStatus `json:"localStatus"`
	RemoteStatus types.TxStatus `json:"remoteStatus"`
}

// MergeReport summarizes a set merge.
type MergeReport struct {
	// Pulled lists identifiers only the remote side knew.
	Pulled []string
	// LocalOnly lists identifiers the remote side does not know yet.
	LocalOnly []string
	// Settled lists identifiers promoted from pending by the remote copy.
	Settled []string
	// Stale lists identifiers settled locally while the remote copy is still pending.
	Stale []string
	// Conflicts lists identifiers settled differently on both sides.
	Conflicts []Conflict
}

type fieldPolicy int

const (
	// overwriteFields lets non-empty incoming descriptive fields replace existing ones.
	overwriteFields fieldPolicy = iota
	// fillFields only fills descriptive fields that are empty on the existing copy.
	fillFields
)

type mergeResult struct {
	record         Record
	statusRejected bool
	conflict       bool
	changed        bool
}

// mergeRecord folds incoming into existing. Status only moves forward; a
// terminal status and its confirmation data are never replaced.
func mergeRecord(existing, incoming Record, policy fieldPolicy) mergeResult {
	out := existing.Clone()

	pick := func(cur, in string) string {
		if in == "" || (policy == fillFields && cur != "") {
			return cur
		}
		return in
	}
	out.Description = pick(out.Description, incoming.Description)
	out.RelatedEntityID = pick(out.RelatedEntityID, incoming.RelatedEntityID)
	out.Category = types.Category(pick(string(out.Category), string(incoming.Category)))
	if out.CreatedAt.IsZero() {
		out.CreatedAt = incoming.CreatedAt
	}
	if out.Principal == "" {
		out.Principal = incoming.Principal
	}

	res := mergeResult{}
	switch {
	case existing.Status == incoming.Status && existing.IsTerminal():
		if out.ConfirmationData == nil && incoming.ConfirmationData != nil {
			out.ConfirmationData = incoming.Clone().ConfirmationData
		}
		if out.Reason == "" {
			out.Reason = incoming.Reason
		}
	case existing.Status.CanBecome(incoming.Status):
		out.Status = incoming.Status
		out.ConfirmationData = incoming.Clone().ConfirmationData
		out.Reason = incoming.Reason
	default:
		res.statusRejected = true
		res.conflict = existing.IsTerminal() && incoming.IsTerminal()
	}

	res.record = out
	res.changed = !recordsEqual(existing, out)
	return res
}

// MergeSets reconciles a local and a remote record set. Every identifier in
// either input is present in the output, newest first.
func MergeSets(local, remote []Record) ([]Record, MergeReport) {
	var report MergeReport
	remoteByID := make(map[string]Record, len(remote))
	for _, r := range remote {
		remoteByID[NormalizeIdentifier(r.Identifier)] = r
	}

	merged := make([]Record, 0, len(local)+len(remote))
	seen := make(map[string]bool, len(local))
	for _, l := range local {
		id := NormalizeIdentifier(l.Identifier)
		seen[id] = true
		r, ok := remoteByID[id]
		if !ok {
			report.LocalOnly = append(report.LocalOnly, id)
			merged = append(merged, l.Clone())
			continue
		}

		res := mergeRecord(l, r, fillFields)
		switch {
		case res.conflict:
			report.Conflicts = append(report.Conflicts, Conflict{Identifier: id, LocalStatus: l.Status, RemoteStatus: r.Status})
		case l.Status == types.TxStatusPending && r.IsTerminal():
			report.Settled = append(report.Settled, id)
		case l.IsTerminal() && r.Status == types.TxStatusPending:
			report.Stale = append(report.Stale, id)
		}
		merged = append(merged, res.record)
	}

	for _, r := range remote {
		id := NormalizeIdentifier(r.Identifier)
		if seen[id] {
			continue
		}
		seen[id] = true
		report.Pulled = append(report.Pulled, id)
		merged = append(merged, remoteByID[id].Clone())
	}

	sortNewestFirst(merged)
	return merged, report
}

// sortNewestFirst orders by CreatedAt descending, identifier ascending on ties.
func sortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].Identifier < records[j].Identifier
	})
}

func recordsEqual(a, b Record) bool {
	if (a.ConfirmationData == nil) != (b.ConfirmationData == nil) {
		return false
	}
	if a.ConfirmationData != nil && *a.ConfirmationData != *b.ConfirmationData {
		return false
	}
	return a.Identifier == b.Identifier &&
		a.Principal == b.Principal &&
		a.Category == b.Category &&
		a.Description == b.Description &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.Status == b.Status &&
		a.Reason == b.Reason &&
		a.RelatedEntityID == b.RelatedEntityID
}
