package txstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"txledger/internal/logger"
	"txledger/internal/storage"
	"txledger/internal/types"
)

// ErrInvalidPrincipal is returned by New when no principal is given.
var ErrInvalidPrincipal = errors.New("store principal must not be empty")

const defaultPersistTimeout = 10 * time.Second

// Options configures a Store.
type Options struct {
	Principal      string
	State          storage.StateStorage
	Codec          types.SnapshotCodec
	Logger         logger.Logger
	PersistTimeout time.Duration
}

// Store is the principal-scoped, deduplicated set of transaction records.
// Every mutation is atomic, is written through to the state storage before
// the call returns, and is then announced to OnChange listeners.
type Store struct {
	principal      string
	key            string
	state          storage.StateStorage
	codec          types.SnapshotCodec
	log            logger.Logger
	persistTimeout time.Duration

	mu      sync.RWMutex
	records map[string]Record

	// notifyMu keeps listener delivery in commit order.
	notifyMu   sync.Mutex
	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextID     int
}

// SnapshotKey is the state storage key holding a principal's snapshot.
func SnapshotKey(principal string) string {
	return "txstore:records:" + NormalizePrincipal(principal)
}

// New creates a store for opts.Principal and rehydrates its persisted snapshot.
// A corrupt snapshot is moved aside and the store starts empty; the backend
// copy refills it on the next reconciliation.
func New(ctx context.Context, opts Options) (*Store, error) {
	principal := NormalizePrincipal(opts.Principal)
	if principal == "" {
		return nil, ErrInvalidPrincipal
	}
	if opts.State == nil {
		return nil, errors.New("store requires a state storage")
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	if opts.Codec == "" {
		opts.Codec = types.CodecJSON
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}

	s := &Store{
		principal:      principal,
		key:            SnapshotKey(principal),
		state:          opts.State,
		codec:          opts.Codec,
		log:            opts.Logger,
		persistTimeout: opts.PersistTimeout,
		records:        make(map[string]Record),
		listeners:      make(map[int]Listener),
	}

	blob, err := s.state.GetState(ctx, s.key)
	switch {
	case errors.Is(err, storage.ErrStateNotFound):
		s.log.Info("No persisted records for principal, starting empty", "principal", principal)
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("loading record snapshot: %w", err)
	}

	records, err := decodeSnapshot(blob, principal)
	if err != nil {
		s.log.Error("Persisted record snapshot is unreadable, starting empty", "principal", principal, "error", err)
		if setErr := s.state.SetState(ctx, s.key+":corrupt", blob); setErr != nil {
			s.log.Warn("Could not keep a copy of the corrupt snapshot", "error", setErr)
		}
		return s, nil
	}

	for _, r := range records {
		n, err := r.normalize()
		if err != nil || n.Principal != principal {
			s.log.Warn("Dropping invalid record from snapshot", "identifier", r.Identifier, "error", err)
			continue
		}
		if existing, ok := s.records[n.Identifier]; ok {
			n = mergeRecord(existing, n, fillFields).record
		}
		s.records[n.Identifier] = n
	}
	s.log.Info("Records rehydrated", "principal", principal, "count", len(s.records))
	return s, nil
}

// Principal returns the normalized principal this store is scoped to.
func (s *Store) Principal() string {
	return s.principal
}

// Upsert inserts r, or merges it into the record with the same identifier.
// A status downgrade is ignored; descriptive fields are updated in place.
func (s *Store) Upsert(r Record) error {
	n, err := s.admit(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	existing, ok := s.records[n.Identifier]
	if !ok {
		s.records[n.Identifier] = n
		s.commitAndUnlock(Change{Kind: ChangeInserted, Record: n.Clone()})
		return nil
	}

	res := mergeRecord(existing, n, overwriteFields)
	if res.statusRejected {
		s.log.Warn("Ignoring status regression on upsert", "identifier", n.Identifier,
			"current", existing.Status, "requested", n.Status, "conflict", res.conflict)
	}
	if !res.changed {
		s.mu.Unlock()
		return nil
	}
	s.records[n.Identifier] = res.record
	s.commitAndUnlock(Change{Kind: ChangeUpdated, Record: res.record.Clone()})
	return nil
}

// SetStatus moves a known record forward to status. It is a logged no-op when
// the identifier is unknown, the move is not forward, or a confirmed status
// comes without confirmation data. It reports whether the record changed.
func (s *Store) SetStatus(identifier string, status types.TxStatus, data *ConfirmationData, reason string) bool {
	id := NormalizeIdentifier(identifier)
	if status == types.TxStatusConfirmed && data == nil {
		s.log.Error("Refusing confirmed status without confirmation data", "identifier", id)
		return false
	}

	s.mu.Lock()
	existing, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		s.log.Warn("Status update for unknown record ignored", "identifier", id, "status", status)
		return false
	}
	if existing.Status == status || !existing.Status.CanBecome(status) {
		s.mu.Unlock()
		s.log.Warn("Status update is not forward, ignored", "identifier", id,
			"current", existing.Status, "requested", status)
		return false
	}

	updated := existing.Clone()
	updated.Status = status
	updated.Reason = reason
	if data != nil {
		cd := *data
		updated.ConfirmationData = &cd
	}
	s.records[id] = updated
	s.commitAndUnlock(Change{Kind: ChangeStatus, Record: updated.Clone()})
	return true
}

// Clear empties the scoped set and persists the empty state.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = make(map[string]Record)
	s.commitAndUnlock(Change{Kind: ChangeCleared})
}

// All returns a snapshot of every record, newest first.
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Get returns the record for identifier.
func (s *Store) Get(identifier string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[NormalizeIdentifier(identifier)]
	return r.Clone(), ok
}

// Pending returns the records still awaiting settlement, newest first.
func (s *Store) Pending() []Record {
	all := s.All()
	pending := all[:0]
	for _, r := range all {
		if r.Status == types.TxStatusPending {
			pending = append(pending, r)
		}
	}
	return pending
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Reconcile merges the remote set into the store as one atomic mutation and
// reports what the merge did. Records of other principals are skipped.
func (s *Store) Reconcile(remote []Record) MergeReport {
	accepted := make([]Record, 0, len(remote))
	for _, r := range remote {
		n, err := s.admit(r)
		if err != nil {
			s.log.Warn("Skipping remote record", "identifier", r.Identifier, "error", err)
			continue
		}
		accepted = append(accepted, n)
	}

	s.mu.Lock()
	merged, report := MergeSets(s.snapshotLocked(), accepted)
	changed := len(merged) != len(s.records)
	next := make(map[string]Record, len(merged))
	for _, r := range merged {
		if prev, ok := s.records[r.Identifier]; !ok || !recordsEqual(prev, r) {
			changed = true
		}
		next[r.Identifier] = r
	}
	if !changed {
		s.mu.Unlock()
		return report
	}
	s.records = next
	s.commitAndUnlock(Change{Kind: ChangeReconciled})
	return report
}

// admit normalizes r and scopes it to this store's principal.
func (s *Store) admit(r Record) (Record, error) {
	n, err := r.normalize()
	if err != nil {
		return n, err
	}
	if n.Principal == "" {
		n.Principal = s.principal
	}
	if n.Principal != s.principal {
		return n, fmt.Errorf("%w: %s is scoped to %s, store is %s", ErrPrincipalMismatch, n.Identifier, n.Principal, s.principal)
	}
	return n, nil
}

func (s *Store) snapshotLocked() []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	sortNewestFirst(out)
	return out
}

// commitAndUnlock persists the current set, releases mu and delivers change.
// The caller must hold mu for writing.
func (s *Store) commitAndUnlock(change Change) {
	s.persistLocked()
	change.Principal = s.principal
	change.Count = len(s.records)

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	s.notify(change)
}

// persistLocked rewrites the snapshot. A failed write is logged and the
// in-memory set stays authoritative until the next successful write.
func (s *Store) persistLocked() {
	blob, err := encodeSnapshot(s.codec, s.principal, s.snapshotLocked())
	if err != nil {
		s.log.Error("Failed to encode record snapshot", "principal", s.principal, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	if err := s.state.SetState(ctx, s.key, blob); err != nil {
		s.log.Error("Failed to persist record snapshot", "principal", s.principal, "error", err)
	}
}
