package txstore

// ChangeKind names the mutation that produced a Change.
type ChangeKind string

const (
	ChangeInserted   ChangeKind = "inserted"
	ChangeUpdated    ChangeKind = "updated"
	ChangeStatus     ChangeKind = "status"
	ChangeCleared    ChangeKind = "cleared"
	ChangeReconciled ChangeKind = "reconciled"
)

// Change is delivered to listeners after a mutation has been committed.
type Change struct {
	Kind      ChangeKind
	Principal string
	// Record is the affected record for single-record changes.
	Record Record
	// Count is the number of records after the change.
	Count int
}

// Listener receives committed changes in commit order. Listeners run on the
// mutating goroutine and must not call mutating Store methods.
type Listener func(Change)

// OnChange registers l and returns a function that removes it.
func (s *Store) OnChange(l Listener) (unsubscribe func()) {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Store) notify(change Change) {
	s.listenerMu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.listenerMu.Unlock()

	for _, l := range ls {
		l(change)
	}
}
