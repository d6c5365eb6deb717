package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"txledger/internal/config"
	"txledger/internal/ledger"
	"txledger/internal/logger"
	"txledger/internal/retry"
	"txledger/internal/txstore"
	"txledger/internal/types"
)

// ReasonLedgerError marks a record the ledger client could not wait on for a
// reason other than a timeout or a transient network failure.
const ReasonLedgerError = "ledger_error"

const defaultTimeout = 5 * time.Minute

// Options configures a Manager.
type Options struct {
	// Timeout bounds the wait for one identifier. When it elapses the record
	// is failed with reason confirmation_timeout.
	Timeout time.Duration
	// NetworkRetry is the backoff applied to ledger.ErrNetwork within Timeout.
	NetworkRetry config.BackoffConfig
	Logger       logger.Logger
}

// Manager runs one confirmation watcher per pending identifier and writes
// each outcome into the store.
type Manager struct {
	store   *txstore.Store
	ledger  ledger.Client
	timeout time.Duration
	retry   *retry.Retry
	log     logger.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewManager creates a watcher manager writing into store.
func NewManager(store *txstore.Store, client ledger.Client, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.NetworkRetry.Initial <= 0 {
		opts.NetworkRetry.Initial = time.Second
	}
	return &Manager{
		store:    store,
		ledger:   client,
		timeout:  opts.Timeout,
		retry:    retry.FromConfig(opts.NetworkRetry),
		log:      opts.Logger,
		inflight: make(map[string]struct{}),
	}
}

// Watch starts a watcher for identifier unless one is already running.
// ctx is the process lifecycle: cancelling it stops the watcher and leaves
// the record pending so it can be resumed later. It reports whether a new
// watcher was started.
func (m *Manager) Watch(ctx context.Context, identifier string) bool {
	id := txstore.NormalizeIdentifier(identifier)
	if id == "" {
		return false
	}

	m.mu.Lock()
	if _, ok := m.inflight[id]; ok {
		m.mu.Unlock()
		m.log.Debug("Watcher already running", "identifier", id)
		return false
	}
	m.inflight[id] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.inflight, id)
			m.mu.Unlock()
			m.wg.Done()
		}()
		m.watch(ctx, id)
	}()
	return true
}

// Resume starts watchers for every pending record in the store and returns
// how many were started.
func (m *Manager) Resume(ctx context.Context) int {
	started := 0
	for _, r := range m.store.Pending() {
		if m.Watch(ctx, r.Identifier) {
			started++
		}
	}
	if started > 0 {
		m.log.Info("Resumed confirmation watchers", "count", started)
	}
	return started
}

// InFlight returns the number of running watchers.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Wait blocks until every started watcher has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) watch(ctx context.Context, id string) {
	log := m.log
	deadline := time.Now().Add(m.timeout)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var outcome ledger.Outcome
	err := m.retry.Do(waitCtx, func(attempt int) (bool, error) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, ledger.ErrTimeout
		}
		var err error
		outcome, err = m.ledger.AwaitOutcome(waitCtx, id, remaining)
		if errors.Is(err, ledger.ErrNetwork) && ctx.Err() == nil {
			log.Warn("Ledger unreachable while waiting, retrying", "identifier", id, "attempt", attempt, "error", err)
			return true, err
		}
		return false, err
	})

	switch {
	case err == nil:
		m.apply(id, outcome)
	case ctx.Err() != nil:
		log.Info("Watcher stopped by shutdown, record stays pending", "identifier", id)
	case errors.Is(err, ledger.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		log.Warn("No ledger outcome within the wait bound", "identifier", id, "timeout", m.timeout)
		m.store.SetStatus(id, types.TxStatusFailed, nil, txstore.ReasonConfirmationTimeout)
	default:
		log.Error("Ledger client failed while waiting for outcome", "identifier", id, "error", err)
		m.store.SetStatus(id, types.TxStatusFailed, nil, ReasonLedgerError)
	}
}

func (m *Manager) apply(id string, outcome ledger.Outcome) {
	data := &txstore.ConfirmationData{
		BlockNumber: outcome.BlockNumber,
		BlockHash:   outcome.BlockHash,
		GasUsed:     outcome.GasUsed,
	}
	if outcome.Status == ledger.OutcomeSuccess {
		if m.store.SetStatus(id, types.TxStatusConfirmed, data, "") {
			m.log.Success("Transaction confirmed", "identifier", id, "block", outcome.BlockNumber, "gas_used", outcome.GasUsed)
		}
		return
	}
	if m.store.SetStatus(id, types.TxStatusFailed, data, txstore.ReasonReverted) {
		m.log.Warn("Transaction reverted", "identifier", id, "block", outcome.BlockNumber)
	}
}
