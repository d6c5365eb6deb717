package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"txledger/internal/config"
	"txledger/internal/logger"
	"txledger/internal/retry"
	"txledger/internal/storage"
	"txledger/internal/txstore"
	"txledger/internal/utils"
)

// Remote is the authoritative backend copy of the principal's records.
type Remote interface {
	FetchAll(ctx context.Context) ([]txstore.Record, error)
	Create(ctx context.Context, r txstore.Record) error
	Patch(ctx context.Context, r txstore.Record) error
	Clear(ctx context.Context) error
}

// ErrClearPending indicates the backend still holds records a local clear removed.
var ErrClearPending = errors.New("remote clear is still pending")

// Options configures an Engine.
type Options struct {
	Interval          config.DelayRange
	MaxUploadsPerPass int
	RetryQueueSize    int
	Backoff           config.BackoffConfig
	Logger            logger.Logger
}

// Report describes one reconciliation pass.
type Report struct {
	txstore.MergeReport
	Uploaded []string
	Patched  []string
	// Deferred lists writes skipped because their backoff has not elapsed
	// or the per-pass upload bound was reached.
	Deferred []string
	// Failed lists writes that failed in this pass and were requeued.
	Failed []string
}

// Engine keeps the store and the backend copy consistent.
type Engine struct {
	store     *txstore.Store
	remote    Remote
	state     storage.StateStorage
	markerKey string
	opts      Options
	queue     *retryQueue
	log       logger.Logger

	// passMu serializes passes and clears.
	passMu sync.Mutex
}

// ClearMarkerKey is the state key recording a remote clear that has not completed.
func ClearMarkerKey(principal string) string {
	return "txstore:pending-clear:" + txstore.NormalizePrincipal(principal)
}

// NewEngine creates an engine for store. state holds the pending-clear marker.
func NewEngine(store *txstore.Store, remote Remote, state storage.StateStorage, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.MaxUploadsPerPass <= 0 {
		opts.MaxUploadsPerPass = 50
	}
	return &Engine{
		store:     store,
		remote:    remote,
		state:     state,
		markerKey: ClearMarkerKey(store.Principal()),
		opts:      opts,
		queue:     newRetryQueue(opts.RetryQueueSize, retry.FromConfig(opts.Backoff)),
		log:       opts.Logger,
	}
}

// Pass runs one reconciliation. A backend failure ends the pass early with an
// error wrapping the cause; the local store is never reduced by a failed pass.
func (e *Engine) Pass(ctx context.Context) (Report, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	var report Report
	if err := e.finishPendingClear(ctx); err != nil {
		return report, err
	}

	remote, err := e.remote.FetchAll(ctx)
	if err != nil {
		e.log.Warn("Fetching backend records failed, keeping local set", "error", err)
		return report, fmt.Errorf("fetching backend records: %w", err)
	}

	report.MergeReport = e.store.Reconcile(remote)
	for _, c := range report.Conflicts {
		e.log.Warn("Local and backend copies settled differently, keeping local",
			"identifier", c.Identifier, "local", c.LocalStatus, "backend", c.RemoteStatus)
	}

	budget := e.opts.MaxUploadsPerPass
	e.push(ctx, opCreate, report.LocalOnly, &budget, &report.Uploaded, &report)
	e.push(ctx, opPatch, report.Stale, &budget, &report.Patched, &report)

	e.log.Info("Reconciliation pass done",
		"pulled", len(report.Pulled), "settled", len(report.Settled),
		"uploaded", len(report.Uploaded), "patched", len(report.Patched),
		"deferred", len(report.Deferred), "failed", len(report.Failed),
		"conflicts", len(report.Conflicts))
	return report, nil
}

func (e *Engine) push(ctx context.Context, op opKind, ids []string, budget *int, done *[]string, report *Report) {
	for _, id := range ids {
		if *budget <= 0 || !e.queue.due(op, id) {
			report.Deferred = append(report.Deferred, id)
			continue
		}
		r, ok := e.store.Get(id)
		if !ok {
			continue
		}
		*budget--

		var err error
		if op == opCreate {
			err = e.remote.Create(ctx, r)
		} else {
			err = e.remote.Patch(ctx, r)
		}
		if err != nil {
			entry := e.queue.failed(op, id, err)
			e.log.Warn("Backend write failed, requeued", "op", op, "identifier", id,
				"attempt", entry.attempts, "retry_at", entry.next.Format(time.RFC3339), "error", err)
			report.Failed = append(report.Failed, id)
			continue
		}
		e.queue.succeeded(op, id)
		*done = append(*done, id)
	}
}

// Clear empties the local store and the backend copy. The intent is recorded
// first, so a backend failure is finished by the next pass before it fetches.
func (e *Engine) Clear(ctx context.Context) error {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	markerErr := e.state.SetState(ctx, e.markerKey, []byte(time.Now().UTC().Format(time.RFC3339)))
	if markerErr != nil {
		e.log.Error("Could not record pending remote clear", "error", markerErr)
	}
	e.store.Clear()
	e.queue.reset()

	if markerErr != nil {
		// Without a marker nothing retries the delete, so issue it now.
		if err := e.remote.Clear(ctx); err != nil {
			e.log.Error("Remote clear failed and could not be recorded for retry", "error", err)
			return fmt.Errorf("%w: %w: %w", ErrClearPending, err, markerErr)
		}
	} else if err := e.finishPendingClear(ctx); err != nil {
		return err
	}
	e.log.Success("Records cleared locally and remotely", "principal", e.store.Principal())
	return nil
}

// ClearPending reports whether a remote clear still has to be issued.
func (e *Engine) ClearPending(ctx context.Context) bool {
	_, err := e.state.GetState(ctx, e.markerKey)
	return err == nil
}

func (e *Engine) finishPendingClear(ctx context.Context) error {
	if _, err := e.state.GetState(ctx, e.markerKey); err != nil {
		if errors.Is(err, storage.ErrStateNotFound) {
			return nil
		}
		return fmt.Errorf("reading pending clear marker: %w", err)
	}
	if err := e.remote.Clear(ctx); err != nil {
		e.log.Warn("Remote clear failed, will retry on next pass", "error", err)
		return fmt.Errorf("%w: %w", ErrClearPending, err)
	}
	if err := e.state.DeleteState(ctx, e.markerKey); err != nil {
		e.log.Warn("Could not remove pending clear marker", "error", err)
	}
	return nil
}

// Run performs a pass immediately and then after every jittered interval
// until ctx is done. Pass errors are logged and retried on the next tick.
func (e *Engine) Run(ctx context.Context) {
	for {
		if _, err := e.Pass(ctx); err != nil && ctx.Err() == nil {
			e.log.Warn("Reconciliation pass failed", "error", err)
		}

		delay, err := utils.RandomDuration(e.opts.Interval)
		if err != nil || delay <= 0 {
			e.log.Error("Invalid reconcile interval, falling back to 30s", "error", err)
			delay = 30 * time.Second
		}
		e.log.Debug("Next reconciliation pass scheduled", "in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.log.Info("Reconciliation loop stopped")
			return
		case <-timer.C:
		}
	}
}
