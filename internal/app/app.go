package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"txledger/internal/config"
	"txledger/internal/ledger"
	"txledger/internal/logger"
	"txledger/internal/query"
	"txledger/internal/reconcile"
	"txledger/internal/storage"
	"txledger/internal/txstore"
	"txledger/internal/types"
	"txledger/internal/watcher"
)

// ErrInvalidSubmission indicates a submission rejected before it reached the ledger.
var ErrInvalidSubmission = errors.New("invalid submission")

// Deps are the collaborators an Application is built from.
type Deps struct {
	Store  *txstore.Store
	Ledger ledger.Client
	Remote reconcile.Remote
	// State holds reconciliation bookkeeping next to the record snapshot.
	State storage.StateStorage
}

// SubmitRequest describes one operation to submit and how to record it.
type SubmitRequest struct {
	Operation       ledger.Operation
	Category        types.Category
	Description     string
	RelatedEntityID string
}

// Application wires the record store to its watchers, the reconciliation
// engine and the query view for one principal.
type Application struct {
	cfg      *config.Config
	store    *txstore.Store
	ledger   ledger.Client
	watchers *watcher.Manager
	engine   *reconcile.Engine
	view     *query.View
	log      logger.Logger

	// lifecycle outlives any single request; watchers run on it.
	lifecycle context.Context
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewApplication creates an Application. ctx is the process lifecycle:
// watchers and the reconcile loop stop when it is cancelled.
func NewApplication(ctx context.Context, cfg *config.Config, deps Deps, log logger.Logger) *Application {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Application{
		cfg:    cfg,
		store:  deps.Store,
		ledger: deps.Ledger,
		watchers: watcher.NewManager(deps.Store, deps.Ledger, watcher.Options{
			Timeout:      cfg.Ledger.ConfirmationTimeout,
			NetworkRetry: cfg.Ledger.NetworkRetry,
			Logger:       log,
		}),
		engine: reconcile.NewEngine(deps.Store, deps.Remote, deps.State, reconcile.Options{
			Interval:          cfg.Reconcile.Interval,
			MaxUploadsPerPass: cfg.Reconcile.MaxUploadsPerPass,
			RetryQueueSize:    cfg.Reconcile.RetryQueueSize,
			Backoff:           cfg.Reconcile.Backoff,
			Logger:            log,
		}),
		view:      query.NewView(deps.Store, cfg.Query.DefaultLimit),
		log:       log,
		lifecycle: ctx,
		now:       time.Now,
	}
}

// Submit sends the operation to the ledger, records it as pending and starts
// its watcher. Ledger errors are returned as is and leave no record behind.
func (a *Application) Submit(ctx context.Context, req SubmitRequest) (txstore.Record, error) {
	category, err := types.ParseCategory(strings.TrimSpace(string(req.Category)))
	if err != nil {
		return txstore.Record{}, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	a.log.Info("Submitting operation", "category", category, "to", req.Operation.To.Hex())
	id, err := a.ledger.Submit(ctx, req.Operation)
	if err != nil {
		if errors.Is(err, ledger.ErrUserRejected) {
			a.log.Warn("Submission rejected by user", "category", category)
		} else {
			a.log.Error("Submission failed", "category", category, "error", err)
		}
		return txstore.Record{}, err
	}

	r := txstore.Record{
		Identifier:      id,
		Principal:       a.store.Principal(),
		Category:        category,
		Description:     req.Description,
		CreatedAt:       a.now().UTC(),
		Status:          types.TxStatusPending,
		RelatedEntityID: req.RelatedEntityID,
	}
	if err := a.store.Upsert(r); err != nil {
		// The operation is on the ledger; reconciliation will pull it if the backend learns of it.
		a.log.Error("Submitted operation could not be recorded", "identifier", id, "error", err)
		return txstore.Record{}, err
	}
	a.watchers.Watch(a.lifecycle, id)

	stored, _ := a.store.Get(id)
	a.log.Success("Operation submitted", "identifier", stored.Identifier, "category", category)
	return stored, nil
}

// Run resumes watchers for pending records and runs the reconcile loop until
// ctx is done, then waits for the watchers to stop.
func (a *Application) Run(ctx context.Context) {
	a.log.Info("Starting transaction ledger", "principal", a.store.Principal(), "records", a.store.Len())
	a.watchers.Resume(a.lifecycle)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.engine.Run(ctx)
	}()

	<-ctx.Done()
	a.log.Warn("Shutdown requested, waiting for background work")
	a.Wait()
	a.log.Info("Transaction ledger stopped", "pending", len(a.store.Pending()))
}

// Wait blocks until the reconcile loop and every watcher have returned.
func (a *Application) Wait() {
	a.wg.Wait()
	a.watchers.Wait()
}

// ResumeWatchers starts watchers for every pending record.
func (a *Application) ResumeWatchers() int {
	return a.watchers.Resume(a.lifecycle)
}

// Sync runs one reconciliation pass now.
func (a *Application) Sync(ctx context.Context) (reconcile.Report, error) {
	return a.engine.Pass(ctx)
}

// Clear empties the records locally and on the backend.
func (a *Application) Clear(ctx context.Context) error {
	return a.engine.Clear(ctx)
}

// ClearPending reports whether a remote clear is still outstanding.
func (a *Application) ClearPending(ctx context.Context) bool {
	return a.engine.ClearPending(ctx)
}

// Query serves a page of records.
func (a *Application) Query(filter query.Filter, page, limit int) query.Page {
	return a.view.Query(filter, page, limit)
}

// Summary counts records per status.
func (a *Application) Summary(filter query.Filter) query.Summary {
	return a.view.Summarize(filter)
}

// Get returns one record.
func (a *Application) Get(identifier string) (txstore.Record, bool) {
	return a.store.Get(identifier)
}

// Principal returns the principal the application is scoped to.
func (a *Application) Principal() string {
	return a.store.Principal()
}

// InFlight returns the number of running watchers.
func (a *Application) InFlight() int {
	return a.watchers.InFlight()
}

// OnChange subscribes to committed store changes.
func (a *Application) OnChange(l txstore.Listener) func() {
	return a.store.OnChange(l)
}
