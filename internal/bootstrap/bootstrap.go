package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"txledger/internal/app"
	"txledger/internal/backend"
	"txledger/internal/config"
	"txledger/internal/evm"
	"txledger/internal/keyloader"
	"txledger/internal/ledger"
	"txledger/internal/logger"
	"txledger/internal/platform/database"
	"txledger/internal/storage"
	"txledger/internal/txstore"
	"txledger/internal/utils"
)

const balanceTimeout = 30 * time.Second

// Options controls how the environment is assembled.
type Options struct {
	KeysPath string
	// Online connects to the configured EVM nodes. Without it submissions fail
	// with ledger.ErrSubmissionFailed and nothing can be watched.
	Online bool
	// Approve is consulted before each transaction is signed. nil approves everything.
	Approve evm.Approver
}

// Env holds every long-lived collaborator of one process.
type Env struct {
	Config *config.Config
	Log    logger.Logger
	App    *app.Application
	Store  *txstore.Store

	state  storage.StateStorage
	client *evm.Client
	signer *evm.Signer
}

// Build loads keys, opens the state storage and wires the application for the
// principal the configuration selects. ctx is the process lifecycle.
func Build(ctx context.Context, cfg *config.Config, opts Options, log logger.Logger) (*Env, error) {
	log.Info("Loading keys...", "path", opts.KeysPath)
	keys, err := keyloader.LoadKeys(opts.KeysPath, log)
	if err != nil {
		return nil, err
	}
	key, err := keyloader.SelectKey(keys, cfg.Principal)
	if err != nil {
		return nil, err
	}
	signer, err := evm.NewSigner(key.PrivateKey)
	if err != nil {
		return nil, err
	}
	principal := signer.Address().Hex()
	log.Info("Principal selected", "principal", principal, "keys_loaded", len(keys))

	state, err := database.NewStorage(ctx, log, cfg.Database.Type, cfg.Database.ConnectionString, cfg.Database.PoolMaxConns)
	if err != nil {
		return nil, err
	}
	env := &Env{Config: cfg, Log: log, state: state, signer: signer}

	var client ledger.Client = offlineLedger{}
	if opts.Online {
		env.client, err = evm.NewClient(ctx, log, cfg.Ledger.RPCNodes, cfg.Ledger.PollInterval)
		if err != nil {
			env.Close()
			return nil, err
		}
		client = evm.NewLedger(env.client, signer, opts.Approve, log)
	}

	env.Store, err = txstore.New(ctx, txstore.Options{
		Principal: principal,
		State:     state,
		Codec:     cfg.Database.Codec,
		Logger:    log,
	})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("opening record store: %w", err)
	}

	remote := backend.NewClient(cfg.Backend, principal, signer, log)
	env.App = app.NewApplication(ctx, cfg, app.Deps{
		Store:  env.Store,
		Ledger: client,
		Remote: remote,
		State:  state,
	}, log)
	return env, nil
}

// LogBalance logs the principal's balance. It is a no-op when offline.
func (e *Env) LogBalance(ctx context.Context) {
	if e.client == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, balanceTimeout)
	defer cancel()

	balanceWei, err := e.client.GetBalance(callCtx, e.signer.Address())
	if err != nil {
		e.Log.Warn("Could not fetch balance", "principal", e.signer.Address().Hex(), "error", err)
		return
	}
	e.Log.Info("Balance", "principal", e.signer.Address().Hex(), "balance_eth", utils.FromWei(balanceWei))
}

// Close releases the EVM connection and the state storage.
func (e *Env) Close() {
	if e.client != nil {
		e.client.Close()
	}
	if e.state != nil {
		e.Log.Debug("Closing state storage...")
		if err := e.state.Close(); err != nil {
			e.Log.Error("Failed to close state storage", "error", err)
		}
	}
}

var errOffline = errors.New("no ledger connection in this mode")

// offlineLedger stands in for the EVM ledger in commands that only read or
// reconcile records.
type offlineLedger struct{}

func (offlineLedger) Submit(context.Context, ledger.Operation) (string, error) {
	return "", fmt.Errorf("%w: %w", ledger.ErrSubmissionFailed, errOffline)
}

func (offlineLedger) AwaitOutcome(context.Context, string, time.Duration) (ledger.Outcome, error) {
	return ledger.Outcome{}, fmt.Errorf("%w: %w", ledger.ErrNetwork, errOffline)
}
