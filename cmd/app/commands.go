package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"txledger/internal/api"
	"txledger/internal/app"
	"txledger/internal/bootstrap"
	"txledger/internal/ledger"
	"txledger/internal/query"
	"txledger/internal/reconcile"
	"txledger/internal/txstore"
	"txledger/internal/types"
	"txledger/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
)

func (o *rootOptions) build(ctx context.Context, online bool, approve func(context.Context, *gethtypes.Transaction) error) (*bootstrap.Env, error) {
	return bootstrap.Build(ctx, o.cfg, bootstrap.Options{
		KeysPath: o.KeysPath,
		Online:   online,
		Approve:  approve,
	}, o.log)
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var noAPI bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch pending records, reconcile periodically and serve the local API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(opts.log)
			defer cancel()

			env, err := opts.build(ctx, true, nil)
			if err != nil {
				return err
			}
			defer env.Close()
			env.LogBalance(ctx)

			apiErr := make(chan error, 1)
			if !noAPI {
				srv := api.NewServer(opts.cfg.API, env.App, opts.log)
				go func() {
					if err := srv.ListenAndServe(ctx); err != nil {
						opts.log.Error("API server failed", "error", err)
						apiErr <- err
						cancel()
					}
				}()
			}

			env.App.Run(ctx)
			select {
			case err := <-apiErr:
				return err
			default:
				return nil
			}
		},
	}
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "do not serve the local HTTP API")
	return cmd
}

type submitOptions struct {
	To          string
	Value       string
	Data        string
	GasLimit    uint64
	Category    string
	Description string
	Entity      string
	Yes         bool
	Wait        bool
}

func newSubmitCommand(opts *rootOptions) *cobra.Command {
	so := &submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an operation and record it as pending",
		Example: `  txledger submit --to 0xb0... --value 0.01 --category sample-registration \
    --description "register sample S-1" --entity S-1 --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := so.request()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(opts.log)
			defer cancel()

			var approve func(context.Context, *gethtypes.Transaction) error
			if !so.Yes {
				approve = promptApprover(cmd.InOrStdin(), cmd.ErrOrStderr())
			}
			env, err := opts.build(ctx, true, approve)
			if err != nil {
				return err
			}
			defer func() {
				// An unsettled record stays pending and is resumed by run.
				cancel()
				env.App.Wait()
				env.Close()
			}()

			rec, err := env.App.Submit(ctx, req)
			if err != nil {
				return err
			}
			if _, err := env.App.Sync(ctx); err != nil {
				opts.log.Warn("Backend not updated yet, the next sync will upload the record", "error", err)
			}
			if so.Wait {
				rec = waitSettled(ctx, env.App, rec.Identifier)
				if _, err := env.App.Sync(ctx); err != nil {
					opts.log.Warn("Settlement not pushed to the backend yet", "error", err)
				}
			}
			return printRecords(cmd.OutOrStdout(), opts.JSON, rec)
		},
	}
	cmd.Flags().StringVar(&so.To, "to", "", "recipient address (required)")
	cmd.Flags().StringVar(&so.Value, "value", "", "amount in Ether, e.g. 0.01")
	cmd.Flags().StringVar(&so.Data, "data", "", "hex encoded call data")
	cmd.Flags().Uint64Var(&so.GasLimit, "gas-limit", 0, "gas limit, estimated when 0")
	cmd.Flags().StringVar(&so.Category, "category", string(types.CategoryOther), "record category")
	cmd.Flags().StringVar(&so.Description, "description", "", "human readable description")
	cmd.Flags().StringVar(&so.Entity, "entity", "", "related domain entity id")
	cmd.Flags().BoolVarP(&so.Yes, "yes", "y", false, "sign without asking")
	cmd.Flags().BoolVar(&so.Wait, "wait", false, "wait until the record settles")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (so *submitOptions) request() (app.SubmitRequest, error) {
	if !common.IsHexAddress(so.To) {
		return app.SubmitRequest{}, fmt.Errorf("%w: invalid recipient %q", app.ErrInvalidSubmission, so.To)
	}
	op := ledger.Operation{To: common.HexToAddress(so.To), GasLimit: so.GasLimit}
	if so.Value != "" {
		v, err := utils.ToWei(so.Value)
		if err != nil {
			return app.SubmitRequest{}, fmt.Errorf("%w: %w", app.ErrInvalidSubmission, err)
		}
		op.Value = v
	}
	if so.Data != "" {
		data, err := hexutil.Decode(so.Data)
		if err != nil {
			return app.SubmitRequest{}, fmt.Errorf("%w: data: %w", app.ErrInvalidSubmission, err)
		}
		op.Data = data
	}
	return app.SubmitRequest{
		Operation:       op,
		Category:        types.Category(so.Category),
		Description:     so.Description,
		RelatedEntityID: so.Entity,
	}, nil
}

// promptApprover asks on the terminal before a transaction is signed. Any
// answer other than yes rejects it.
func promptApprover(in io.Reader, out io.Writer) func(context.Context, *gethtypes.Transaction) error {
	reader := bufio.NewReader(in)
	return func(_ context.Context, tx *gethtypes.Transaction) error {
		fmt.Fprintf(out, "Sign transaction to %s\n  value:   %s ETH\n  gas:     %d\n  max fee: %s gwei\nProceed? [y/N] ",
			tx.To().Hex(), utils.FromWei(tx.Value()), tx.Gas(), utils.FromGwei(tx.GasFeeCap()))
		answer, _ := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return nil
		default:
			return ledger.ErrUserRejected
		}
	}
}

// waitSettled blocks until identifier leaves pending or ctx is done.
func waitSettled(ctx context.Context, a *app.Application, identifier string) txstore.Record {
	id := txstore.NormalizeIdentifier(identifier)
	settled := make(chan struct{}, 1)
	unsubscribe := a.OnChange(func(c txstore.Change) {
		if c.Record.Identifier == id && c.Record.IsTerminal() {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if r, _ := a.Get(id); !r.IsTerminal() {
		select {
		case <-settled:
		case <-ctx.Done():
		}
	}
	r, _ := a.Get(id)
	return r
}

type listOptions struct {
	Category string
	Status   string
	From     string
	To       string
	Text     string
	Page     int
	Limit    int
	Sync     bool
	Summary  bool
}

func newListCommand(opts *rootOptions) *cobra.Command {
	lo := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := query.ParseFilter(lo.Category, lo.Status, lo.From, lo.To, lo.Text)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(opts.log)
			defer cancel()
			env, err := opts.build(ctx, false, nil)
			if err != nil {
				return err
			}
			defer env.Close()

			if lo.Sync {
				if _, err := env.App.Sync(ctx); err != nil {
					opts.log.Warn("Sync failed, listing the local cache", "error", err)
				}
			}
			if lo.Summary {
				return printSummary(cmd.OutOrStdout(), opts.JSON, env.App.Summary(filter))
			}
			page := env.App.Query(filter, lo.Page, lo.Limit)
			if opts.JSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(page)
			}
			if err := printRecords(cmd.OutOrStdout(), false, page.Records...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d, %d records\n", page.Page, page.TotalPages, page.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&lo.Category, "category", "", "filter by category")
	cmd.Flags().StringVar(&lo.Status, "status", "", "filter by status (pending|confirmed|failed)")
	cmd.Flags().StringVar(&lo.From, "from", "", "created at or after (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&lo.To, "to", "", "created at or before (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVarP(&lo.Text, "query", "q", "", "substring of the related entity id")
	cmd.Flags().IntVar(&lo.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&lo.Limit, "limit", 0, "page size (query.default_limit when 0)")
	cmd.Flags().BoolVar(&lo.Sync, "sync", false, "reconcile with the backend before listing")
	cmd.Flags().BoolVar(&lo.Summary, "summary", false, "print counts per status instead of records")
	return cmd
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass against the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(opts.log)
			defer cancel()
			env, err := opts.build(ctx, false, nil)
			if err != nil {
				return err
			}
			defer env.Close()

			report, err := env.App.Sync(ctx)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), opts.JSON, report)
		},
	}
}

func newClearCommand(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record of the principal, locally and on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				fmt.Fprint(cmd.ErrOrStderr(), "Delete all records locally and on the backend? [y/N] ")
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
					return errors.New("clear aborted")
				}
			}
			ctx, cancel := signalContext(opts.log)
			defer cancel()
			env, err := opts.build(ctx, false, nil)
			if err != nil {
				return err
			}
			defer env.Close()

			err = env.App.Clear(ctx)
			if errors.Is(err, reconcile.ErrClearPending) {
				opts.log.Warn("Local records cleared, backend delete will be retried on the next sync", "error", err)
				return nil
			}
			if err == nil {
				opts.log.Success("Records cleared", "principal", env.App.Principal())
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "clear without asking")
	return cmd
}

func printRecords(out io.Writer, asJSON bool, records ...txstore.Record) error {
	if asJSON {
		if len(records) == 1 {
			return json.NewEncoder(out).Encode(records[0])
		}
		return json.NewEncoder(out).Encode(records)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTIFIER\tSTATUS\tCATEGORY\tCREATED\tENTITY\tDETAIL")
	for _, r := range records {
		detail := r.Reason
		if r.ConfirmationData != nil {
			detail = fmt.Sprintf("block %d, gas %d", r.ConfirmationData.BlockNumber, r.ConfirmationData.GasUsed)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Identifier, r.Status, r.Category, r.CreatedAt.Local().Format(time.DateTime), r.RelatedEntityID, detail)
	}
	return w.Flush()
}

func printSummary(out io.Writer, asJSON bool, s query.Summary) error {
	if asJSON {
		return json.NewEncoder(out).Encode(s)
	}
	_, err := fmt.Fprintf(out, "total %d, pending %d, confirmed %d, failed %d\n", s.Total, s.Pending, s.Confirmed, s.Failed)
	return err
}

func printReport(out io.Writer, asJSON bool, r reconcile.Report) error {
	if asJSON {
		return json.NewEncoder(out).Encode(r)
	}
	_, err := fmt.Fprintf(out, "pulled %d, uploaded %d, patched %d, settled by backend %d, deferred %d, failed %d, conflicts %d\n",
		len(r.Pulled), len(r.Uploaded), len(r.Patched), len(r.Settled), len(r.Deferred), len(r.Failed), len(r.Conflicts))
	for _, c := range r.Conflicts {
		fmt.Fprintf(out, "  conflict %s: local %s, backend %s\n", c.Identifier, c.LocalStatus, c.RemoteStatus)
	}
	return err
}
