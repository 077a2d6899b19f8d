// Command etl maintains the Bronze, Silver and Gold layers of the daily
// climate dataset.
//
// Usage:
//
//	etl run --batch-id 3
//	etl check
//	etl serve
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/couchcryptid/climate-layers-etl/internal/adapter/http"
	"github.com/couchcryptid/climate-layers-etl/internal/integrity"
)

var errChecksFailed = errors.New("integrity checks failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, closeApp := newRootCmd()
	err := root.ExecuteContext(ctx)
	closeApp()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The returned func releases whatever
// the executed command opened.
func newRootCmd() (*cobra.Command, func()) {
	var a *app

	root := &cobra.Command{
		Use:   "etl",
		Short: "Build the Bronze, Silver and Gold layers of the daily climate dataset",
		Long: `etl ingests numbered raw batches into an append-only Bronze layer,
validates Bronze into a gap-free daily Silver series and derives the
next-day temperature Gold table from Silver.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			a, err = newApp(cmd.Context())
			return err
		},
	}

	getApp := func() *app { return a }
	root.AddCommand(
		newIngestCmd(getApp),
		newValidateCmd(getApp),
		newTransformCmd(getApp),
		newRunCmd(getApp),
		newCheckCmd(getApp),
		newCorrelateCmd(getApp),
		newServeCmd(getApp),
	)
	return root, func() {
		if a != nil {
			a.close()
		}
	}
}

func addBatchFlag(cmd *cobra.Command, id *int) {
	cmd.Flags().IntVar(id, "batch-id", 0, "raw batch to ingest (default: batch_id from the pipeline config)")
}

// batchID returns the flag value, or the configured batch when the flag is unset.
func batchID(cmd *cobra.Command, a *app, flag int) (int, error) {
	if cmd.Flags().Changed("batch-id") {
		if flag < 1 {
			return 0, fmt.Errorf("invalid --batch-id %d", flag)
		}
		return flag, nil
	}
	if a.params.BatchID > 0 {
		return a.params.BatchID, nil
	}
	return 0, errors.New("no batch id: pass --batch-id or set batch_id in the pipeline config")
}

func newIngestCmd(getApp func() *app) *cobra.Command {
	var id int
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Append a raw batch to Bronze unless it was already ingested",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			n, err := batchID(cmd, a, id)
			if err != nil {
				return err
			}
			res, err := a.pipeline.Ingest(cmd.Context(), n)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	addBatchFlag(cmd, &id)
	return cmd
}

func newValidateCmd(getApp func() *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Rebuild Silver from Bronze and write the validation report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			report, err := a.pipeline.Validate(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return a.strictErr(strict, report.Err())
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when the report fails")
	return cmd
}

func newTransformCmd(getApp func() *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Rebuild Gold from Silver and write the Gold report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			report, err := a.pipeline.Transform(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return a.strictErr(strict, report.Err())
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when the report fails")
	return cmd
}

func newRunCmd(getApp func() *app) *cobra.Command {
	var (
		id     int
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest a batch, then rebuild Silver and Gold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			n, err := batchID(cmd, a, id)
			if err != nil {
				return err
			}
			res, err := a.pipeline.Run(cmd.Context(), n)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return a.strictErr(strict, res.Err())
		},
	}
	addBatchFlag(cmd, &id)
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when a layer report fails")
	return cmd
}

func newCheckCmd(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Cross-check the persisted layers against each other",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			layers, err := getApp().layers(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== Climate Layer Integrity ===")
			fmt.Fprintln(out)
			res := integrity.Check(layers)
			res.Write(out)
			if !res.Passed() {
				return errChecksFailed
			}
			return nil
		},
	}
}

func newCorrelateCmd(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "correlate",
		Short: "Compute Pearson correlations over Silver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := getApp().pipeline.Correlate(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newServeCmd(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics, the ledger and layer reports over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			srv := httpadapter.NewServer(a.cfg.HTTPAddr, a.pipeline, a.logger)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				a.logger.Info("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("http server shutdown: %w", err)
				}
				return nil
			})

			err := g.Wait()
			a.logger.Info("shutdown complete")
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
