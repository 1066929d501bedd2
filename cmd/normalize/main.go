package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"notebinder/internal/config"
	"notebinder/internal/contextutil"
	"notebinder/internal/normalize"
	"notebinder/internal/storage"
)

// errReported marks failures whose message was already written to stderr.
var errReported = errors.New("reported")

func main() {
	level, format, err := config.LoadLogging()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "normalize",
		Short:         "Maintenance commands for notebook databases",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(orderIndexesCmd())
	return root
}

func orderIndexesCmd() *cobra.Command {
	var dryRun, apply, verbose bool

	cmd := &cobra.Command{
		Use:   "order-indexes <db>",
		Short: "Compact order_index values of notebooks, sections and pages to 1..N",
		Long: "Plans the order_index updates that make every sibling group contiguous.\n" +
			"Nothing is written unless --apply is given; the default is a dry run.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return orderIndexes(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], apply, verbose)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show planned changes only (default)")
	cmd.Flags().BoolVar(&apply, "apply", false, "apply the planned changes")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "show every id -> new order_index change")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "apply")
	return cmd
}

func orderIndexes(ctx context.Context, stdout, stderr io.Writer, dbPath string, apply, verbose bool) error {
	if info, err := os.Stat(dbPath); err != nil || !info.Mode().IsRegular() {
		fmt.Fprintf(stderr, "Error: database '%s' not found\n", dbPath)
		return errReported
	}

	ctx = contextutil.WithLogger(ctx, slog.Default().With("db", dbPath))

	db, err := storage.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	plan, err := normalize.BuildPlan(ctx, db)
	if err != nil {
		return err
	}
	if verbose {
		if err := plan.Dump(stdout); err != nil {
			return err
		}
	}
	fmt.Fprintln(stdout, plan.Summary())

	switch {
	case plan.Empty():
		fmt.Fprintln(stdout, "Already normalized.")
	case apply:
		if err := normalize.Apply(ctx, db, plan); err != nil {
			fmt.Fprintf(stderr, "Failed to apply changes: %v\n", err)
			return errReported
		}
		fmt.Fprintln(stdout, "Applied normalization.")
	default:
		fmt.Fprintln(stdout, "Dry run; re-run with --apply to persist.")
	}
	return nil
}
