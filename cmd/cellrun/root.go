package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/vogtb/go-cellgraph/packages/config"
)

// watchDebounce collapses the bursts of events editors produce on save
const watchDebounce = 100 * time.Millisecond

var errBrokenCells = errors.New("workbook has broken cells")

type options struct {
	verbose bool
}

func (o *options) logger(w io.Writer) *log.Logger {
	if !o.verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(w, "cellrun: ", log.Ltime|log.Lmicroseconds)
}

func execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "cellrun",
		Short:         "Evaluate cellgraph workbooks",
		Long:          "cellrun loads a TOML workbook of articles and sheets, runs its cells in dependency order and prints their state.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log scheduling decisions to stderr")
	root.AddCommand(newRunCmd(opts), newCheckCmd(opts), newWatchCmd(opts))
	return root
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run <workbook.toml>",
		Short: "Run a workbook to completion and print every cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := loadWorkbook(cmd.Context(), args[0], opts.logger(cmd.ErrOrStderr()), nil)
			if err != nil {
				return err
			}
			defer w.close()
			fmt.Fprint(cmd.OutOrStdout(), renderTable(w.rows()))
			return nil
		},
	}
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check <workbook.toml>",
		Short: "Analyse a workbook without running it and report broken cells",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			autorun := false
			w, err := loadWorkbook(cmd.Context(), args[0], opts.logger(cmd.ErrOrStderr()), &autorun)
			if err != nil {
				return err
			}
			defer w.close()

			broken := w.broken()
			if len(broken) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("ok"), dimStyle.Render(fmt.Sprintf("%d cells", len(w.rows()))))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(broken))
			return fmt.Errorf("%w: %d", errBrokenCells, len(broken))
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <workbook.toml>",
		Short: "Run a workbook again whenever the file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchWorkbook(cmd.Context(), args[0], cmd.OutOrStdout(), opts.logger(cmd.ErrOrStderr()))
		},
	}
}

// loadWorkbook loads, builds and runs a workbook
func loadWorkbook(ctx context.Context, path string, logger *log.Logger, autorun *bool) (*workbook, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	w, err := buildWorkbook(cfg, logger, autorun)
	if err != nil {
		return nil, err
	}
	if err := w.run(ctx); err != nil {
		w.close()
		return nil, err
	}
	return w, nil
}

// watchWorkbook runs the workbook once and then after every write to it
// until ctx is done. the directory is watched since editors often replace
// the file on save.
func watchWorkbook(ctx context.Context, path string, out io.Writer, logger *log.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	runOnce := func() {
		w, err := loadWorkbook(ctx, target, logger, nil)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("error:"), err)
			return
		}
		defer w.close()
		fmt.Fprintf(out, "%s %s\n", dimStyle.Render(time.Now().Format(time.TimeOnly)), path)
		fmt.Fprint(out, renderTable(w.rows()))
	}
	runOnce()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				logger.Printf("%s changed (%s)", path, event.Op)
				debounce = time.After(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("watch error: %v", err)
		case <-debounce:
			debounce = nil
			runOnce()
		}
	}
}
