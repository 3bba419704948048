package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/todosync/internal/engine"
	"github.com/roach88/todosync/internal/model"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Filter string
	Once   bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the todo list and reprint it on every change",
		Long: `Open a session and print the visible todo list. The list is printed
again whenever a local mutation or a change event from the remote store
changes it. Runs until interrupted.

With --format json, every state is printed as one JSON line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Filter, "filter", "", `"all", "no-category" or a category id`)
	cmd.Flags().BoolVar(&opts.Once, "once", false, "print the current list and exit")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The session lives as long as the watch; remote.timeout only bounds
	// opening it.
	openCtx := ctx
	if d := opts.Config.Remote.Timeout; d > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	reg, err := openSession(openCtx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer reg.Close()

	if err := reg.SetFilter(ctx, parseFilter(opts.Filter)); err != nil {
		return WrapExitError(ExitFailure, "set filter", err)
	}

	changed, cancelWatch := reg.Engine().Watch()
	defer cancelWatch()

	var (
		last    uint64
		printed bool
	)
	for {
		snap := reg.Engine().Snapshot()
		if !printed || snap.Version != last {
			last, printed = snap.Version, true
			if err := printState(cmd, opts, snap); err != nil {
				return err
			}
		}
		if opts.Once {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changed:
			if !ok {
				return nil
			}
		}
	}
}

// watchState is one JSON line of watch output.
type watchState struct {
	Version uint64     `json:"version"`
	Filter  string     `json:"filter"`
	Todos   []todoJSON `json:"todos"`
}

func printState(cmd *cobra.Command, opts *WatchOptions, snap *engine.Snapshot) error {
	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		state := watchState{Version: snap.Version, Filter: snap.Filter.String(), Todos: []todoJSON{}}
		for _, v := range snap.Visible() {
			state.Todos = append(state.Todos, toTodoJSON(v))
		}
		return json.NewEncoder(w).Encode(state)
	}
	filter := snap.Filter.String()
	switch snap.Filter.Mode() {
	case engine.FilterAll:
		filter = "all"
	case engine.FilterCategory:
		if c, ok := snap.Category(model.Confirmed(snap.Filter.CategoryID())); ok {
			filter = c.Title
		}
	}
	fmt.Fprintf(w, "── %s ──\n", filter)
	renderTodos(w, snap, snap.Visible())
	return nil
}
