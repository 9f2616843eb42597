package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	syncpkg "github.com/dxtools/dxsync/internal/sync"
)

func newWatchCmd() *cobra.Command {
	var (
		kinds    kindFlags
		transfer transferFlags
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the working directory and push changes",
		Long:  "Watches the working directory and pushes modified artifacts of the selected kinds after each settled burst of changes. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !kinds.any() {
				return errors.New("no artifact kinds selected (use -a, -c, -t, ... or --all-authoring)")
			}

			env, err := buildEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			opts := transfer.options(env.configOptions())

			subscribeProgress(env, cmd)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			watcher := syncpkg.NewWatcher(env.coord, env.files.Root(), kinds.selected(), opts, debounce, env.logger)

			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		},
	}

	kinds.register(cmd)
	transfer.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "settle window before pushing a change burst (default 2s)")

	return cmd
}
