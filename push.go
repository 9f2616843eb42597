package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dxtools/dxsync/internal/authoring"
	syncpkg "github.com/dxtools/dxsync/internal/sync"
)

// transferFlags are the write-semantics flags shared by push and pull.
type transferFlags struct {
	ignoreTimestamps bool
	forceOverride    bool
	publishNow       bool
	createOnly       bool
	noErrorLog       bool
}

func (t *transferFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&t.ignoreTimestamps, "ignore-timestamps", "I", false, "transfer all artifacts, bypassing the modified-since filter")
	cmd.Flags().BoolVarP(&t.forceOverride, "force-override", "f", false, "override rev conflicts on update")
	cmd.Flags().BoolVar(&t.publishNow, "publish-now", false, "request immediate publish on write")
	cmd.Flags().BoolVar(&t.createOnly, "create-only", false, "treat already-exists conflicts as success")
	cmd.Flags().BoolVar(&t.noErrorLog, "no-error-log", false, "skip writing the per-item error log")
}

func (t *transferFlags) options(cfg configOptions) *authoring.Options {
	return &authoring.Options{
		ForceOverride:   t.forceOverride,
		PublishNow:      t.publishNow,
		CreateOnly:      t.createOnly,
		NoErrorLog:      t.noErrorLog,
		MaxAttempts:     cfg.retryMaxAttempts,
		RetryMinTimeout: cfg.retryMinTimeout,
		RetryMaxTimeout: cfg.retryMaxTimeout,
		RetryFactor:     cfg.retryFactor,
		RetryRandomize:  true,
		Locale:          cfg.locale,
		TenantBaseURL:   cfg.tenantBaseURL,
		FilterRetryPush: func(err error) bool {
			// Conflicts may resolve once referenced artifacts land in a
			// later pass of the same run.
			return errors.Is(err, authoring.ErrConflict)
		},
	}
}

func newPushCmd() *cobra.Command {
	var (
		kinds    kindFlags
		transfer transferFlags
	)

	cmd := &cobra.Command{
		Use:   "push [path ...]",
		Short: "Push local artifacts to the authoring service",
		Long:  "Pushes modified artifacts of the selected kinds, or the named paths of a single selected kind.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, syncpkg.DirectionPush, &kinds, &transfer, args)
		},
	}

	kinds.register(cmd)
	transfer.register(cmd)

	return cmd
}

func newPullCmd() *cobra.Command {
	var (
		kinds    kindFlags
		transfer transferFlags
	)

	cmd := &cobra.Command{
		Use:   "pull [path ...]",
		Short: "Pull remote artifacts into the working directory",
		Long:  "Pulls modified artifacts of the selected kinds, or the named paths of a single selected kind.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, syncpkg.DirectionPull, &kinds, &transfer, args)
		},
	}

	kinds.register(cmd)
	transfer.register(cmd)

	return cmd
}

// runTransfer executes a bulk or named-item push/pull.
func runTransfer(
	cmd *cobra.Command,
	direction syncpkg.Direction,
	kinds *kindFlags,
	transfer *transferFlags,
	args []string,
) error {
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

	if len(args) > 0 {
		return runNamed(cmd, env, direction, kinds, opts, args)
	}

	summary, err := env.coord.Run(cmd.Context(), direction, kinds.selected(), transfer.ignoreTimestamps, opts)
	if err != nil {
		return err
	}

	cmd.Println(summary.Format())

	if len(summary.Failed) > 0 {
		return errPartialFailure
	}

	return nil
}

// runNamed transfers the named paths for a single selected kind.
func runNamed(
	cmd *cobra.Command,
	env *environment,
	direction syncpkg.Direction,
	kinds *kindFlags,
	opts *authoring.Options,
	args []string,
) error {
	selected := kinds.selected()
	if len(selected) != 1 {
		return errors.New("named paths require exactly one artifact kind flag")
	}

	helper := env.helperFor(selected[0])
	if helper == nil {
		return fmt.Errorf("no helper for kind %s", selected[0])
	}

	var failed int

	for _, path := range args {
		var err error
		if direction == syncpkg.DirectionPush {
			_, err = helper.PushOne(cmd.Context(), path, opts)
		} else {
			_, err = helper.PullOne(cmd.Context(), path, opts)
		}

		if err != nil {
			failed++

			cmd.PrintErrf("%s: %v\n", path, err)
		}
	}

	cmd.Printf("%d artifacts successfully %s, %d errors\n", len(args)-failed, direction, failed)

	if failed > 0 {
		return errPartialFailure
	}

	return nil
}
