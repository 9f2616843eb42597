package main

import (
	"errors"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dxtools/dxsync/internal/authoring"
)

func newListCmd() *cobra.Command {
	var (
		kinds     kindFlags
		listLocal bool
		modified  bool
		deleted   bool
		resources bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List artifacts on the server or in the working directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if resources {
				return runListResources(cmd)
			}

			if !kinds.any() {
				return errors.New("no artifact kinds selected (use -a, -c, -t, ... or --all-authoring)")
			}

			return runList(cmd, &kinds, listLocal, modified, deleted)
		},
	}

	kinds.register(cmd)
	cmd.Flags().BoolVar(&listLocal, "local", false, "list the working directory instead of the server")
	cmd.Flags().BoolVar(&modified, "modified", false, "only artifacts modified since the last sync")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "only artifacts deleted since the last sync")
	cmd.Flags().BoolVar(&resources, "resources", false, "enumerate raw binary resources by creation order")

	return cmd
}

func runList(cmd *cobra.Command, kinds *kindFlags, listLocal, modified, deleted bool) error {
	env, err := buildEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	selected := kinds.selected()
	if len(selected) == 0 {
		selected = authoring.PullOrder
	}

	opts := &authoring.Options{Locale: env.cfg.Locale}

	var rows [][]string

	for _, kind := range selected {
		helper := env.helperFor(kind)
		if helper == nil {
			continue
		}

		var (
			names   map[string]bool
			listErr error
		)

		switch {
		case listLocal && deleted:
			names, listErr = helper.ListLocalDeletedNames()
		case listLocal && modified:
			names, listErr = helper.ListLocalModifiedNames()
		case listLocal:
			names, listErr = helper.ListLocalNames()
		case deleted:
			names, listErr = helper.ListRemoteDeletedNames(cmd.Context(), opts)
		case modified:
			names, listErr = helper.ListRemoteModifiedNames(cmd.Context(), opts)
		default:
			names, listErr = helper.ListRemoteNames(cmd.Context(), opts)
		}

		if listErr != nil {
			return listErr
		}

		sorted := make([]string, 0, len(names))
		for name := range names {
			sorted = append(sorted, name)
		}

		sort.Strings(sorted)

		for _, name := range sorted {
			rows = append(rows, []string{string(kind), name})
		}
	}

	renderNameTable(cmd, rows)

	return nil
}

// runListResources enumerates raw blobs via the by-created view.
func runListResources(cmd *cobra.Command) error {
	env, err := buildEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	adapter := authoring.NewResourceAdapter(env.client, env.logger)
	opts := &authoring.Options{Locale: env.cfg.Locale}

	var rows [][]string

	offset := 0

	for {
		page, done, listErr := adapter.ListByCreated(cmd.Context(), offset, opts)
		if listErr != nil {
			return listErr
		}

		for _, res := range page {
			rows = append(rows, []string{res.ID, res.Name})
		}

		if done {
			break
		}

		offset += len(page)
	}

	renderNameTable(cmd, rows)

	return nil
}
