package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	var kinds kindFlags

	cmd := &cobra.Command{
		Use:   "delete <path-or-id> ...",
		Short: "Delete artifacts from the authoring service",
		Long:  "Deletes the named artifacts of a single selected kind from the server. Assets are named by logical path, other kinds by id.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := kinds.selected()
			if len(selected) != 1 {
				return errors.New("delete requires exactly one artifact kind flag")
			}

			env, err := buildEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			helper := env.helperFor(selected[0])
			if helper == nil {
				return errors.New("no helper for selected kind")
			}

			var transfer transferFlags

			opts := transfer.options(env.configOptions())

			var failed int

			for _, name := range args {
				artifact, findErr := helper.FindRemote(cmd.Context(), name, opts)
				if findErr != nil {
					failed++

					cmd.PrintErrf("%s: %v\n", name, findErr)

					continue
				}

				msg, delErr := helper.DeleteRemote(cmd.Context(), artifact, opts)
				if delErr != nil {
					failed++

					cmd.PrintErrf("%s: %v\n", name, delErr)

					continue
				}

				if msg != "" {
					cmd.Println(msg)
				}
			}

			cmd.Printf("%d artifacts deleted, %d errors\n", len(args)-failed, failed)

			if failed > 0 {
				return errPartialFailure
			}

			return nil
		},
	}

	kinds.register(cmd)

	return cmd
}
