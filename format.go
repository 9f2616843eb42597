package main

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	syncpkg "github.com/dxtools/dxsync/internal/sync"
)

// configOptions is the slice of config the transfer flags fold into
// per-call Options.
type configOptions struct {
	retryMaxAttempts int
	retryMinTimeout  time.Duration
	retryMaxTimeout  time.Duration
	retryFactor      float64
	locale           string
	tenantBaseURL    string
}

func (e *environment) configOptions() configOptions {
	return configOptions{
		retryMaxAttempts: e.cfg.RetryMaxAttempts,
		retryMinTimeout:  e.cfg.RetryMinTimeout.Duration(),
		retryMaxTimeout:  e.cfg.RetryMaxTimeout.Duration(),
		retryFactor:      e.cfg.RetryFactor,
		locale:           e.cfg.Locale,
		tenantBaseURL:    e.cfg.TenantBaseURL,
	}
}

// stdoutIsTerminal reports whether stdout is an interactive terminal.
func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// subscribeProgress prints per-item progress lines on each helper's
// event bus. Interactive terminals get live lines; quiet mode and
// redirected output stay silent (the summary still prints).
func subscribeProgress(env *environment, cmd *cobra.Command) {
	if flagQuiet || !stdoutIsTerminal() {
		return
	}

	for _, s := range env.helpers {
		h, ok := s.(*syncpkg.Helper)
		if !ok {
			continue
		}

		kind := string(h.Kind())

		h.Events().On(syncpkg.EventPushed, func(ev syncpkg.Event) {
			cmd.Printf("pushed %s %s\n", kind, ev.Path)
		})
		h.Events().On(syncpkg.EventPulled, func(ev syncpkg.Event) {
			cmd.Printf("pulled %s %s\n", kind, ev.Path)
		})
		h.Events().On(syncpkg.EventPushedError, func(ev syncpkg.Event) {
			cmd.PrintErrf("push failed %s %s: %v\n", kind, ev.Path, ev.Err)
		})
		h.Events().On(syncpkg.EventPulledError, func(ev syncpkg.Event) {
			cmd.PrintErrf("pull failed %s %s: %v\n", kind, ev.Path, ev.Err)
		})
	}
}

// renderNameTable prints a two-column kind/name table.
func renderNameTable(cmd *cobra.Command, rows [][]string) {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Kind", "Name"})
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(rows)
	table.Render()
}
