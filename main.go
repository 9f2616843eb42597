// Command dxsync synchronizes digital-experience authoring artifacts
// between a local working directory and a remote authoring service.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes: 0 full success, 1 partial success, 2 fatal.
const (
	exitOK      = 0
	exitPartial = 1
	exitFatal   = 2
)

// errPartialFailure signals that the run completed but some items
// failed; the summary has already been printed.
var errPartialFailure = errors.New("some artifacts failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errPartialFailure) {
			os.Exit(exitPartial)
		}

		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitFatal)
	}

	os.Exit(exitOK)
}
