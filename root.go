package main

import (
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dxtools/dxsync/internal/authoring"
	"github.com/dxtools/dxsync/internal/config"
	"github.com/dxtools/dxsync/internal/hashes"
	"github.com/dxtools/dxsync/internal/local"
	"github.com/dxtools/dxsync/internal/metrics"
	syncpkg "github.com/dxtools/dxsync/internal/sync"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDir        string
	flagUser       string
	flagPassword   string
	flagVerbose    bool
	flagQuiet      bool
)

// httpClientTimeout bounds each HTTP request. Streaming transfers are
// bounded per-request, not per-item.
const httpClientTimeout = 5 * time.Minute

// newRootCmd builds the fully-assembled root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dxsync",
		Short:   "Authoring artifact sync client",
		Long:    "Synchronizes authoring artifacts (assets, content, types, ...) between a working directory and a remote authoring service.",
		Version: version,
		// Silence cobra's default error/usage printing — main() handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDir, "dir", "", "working directory (default from config)")
	cmd.PersistentFlags().StringVar(&flagUser, "user", "", "authoring service user")
	cmd.PersistentFlags().StringVar(&flagPassword, "password", "", "authoring service password")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// newLogger builds the slog logger per verbosity flags.
func newLogger() *slog.Logger {
	level := slog.LevelInfo

	switch {
	case flagVerbose:
		level = slog.LevelDebug
	case flagQuiet:
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// environment is the assembled collaborator set for one invocation.
type environment struct {
	cfg     config.Config
	logger  *slog.Logger
	files   *local.Store
	hashes  *hashes.Store
	client  *authoring.Client
	helpers []syncpkg.KindSyncer
	driver  *syncpkg.Driver
	ledger  *syncpkg.Ledger
	coord   *syncpkg.Coordinator
}

// close flushes and releases the stores.
func (e *environment) close() {
	if e.hashes != nil {
		if err := e.hashes.Close(); err != nil {
			e.logger.Warn("closing hash store failed",
				slog.String("error", err.Error()),
			)
		}
	}

	if err := e.ledger.Close(); err != nil {
		e.logger.Warn("closing run ledger failed",
			slog.String("error", err.Error()),
		)
	}
}

// buildEnvironment loads configuration and wires the engine: stores,
// HTTP client, per-kind helpers, bulk driver, and coordinator.
func buildEnvironment(cmd *cobra.Command) (*environment, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, err
	}

	if flagDir != "" {
		cfg.WorkingDir = flagDir
	}

	if flagUser != "" {
		cfg.Username = flagUser
	}

	logger := newLogger()

	files, err := local.Open(cfg.WorkingDir, logger)
	if err != nil {
		return nil, err
	}

	hashStore, err := hashes.Open(files.Root(), logger)
	if err != nil {
		return nil, err
	}

	ledger, err := syncpkg.OpenLedger(cmd.Context(), files.Root(), logger)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout: httpClientTimeout,
		Jar:     jar,
	}

	client := authoring.NewClient(cfg.BaseURL, httpClient, &basicAuth{
		user:     cfg.Username,
		password: flagPassword,
	}, logger)

	helpers := syncpkg.BuildHelpers(client, files, hashStore, logger)

	driver := syncpkg.NewDriver(syncpkg.DriverConfig{
		Concurrency: cfg.Concurrency,
		Metrics:     metrics.New(nil),
		Ledger:      ledger,
	}, logger)

	coord := syncpkg.NewCoordinator(helpers, driver, ledger, files.Root(), logger)

	return &environment{
		cfg:     cfg,
		logger:  logger,
		files:   files,
		hashes:  hashStore,
		client:  client,
		helpers: helpers,
		driver:  driver,
		ledger:  ledger,
		coord:   coord,
	}, nil
}

// helperFor returns the concrete helper for a kind, for operations
// beyond the coordinator surface (delete, single-item transfers).
func (e *environment) helperFor(kind authoring.Kind) *syncpkg.Helper {
	for _, s := range e.helpers {
		if h, ok := s.(*syncpkg.Helper); ok && h.Kind() == kind {
			return h
		}
	}

	return nil
}

// basicAuth applies HTTP basic credentials; the shared cookie jar
// keeps the session cookie the service responds with.
type basicAuth struct {
	user     string
	password string
}

func (b *basicAuth) Apply(req *http.Request) error {
	if b.user != "" {
		req.SetBasicAuth(b.user, b.password)
	}

	return nil
}
