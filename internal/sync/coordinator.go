package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dxtools/dxsync/internal/authoring"
	"github.com/dxtools/dxsync/internal/hashes"
	"github.com/dxtools/dxsync/internal/local"
)

// KindSyncer is the per-kind surface the coordinator fans out over.
// *Helper implements it; tests substitute doubles.
type KindSyncer interface {
	Kind() authoring.Kind
	PullAll(ctx context.Context, driver *Driver, opts *authoring.Options) (*Summary, error)
	PullModified(ctx context.Context, driver *Driver, opts *authoring.Options) (*Summary, error)
	PushAll(ctx context.Context, driver *Driver, opts *authoring.Options) (*Summary, error)
	PushModified(ctx context.Context, driver *Driver, opts *authoring.Options) (*Summary, error)
}

// Coordinator fans an operation out across selected artifact kinds in
// the fixed dependency order, one kind to completion before the next,
// and aggregates counts into a single run summary.
type Coordinator struct {
	syncers map[authoring.Kind]KindSyncer
	driver  *Driver
	ledger  *Ledger
	root    string
	logger  *slog.Logger
}

// NewCoordinator creates a coordinator over the given per-kind
// syncers. ledger may be nil to disable run recording.
func NewCoordinator(syncers []KindSyncer, driver *Driver, ledger *Ledger, root string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	byKind := make(map[authoring.Kind]KindSyncer, len(syncers))
	for _, s := range syncers {
		byKind[s.Kind()] = s
	}

	return &Coordinator{
		syncers: byKind,
		driver:  driver,
		ledger:  ledger,
		root:    root,
		logger:  logger,
	}
}

// BuildHelpers constructs the standard helper set for every artifact
// kind, sharing one client, local store, and hash store. Each helper
// gets its own event bus.
func BuildHelpers(
	client *authoring.Client,
	files *local.Store,
	hashStore *hashes.Store,
	logger *slog.Logger,
) []KindSyncer {
	resources := authoring.NewResourceAdapter(client, logger)

	syncers := make([]KindSyncer, 0, len(authoring.PullOrder))

	for _, kind := range authoring.PullOrder {
		var res *authoring.ResourceAdapter
		if kind.Binary() {
			res = resources
		}

		syncers = append(syncers, NewHelper(
			kind,
			authoring.NewKindAdapter(kind, client, logger),
			res,
			files,
			hashStore,
			NewEventBus(),
			logger,
		))
	}

	return syncers
}

// Syncer returns the syncer for a kind, or nil when not registered.
func (c *Coordinator) Syncer(kind authoring.Kind) KindSyncer {
	return c.syncers[kind]
}

// Run executes the operation for the selected kinds. An empty
// selection means all registered kinds. ignoreTimestamps bypasses the
// modified-since filter (PushAll/PullAll instead of the *Modified
// forms). The returned summary aggregates every kind; the error is
// non-nil only for setup failure.
func (c *Coordinator) Run(
	ctx context.Context,
	direction Direction,
	kinds []authoring.Kind,
	ignoreTimestamps bool,
	opts *authoring.Options,
) (*Summary, error) {
	selected := c.selectKinds(direction, kinds)

	total := &Summary{Direction: direction}

	if _, err := c.ledger.BeginRun(ctx, direction.String()); err != nil {
		return nil, err
	}

	for _, kind := range selected {
		syncer := c.syncers[kind]

		c.logger.Info("starting kind",
			slog.String("kind", string(kind)),
			slog.String("direction", direction.String()),
		)

		summary, err := c.runKind(ctx, syncer, direction, ignoreTimestamps, opts)
		if err != nil {
			// Close the run row with the counts so far; a setup failure
			// must not leave an open run in the ledger.
			c.finishRun(ctx, total, opts)

			return nil, fmt.Errorf("sync: %s %s: %w", direction, kind, err)
		}

		total.Merge(summary)
	}

	c.finishRun(ctx, total, opts)

	c.logger.Info("run complete",
		slog.String("summary", total.Format()),
	)

	return total, nil
}

// finishRun closes the ledger run row and renders the error log.
func (c *Coordinator) finishRun(ctx context.Context, total *Summary, opts *authoring.Options) {
	if err := c.ledger.EndRun(ctx, len(total.Succeeded), len(total.Failed)); err != nil {
		c.logger.Warn("ledger: closing run failed",
			slog.String("error", err.Error()),
		)
	}

	if opts == nil || !opts.NoErrorLog {
		if logPath, err := c.ledger.WriteErrorLog(ctx, c.root); err != nil {
			c.logger.Warn("writing error log failed",
				slog.String("error", err.Error()),
			)
		} else if logPath != "" {
			c.logger.Info("error log written",
				slog.String("path", logPath),
			)
		}
	}
}

// runKind dispatches one kind to the right helper operation.
func (c *Coordinator) runKind(
	ctx context.Context, syncer KindSyncer, direction Direction, ignoreTimestamps bool, opts *authoring.Options,
) (*Summary, error) {
	switch {
	case direction == DirectionPull && ignoreTimestamps:
		return syncer.PullAll(ctx, c.driver, opts)
	case direction == DirectionPull:
		return syncer.PullModified(ctx, c.driver, opts)
	case ignoreTimestamps:
		return syncer.PushAll(ctx, c.driver, opts)
	default:
		return syncer.PushModified(ctx, c.driver, opts)
	}
}

// selectKinds orders the selection by the direction's dependency
// order, dropping kinds with no registered syncer.
func (c *Coordinator) selectKinds(direction Direction, kinds []authoring.Kind) []authoring.Kind {
	order := authoring.PullOrder
	if direction == DirectionPush {
		order = authoring.PushOrder
	}

	want := make(map[authoring.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	all := len(kinds) == 0

	var selected []authoring.Kind

	for _, k := range order {
		if _, registered := c.syncers[k]; !registered {
			continue
		}

		if all || want[k] {
			selected = append(selected, k)
		}
	}

	return selected
}
