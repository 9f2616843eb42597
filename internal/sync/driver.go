package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/dxtools/dxsync/internal/authoring"
	"github.com/dxtools/dxsync/internal/local"
	"github.com/dxtools/dxsync/internal/metrics"
)

const (
	// defaultConcurrency bounds the worker pool per kind.
	defaultConcurrency = 5
	// defaultItemRetries bounds deferred retry passes for items whose
	// error was marked retryable.
	defaultItemRetries = 2
	// defaultItemRetryDelay seeds the backoff between deferred passes.
	defaultItemRetryDelay = 2 * time.Second
	// itemQueueDepth bounds the in-flight item queue; a full queue
	// blocks page fetch, giving natural back-pressure.
	itemQueueDepth = 64
)

// Driver walks paginated remote listings or local file trees, bounds
// concurrency, schedules deferred retries for items marked retryable,
// and aggregates a partial-success summary. One Driver may serve many
// runs; per-run state lives on the stack.
type Driver struct {
	concurrency    int
	itemRetries    uint64
	itemRetryDelay time.Duration
	metrics        *metrics.Metrics
	ledger         *Ledger
	logger         *slog.Logger
}

// DriverConfig tunes a Driver. Zero values fall back to defaults.
type DriverConfig struct {
	Concurrency    int
	ItemRetries    int
	ItemRetryDelay time.Duration
	Metrics        *metrics.Metrics
	Ledger         *Ledger
}

// NewDriver creates a bulk transfer driver.
func NewDriver(cfg DriverConfig, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Driver{
		concurrency:    cfg.Concurrency,
		itemRetries:    uint64(defaultItemRetries),
		itemRetryDelay: cfg.ItemRetryDelay,
		metrics:        cfg.Metrics,
		ledger:         cfg.Ledger,
		logger:         logger,
	}

	if d.concurrency <= 0 {
		d.concurrency = defaultConcurrency
	}

	if cfg.ItemRetries > 0 {
		d.itemRetries = uint64(cfg.ItemRetries)
	}

	if d.itemRetryDelay <= 0 {
		d.itemRetryDelay = defaultItemRetryDelay
	}

	return d
}

// runState accumulates the outcome of one bulk run.
type runState struct {
	mu        stdsync.Mutex
	summary   *Summary
	retryable []string
}

func (rs *runState) success(path string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.summary.Succeeded = append(rs.summary.Succeeded, path)
}

func (rs *runState) failure(path string, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if IsRetryable(err) {
		rs.retryable = append(rs.retryable, path)

		return
	}

	rs.summary.Failed = append(rs.summary.Failed, ItemError{Path: path, Err: err})
}

func (rs *runState) takeRetryable() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	paths := rs.retryable
	rs.retryable = nil

	return paths
}

// RunPull pulls artifacts of the helper's kind. The remote listing is
// paginated with advancing offsets until a short page; each listed
// item is pulled by a bounded worker pool. Per-item errors aggregate
// into the summary; the returned error is non-nil only for setup
// failure (the listing itself cannot be fetched).
func (d *Driver) RunPull(ctx context.Context, h *Helper, opts *authoring.Options) (*Summary, error) {
	state := &runState{summary: &Summary{Kind: h.Kind(), Direction: DirectionPull}}

	filter := authoring.ListFilter{}
	if opts != nil {
		filter.ModifiedSince = opts.Since
	}

	modifiedOnly := !filter.ModifiedSince.IsZero()

	items := make(chan authoring.Artifact, itemQueueDepth)
	g, gctx := errgroup.WithContext(ctx)

	// Producer: advance the pagination cursor until a short page.
	g.Go(func() error {
		defer close(items)

		offset := 0

		for {
			page, err := h.items.List(gctx, offset, filter, opts)
			if err != nil {
				return fmt.Errorf("sync: listing %s at offset %d: %w", h.Kind(), offset, err)
			}

			for i := range page.Items {
				a := page.Items[i]

				if modifiedOnly && !h.hashes.IsRemoteModified(h.identity(&a), a.MD5, a.LastModified) {
					continue
				}

				select {
				case items <- a:
				case <-gctx.Done():
					return gctx.Err()
				}
			}

			if page.Done {
				return nil
			}

			offset = page.NextOffset
		}
	})

	for range d.concurrency {
		g.Go(func() error {
			for a := range items {
				artifact := a
				err := h.pullArtifact(gctx, &artifact, opts)
				d.recordOutcome(state, h, DirectionPull, h.identity(&artifact), err)

				if gctx.Err() != nil {
					return gctx.Err()
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.retryPass(ctx, state, func(ctx context.Context, path string) error {
		_, err := h.PullOne(ctx, path, opts)

		return err
	})

	d.logRun(state.summary)

	return state.summary, nil
}

// RunPush pushes local artifacts of the helper's kind. When
// modifiedOnly is set, unchanged entries (per the hash store) are
// skipped before any network traffic.
func (d *Driver) RunPush(ctx context.Context, h *Helper, opts *authoring.Options, modifiedOnly bool) (*Summary, error) {
	state := &runState{summary: &Summary{Kind: h.Kind(), Direction: DirectionPush}}

	entries, err := h.files.Enumerate(h.Kind())
	if err != nil {
		return nil, fmt.Errorf("sync: enumerating local %s: %w", h.Kind(), err)
	}

	if opts != nil && len(opts.AssetTypes) > 0 && h.Kind().Binary() {
		entries = filterByExtension(entries, opts.AssetTypes)
	}

	work := make(chan local.Entry, itemQueueDepth)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(work)

		for _, e := range entries {
			if modifiedOnly {
				modified, digErr := h.isLocallyModified(e)
				if digErr != nil {
					h.bus.Emit(Event{Name: EventPushedError, Path: e.Path, Err: digErr})
					d.recordOutcome(state, h, DirectionPush, e.Path, digErr)

					continue
				}

				if !modified {
					continue
				}
			}

			select {
			case work <- e:
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		return nil
	})

	for range d.concurrency {
		g.Go(func() error {
			for e := range work {
				_, pushErr := h.PushOne(gctx, e.Path, opts)
				d.recordOutcome(state, h, DirectionPush, e.Path, pushErr)

				if gctx.Err() != nil {
					return gctx.Err()
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.retryPass(ctx, state, func(ctx context.Context, path string) error {
		_, pushErr := h.PushOne(ctx, path, opts)

		return pushErr
	})

	d.logRun(state.summary)

	return state.summary, nil
}

// recordOutcome folds one item result into the run state, metrics, and
// the ledger.
func (d *Driver) recordOutcome(state *runState, h *Helper, dir Direction, path string, err error) {
	kind := string(h.Kind())

	if err == nil {
		state.success(path)
		d.metrics.RecordSuccess(kind, dir.String())
		d.ledger.RecordItem(kind, dir.String(), path, "")

		return
	}

	state.failure(path, err)
	d.metrics.RecordError(kind, dir.String())
	d.ledger.RecordItem(kind, dir.String(), path, err.Error())
}

// retryPass re-executes items whose first failure was marked
// retryable, with exponential backoff between attempts. Retry budget
// exhaustion converts the item into a regular failure.
func (d *Driver) retryPass(ctx context.Context, state *runState, exec func(context.Context, string) error) {
	paths := state.takeRetryable()
	if len(paths) == 0 {
		return
	}

	d.logger.Info("retrying deferred items",
		slog.Int("count", len(paths)),
	)

	backoff := retry.WithMaxRetries(d.itemRetries, retry.NewExponential(d.itemRetryDelay))

	for _, p := range paths {
		path := p

		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			execErr := exec(ctx, path)
			if execErr == nil {
				return nil
			}

			if IsRetryable(execErr) {
				return retry.RetryableError(execErr)
			}

			return execErr
		})
		if err != nil {
			state.mu.Lock()
			state.summary.Failed = append(state.summary.Failed, ItemError{Path: path, Err: err, Retryable: true})
			state.mu.Unlock()

			continue
		}

		state.success(path)
	}
}

// filterByExtension keeps asset entries whose extension is in types.
func filterByExtension(entries []local.Entry, types []string) []local.Entry {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed["."+t] = true
	}

	var kept []local.Entry

	for _, e := range entries {
		for ext := range allowed {
			if len(e.Path) > len(ext) && e.Path[len(e.Path)-len(ext):] == ext {
				kept = append(kept, e)

				break
			}
		}
	}

	return kept
}

func (d *Driver) logRun(s *Summary) {
	d.logger.Info("bulk run complete",
		slog.String("kind", string(s.Kind)),
		slog.String("direction", s.Direction.String()),
		slog.Int("succeeded", len(s.Succeeded)),
		slog.Int("failed", len(s.Failed)),
	)
}
