package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dxtools/dxsync/internal/authoring"
	"github.com/dxtools/dxsync/internal/hashes"
	"github.com/dxtools/dxsync/internal/local"
)

// ErrLocalNotFound is returned by PushOne when the named artifact is
// not present in the working directory.
var ErrLocalNotFound = errors.New("sync: artifact not found in working directory")

// ErrRemoteNotFound is returned by PullOne when the named artifact is
// not present on the server.
var ErrRemoteNotFound = errors.New("sync: artifact not found on server")

// Helper orchestrates push and pull of a single artifact kind. It
// holds references to the REST adapters, the local store, and the hash
// store, but owns no persistent state itself. All methods are safe for
// concurrent use by the bulk driver's workers.
type Helper struct {
	kind      authoring.Kind
	items     *authoring.KindAdapter
	resources *authoring.ResourceAdapter // non-nil for the asset kind only
	files     *local.Store
	hashes    *hashes.Store
	bus       *EventBus
	logger    *slog.Logger
}

// NewHelper creates a helper for one artifact kind. resources may be
// nil for kinds without binary content.
func NewHelper(
	kind authoring.Kind,
	items *authoring.KindAdapter,
	resources *authoring.ResourceAdapter,
	files *local.Store,
	hashStore *hashes.Store,
	bus *EventBus,
	logger *slog.Logger,
) *Helper {
	if logger == nil {
		logger = slog.Default()
	}

	if bus == nil {
		bus = NewEventBus()
	}

	return &Helper{
		kind:      kind,
		items:     items,
		resources: resources,
		files:     files,
		hashes:    hashStore,
		bus:       bus,
		logger:    logger.With(slog.String("kind", string(kind))),
	}
}

// Kind returns the artifact kind this helper serves.
func (h *Helper) Kind() authoring.Kind {
	return h.kind
}

// Events returns the helper's event bus for progress subscription.
func (h *Helper) Events() *EventBus {
	return h.bus
}

// identity returns the hash-store key and display path for an artifact.
func (h *Helper) identity(a *authoring.Artifact) string {
	if h.kind.Binary() {
		return local.NormalizePath(a.Path)
	}

	return a.ID
}

// PullOne fetches a single artifact by logical path (asset kind) or id
// (JSON kinds) and materializes it locally.
func (h *Helper) PullOne(ctx context.Context, path string, opts *authoring.Options) (*authoring.Artifact, error) {
	artifact, err := h.FindRemote(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	if pullErr := h.pullArtifact(ctx, artifact, opts); pullErr != nil {
		return nil, pullErr
	}

	return artifact, nil
}

// FindRemote resolves a logical path (asset kind) or id (JSON kinds)
// to the remote artifact without materializing anything locally.
func (h *Helper) FindRemote(ctx context.Context, name string, opts *authoring.Options) (*authoring.Artifact, error) {
	if h.kind.Binary() {
		if err := local.ValidatePath(name); err != nil {
			return nil, err
		}

		return h.findRemoteByPath(ctx, name, opts)
	}

	artifact, err := h.items.Get(ctx, name, opts)
	if err != nil {
		if errors.Is(err, authoring.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrRemoteNotFound, h.kind, name)
		}

		return nil, err
	}

	return artifact, nil
}

// findRemoteByPath scans the paginated remote listing for an asset
// with the given logical path.
func (h *Helper) findRemoteByPath(ctx context.Context, path string, opts *authoring.Options) (*authoring.Artifact, error) {
	offset := 0

	for {
		page, err := h.items.List(ctx, offset, authoring.ListFilter{}, opts)
		if err != nil {
			return nil, err
		}

		for i := range page.Items {
			if local.NormalizePath(page.Items[i].Path) == local.NormalizePath(path) {
				return &page.Items[i], nil
			}
		}

		if page.Done {
			return nil, fmt.Errorf("%w: %s %s", ErrRemoteNotFound, h.kind, path)
		}

		offset = page.NextOffset
	}
}

// pullArtifact materializes one remote artifact locally: binary kinds
// stream the resource to a temp file and commit; JSON kinds write the
// document. The hash store is updated and a pulled/pulled-error event
// is emitted strictly after the terminal outcome.
func (h *Helper) pullArtifact(ctx context.Context, a *authoring.Artifact, opts *authoring.Options) error {
	id := h.identity(a)

	var err error
	if h.kind.Binary() {
		err = h.pullAsset(ctx, a, opts)
	} else {
		err = h.pullMetadata(a)
	}

	if err != nil {
		h.bus.Emit(Event{Name: EventPulledError, Path: id, Err: err})

		return err
	}

	h.hashes.Record(id, a.MD5, a.ResourceID, a.LastModified, hashes.Pull)
	h.bus.Emit(Event{Name: EventPulled, Path: id})

	return nil
}

// pullMetadata writes a JSON-kind artifact document to disk.
func (h *Helper) pullMetadata(a *authoring.Artifact) error {
	if a.ID == "" {
		return fmt.Errorf("sync: %s artifact without id cannot be stored", h.kind)
	}

	if err := h.files.WriteMetadata(h.kind, a.ID, a.Body); err != nil {
		return err
	}

	h.logger.Debug("pulled metadata",
		slog.String("id", a.ID),
	)

	return nil
}

// PullAll transfers every remote artifact of the kind, or only those
// passing the opts.Since filter when set. Per-item failures aggregate
// into the summary; they do not stop the run.
func (h *Helper) PullAll(ctx context.Context, driver *Driver, opts *authoring.Options) (*Summary, error) {
	return driver.RunPull(ctx, h, opts)
}

// PullModified is PullAll with since = the kind's last pull watermark.
// The watermark advances only on clean completion.
func (h *Helper) PullModified(ctx context.Context, driver *Driver, opts *authoring.Options) (*Summary, error) {
	effective := cloneOptions(opts)
	effective.Since = h.hashes.LastPullAt(string(h.kind))

	start := time.Now().UTC()

	summary, err := driver.RunPull(ctx, h, effective)
	if err != nil {
		return nil, err
	}

	if len(summary.Failed) == 0 {
		h.hashes.SetLastPullAt(string(h.kind), start)
	}

	return summary, nil
}

// PushOne pushes a single local artifact by logical path (asset kind)
// or id (JSON kinds).
func (h *Helper) PushOne(ctx context.Context, path string, opts *authoring.Options) (*authoring.Artifact, error) {
	var (
		artifact *authoring.Artifact
		err      error
	)

	if h.kind.Binary() {
		artifact, err = h.pushAsset(ctx, path, opts)
	} else {
		artifact, err = h.pushMetadata(ctx, path, opts)
	}

	if err != nil {
		h.bus.Emit(Event{Name: EventPushedError, Path: path, Err: err})

		return nil, err
	}

	h.bus.Emit(Event{Name: EventPushed, Path: path})

	return artifact, nil
}

// pushMetadata pushes one JSON-kind artifact document.
func (h *Helper) pushMetadata(ctx context.Context, id string, opts *authoring.Options) (*authoring.Artifact, error) {
	body, err := h.files.ReadMetadata(h.kind, id)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s %s", ErrLocalNotFound, h.kind, id)
		}

		return nil, err
	}

	digest, err := hashes.ReaderDigest(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	artifact, err := decodeLocalArtifact(h.kind, body, h.logger)
	if err != nil {
		return nil, err
	}

	pushed, err := h.items.Update(ctx, artifact, opts)
	if err != nil {
		if errors.Is(err, authoring.ErrConflict) && opts != nil && opts.CreateOnly {
			// Already exists and the caller asked for create-only
			// semantics: success without a server round-trip result.
			h.hashes.Record(id, digest.Hex, "", time.Now().UTC(), hashes.Push)

			return artifact, nil
		}

		return nil, h.classifyPushError(err, opts)
	}

	h.hashes.Record(id, digest.Hex, "", pushed.LastModified, hashes.Push)

	return pushed, nil
}

// classifyPushError marks exhausted transient errors retryable when
// the caller's FilterRetryPush predicate accepts them.
func (h *Helper) classifyPushError(err error, opts *authoring.Options) error {
	if opts != nil && opts.FilterRetryPush != nil && opts.FilterRetryPush(err) {
		return markRetryable(err)
	}

	return err
}

// PushAll transfers every locally present artifact of the kind.
func (h *Helper) PushAll(ctx context.Context, driver *Driver, opts *authoring.Options) (*Summary, error) {
	return driver.RunPush(ctx, h, opts, false)
}

// PushModified transfers only artifacts whose local bytes differ from
// the last synced state. The push watermark advances only on clean
// completion.
func (h *Helper) PushModified(ctx context.Context, driver *Driver, opts *authoring.Options) (*Summary, error) {
	start := time.Now().UTC()

	summary, err := driver.RunPush(ctx, h, opts, true)
	if err != nil {
		return nil, err
	}

	if len(summary.Failed) == 0 {
		h.hashes.SetLastPushAt(string(h.kind), start)
	}

	return summary, nil
}

// isLocallyModified reports whether the entry's bytes differ from the
// hash store's last synced state.
func (h *Helper) isLocallyModified(entry local.Entry) (bool, error) {
	digest, err := hashes.FileDigest(entry.FilePath)
	if err != nil {
		return false, err
	}

	return h.hashes.IsLocalModified(entry.Path, digest.Hex), nil
}

// ListRemoteNames returns the identity of every remote artifact of the
// kind, walking all pages.
func (h *Helper) ListRemoteNames(ctx context.Context, opts *authoring.Options) (map[string]bool, error) {
	return h.listRemote(ctx, opts, time.Time{})
}

// ListRemoteModifiedNames returns remote identities modified since the
// kind's last pull watermark.
func (h *Helper) ListRemoteModifiedNames(ctx context.Context, opts *authoring.Options) (map[string]bool, error) {
	return h.listRemote(ctx, opts, h.hashes.LastPullAt(string(h.kind)))
}

func (h *Helper) listRemote(ctx context.Context, opts *authoring.Options, since time.Time) (map[string]bool, error) {
	names := make(map[string]bool)
	offset := 0

	for {
		page, err := h.items.List(ctx, offset, authoring.ListFilter{ModifiedSince: since}, opts)
		if err != nil {
			return nil, err
		}

		for i := range page.Items {
			names[h.identity(&page.Items[i])] = true
		}

		if page.Done {
			return names, nil
		}

		offset = page.NextOffset
	}
}

// ListRemoteDeletedNames returns identities the hash store knows that
// no longer exist remotely.
func (h *Helper) ListRemoteDeletedNames(ctx context.Context, opts *authoring.Options) (map[string]bool, error) {
	remote, err := h.ListRemoteNames(ctx, opts)
	if err != nil {
		return nil, err
	}

	deleted := make(map[string]bool)

	for _, path := range h.hashes.ListKnownPaths() {
		if !remote[path] && h.ownsPath(path) {
			deleted[path] = true
		}
	}

	return deleted, nil
}

// ListLocalNames returns the identity of every locally present
// artifact of the kind.
func (h *Helper) ListLocalNames() (map[string]bool, error) {
	entries, err := h.files.Enumerate(h.kind)
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Path] = true
	}

	return names, nil
}

// ListLocalModifiedNames returns identities whose local bytes differ
// from the last synced state.
func (h *Helper) ListLocalModifiedNames() (map[string]bool, error) {
	entries, err := h.files.Enumerate(h.kind)
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool)

	for _, e := range entries {
		modified, digErr := h.isLocallyModified(e)
		if digErr != nil {
			return nil, digErr
		}

		if modified {
			names[e.Path] = true
		}
	}

	return names, nil
}

// ListLocalDeletedNames returns identities the hash store knows that
// are no longer present in the working directory.
func (h *Helper) ListLocalDeletedNames() (map[string]bool, error) {
	present, err := h.ListLocalNames()
	if err != nil {
		return nil, err
	}

	deleted := make(map[string]bool)

	for _, path := range h.hashes.ListKnownPaths() {
		if !present[path] && h.ownsPath(path) {
			deleted[path] = true
		}
	}

	return deleted, nil
}

// ownsPath guesses whether a hash-store key belongs to this kind:
// binary kinds own /-rooted logical paths, JSON kinds own bare ids.
func (h *Helper) ownsPath(path string) bool {
	rooted := len(path) > 0 && path[0] == '/'
	if h.kind.Binary() {
		return rooted
	}

	return !rooted
}

// DeleteRemote removes an artifact from the server and marks the hash
// record remote-absent. Emits deleted/deleted-error.
func (h *Helper) DeleteRemote(ctx context.Context, a *authoring.Artifact, opts *authoring.Options) (string, error) {
	id := h.identity(a)

	msg, err := h.items.Delete(ctx, a, opts)
	if err != nil {
		h.bus.Emit(Event{Name: EventDeletedError, Path: id, Err: err})

		if errors.Is(err, authoring.ErrConflict) {
			return "", markRetryable(err)
		}

		return "", err
	}

	h.hashes.MarkRemoteAbsent(id)
	h.bus.Emit(Event{Name: EventDeleted, Path: id})

	return msg, nil
}

// decodeLocalArtifact parses a locally stored artifact document.
func decodeLocalArtifact(kind authoring.Kind, body json.RawMessage, logger *slog.Logger) (*authoring.Artifact, error) {
	var env struct {
		ID           string `json:"id"`
		Rev          string `json:"rev"`
		Name         string `json:"name"`
		Path         string `json:"path"`
		ResourceID   string `json:"resource"`
		LastModified string `json:"lastModified"`
	}

	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("sync: decoding local %s document: %w", kind, err)
	}

	a := &authoring.Artifact{
		Kind:       kind,
		ID:         env.ID,
		Rev:        env.Rev,
		Name:       env.Name,
		Path:       env.Path,
		ResourceID: env.ResourceID,
		Body:       body,
	}

	if env.LastModified != "" {
		if t, err := time.Parse(time.RFC3339, env.LastModified); err == nil {
			a.LastModified = t
		} else {
			logger.Debug("ignoring unparseable local lastModified",
				slog.String("kind", string(kind)),
				slog.String("raw", env.LastModified),
			)
		}
	}

	return a, nil
}

// cloneOptions copies opts so per-run adjustments do not leak to the
// caller. Nil yields a fresh zero Options.
func cloneOptions(opts *authoring.Options) *authoring.Options {
	if opts == nil {
		return &authoring.Options{}
	}

	cp := *opts

	return &cp
}
