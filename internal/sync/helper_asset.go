package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/dxtools/dxsync/internal/authoring"
	"github.com/dxtools/dxsync/internal/hashes"
	"github.com/dxtools/dxsync/internal/local"
)

// pushAsset runs the two-phase binary push: ensure the blob exists
// server-side (dedupe by digest, HEAD probe, content-addressed
// upload), then create or update the asset metadata. The phases of a
// single item are strictly sequential.
func (h *Helper) pushAsset(ctx context.Context, logicalPath string, opts *authoring.Options) (*authoring.Artifact, error) {
	logicalPath = local.NormalizePath(logicalPath)

	if err := local.ValidatePath(logicalPath); err != nil {
		return nil, err
	}

	filePath := h.files.AssetFilePath(logicalPath)
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("%w: asset %s", ErrLocalNotFound, logicalPath)
	}

	digest, err := hashes.FileDigest(filePath)
	if err != nil {
		return nil, err
	}

	resourceID, err := h.ensureResource(ctx, logicalPath, filePath, digest, opts)
	if err != nil {
		return nil, h.classifyPushError(err, opts)
	}

	artifact, err := h.pushAssetMetadata(ctx, logicalPath, resourceID, digest, opts)
	if err != nil {
		return nil, h.classifyPushError(err, opts)
	}

	return artifact, nil
}

// ensureResource makes the blob addressable server-side and returns
// its resource id. Upload is skipped when the hash store already maps
// this digest to a resource, or when a HEAD probe confirms the
// content-addressed id exists.
func (h *Helper) ensureResource(
	ctx context.Context, logicalPath, filePath string, digest *hashes.Digest, opts *authoring.Options,
) (string, error) {
	if known := h.hashes.KnownResourceID(digest.Hex); known != "" {
		h.logger.Debug("resource known from hash store, skipping upload",
			slog.String("path", logicalPath),
			slog.String("resource_id", known),
		)

		return known, nil
	}

	exists, err := h.resources.Exists(ctx, digest.Hex, opts)
	if err != nil {
		return "", err
	}

	if exists {
		h.logger.Debug("resource already stored, skipping upload",
			slog.String("path", logicalPath),
			slog.String("resource_id", digest.Hex),
		)

		return digest.Hex, nil
	}

	body := func() (io.Reader, error) {
		return os.Open(filePath)
	}

	uploadOpts := cloneOptions(opts)
	uploadOpts.CreateOnly = true

	return h.resources.Upload(ctx, path.Base(logicalPath), digest.Hex, digest.Base64, digest.Length, body, uploadOpts)
}

// pushAssetMetadata creates or updates the asset document referencing
// resourceID and records the outcome in the hash store. A 409 under
// createOnly means the asset already exists, which is acceptable.
func (h *Helper) pushAssetMetadata(
	ctx context.Context, logicalPath, resourceID string, digest *hashes.Digest, opts *authoring.Options,
) (*authoring.Artifact, error) {
	artifact, err := h.localAssetArtifact(logicalPath, resourceID)
	if err != nil {
		return nil, err
	}

	pushed, err := h.items.Update(ctx, artifact, opts)
	if err != nil {
		if errors.Is(err, authoring.ErrConflict) && opts != nil && opts.CreateOnly {
			h.hashes.Record(logicalPath, digest.Hex, resourceID, time.Now().UTC(), hashes.Push)

			return artifact, nil
		}

		return nil, err
	}

	// Persist the server's view so the next push sees the current rev.
	if len(pushed.Body) > 0 {
		if sideErr := h.files.WriteSidecar(logicalPath, pushed.Body); sideErr != nil {
			h.logger.Warn("failed to update metadata sidecar",
				slog.String("path", logicalPath),
				slog.String("error", sideErr.Error()),
			)
		} else {
			h.bus.Emit(Event{Name: EventRewrote, Path: logicalPath})
		}
	}

	h.hashes.Record(logicalPath, digest.Hex, resourceID, pushed.LastModified, hashes.Push)

	return pushed, nil
}

// localAssetArtifact builds the metadata document to push: the sidecar
// when present (content assets), otherwise a minimal web-asset
// document. The resource reference is always refreshed to the current
// blob.
func (h *Helper) localAssetArtifact(logicalPath, resourceID string) (*authoring.Artifact, error) {
	sidecar, err := h.files.ReadSidecar(logicalPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("sync: reading sidecar for %s: %w", logicalPath, err)
	}

	doc := map[string]any{}
	if len(sidecar) > 0 {
		if decErr := json.Unmarshal(sidecar, &doc); decErr != nil {
			return nil, fmt.Errorf("sync: decoding sidecar for %s: %w", logicalPath, decErr)
		}
	}

	doc["path"] = logicalPath
	doc["resource"] = resourceID

	if _, ok := doc["name"]; !ok {
		doc["name"] = path.Base(logicalPath)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("sync: encoding asset document for %s: %w", logicalPath, err)
	}

	return decodeLocalArtifact(authoring.KindAsset, body, h.logger)
}

// pullAsset streams the artifact's resource into a reserved temp file
// and commits it, then persists the metadata sidecar. Nothing is
// committed at the target path on failure.
func (h *Helper) pullAsset(ctx context.Context, a *authoring.Artifact, opts *authoring.Options) error {
	logicalPath := local.NormalizePath(a.Path)

	if err := local.ValidatePath(logicalPath); err != nil {
		return err
	}

	if a.ResourceID == "" {
		return fmt.Errorf("%w: asset %s has no resource", authoring.ErrCannotGetAsset, logicalPath)
	}

	pending, err := h.files.OpenWriteStream(logicalPath)
	if err != nil {
		return err
	}

	_, n, err := h.resources.Download(ctx, a.ResourceID, pending, opts)
	if err != nil {
		pending.Abort()

		return err
	}

	if err := pending.Commit(); err != nil {
		return err
	}

	if len(a.Body) > 0 {
		if err := h.files.WriteSidecar(logicalPath, a.Body); err != nil {
			return err
		}
	}

	h.logger.Debug("pulled asset",
		slog.String("path", logicalPath),
		slog.Int64("bytes", n),
	)

	return nil
}
