package authoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Page is one page of a remote listing plus the cursor for the next
// page. Done is set when the server returned a short or empty page.
type Page struct {
	Items      []Artifact
	NextOffset int
	Done       bool
}

// ListFilter narrows a List call.
type ListFilter struct {
	// ModifiedSince restricts the listing server-side. Zero means all.
	ModifiedSince time.Time
}

// KindAdapter translates kind-specific list/get/create/update/delete
// operations to client calls. It owns no mutable state beyond the
// shared connection pool.
type KindAdapter struct {
	kind   Kind
	client *Client
	logger *slog.Logger
}

// NewKindAdapter creates an adapter for one artifact kind.
func NewKindAdapter(kind Kind, client *Client, logger *slog.Logger) *KindAdapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &KindAdapter{kind: kind, client: client, logger: logger}
}

// Kind returns the artifact kind this adapter serves.
func (a *KindAdapter) Kind() Kind {
	return a.kind
}

// collectionPath returns the API path for the kind's collection.
func (a *KindAdapter) collectionPath() string {
	return apiPrefix + "/" + a.kind.URIPath()
}

// itemPath returns the API path for a single artifact.
func (a *KindAdapter) itemPath(id string) string {
	return a.collectionPath() + "/" + url.PathEscape(id)
}

// List fetches one page of artifacts at the given offset. The page is
// Done when the server returned fewer items than the limit.
func (a *KindAdapter) List(ctx context.Context, offset int, filter ListFilter, opts *Options) (*Page, error) {
	limit := opts.pageLimit()

	q := url.Values{}
	q.Set("offset", fmt.Sprint(offset))
	q.Set("limit", fmt.Sprint(limit))

	if !filter.ModifiedSince.IsZero() {
		q.Set("modified-since", filter.ModifiedSince.UTC().Format(time.RFC3339))
	}

	resp, err := a.client.Do(ctx, http.MethodGet, a.collectionPath()+"?"+q.Encode(), nil, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("authoring: reading %s list response: %w", a.kind, err)
	}

	docs, err := decodeListBody(raw)
	if err != nil {
		return nil, fmt.Errorf("authoring: decoding %s list response: %w", a.kind, err)
	}

	items := make([]Artifact, 0, len(docs))

	for _, doc := range docs {
		item, decErr := decodeArtifact(a.kind, doc, a.logger)
		if decErr != nil {
			return nil, decErr
		}

		items = append(items, item)
	}

	a.logger.Debug("fetched list page",
		slog.String("kind", string(a.kind)),
		slog.Int("offset", offset),
		slog.Int("count", len(items)),
	)

	return &Page{
		Items:      items,
		NextOffset: offset + limit,
		Done:       len(items) < limit,
	}, nil
}

// decodeListBody accepts both list shapes the service returns: a
// wrapped {"items": [...]} object or a bare array.
func decodeListBody(raw []byte) ([]json.RawMessage, error) {
	var wrapped listResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Items != nil {
		return wrapped.Items, nil
	}

	var bare []json.RawMessage
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, err
	}

	return bare, nil
}

// Get retrieves a single artifact by id.
func (a *KindAdapter) Get(ctx context.Context, id string, opts *Options) (*Artifact, error) {
	resp, err := a.client.Do(ctx, http.MethodGet, a.itemPath(id), nil, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return a.decodeOne(resp.Body)
}

// Create creates the artifact via POST and returns the created form.
func (a *KindAdapter) Create(ctx context.Context, artifact *Artifact, opts *Options) (*Artifact, error) {
	a.logger.Info("creating artifact",
		slog.String("kind", string(a.kind)),
		slog.String("name", artifact.Name),
	)

	resp, err := a.client.Do(ctx, http.MethodPost, a.collectionPath(), bytesBody(artifact.Body), opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return a.decodeOne(resp.Body)
}

// Update updates an existing artifact. Kinds without a revision token
// update via POST to the collection; kinds with one update via PUT,
// adding forceOverride=true when opts.ForceOverride is set. A 404 on
// the PUT falls back to Create — the artifact may have been deleted
// underneath us.
func (a *KindAdapter) Update(ctx context.Context, artifact *Artifact, opts *Options) (*Artifact, error) {
	if !a.kind.HasRev() || artifact.ID == "" {
		return a.Create(ctx, artifact, opts)
	}

	path := a.itemPath(artifact.ID)
	if opts != nil && opts.ForceOverride {
		path += "?forceOverride=true"
	}

	a.logger.Info("updating artifact",
		slog.String("kind", string(a.kind)),
		slog.String("id", artifact.ID),
	)

	resp, err := a.client.Do(ctx, http.MethodPut, path, bytesBody(artifact.Body), opts)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.logger.Warn("artifact vanished during update, recreating",
				slog.String("kind", string(a.kind)),
				slog.String("id", artifact.ID),
			)

			return a.Create(ctx, artifact, opts)
		}

		return nil, err
	}
	defer resp.Body.Close()

	return a.decodeOne(resp.Body)
}

// Delete removes the artifact and returns the server message, if any.
func (a *KindAdapter) Delete(ctx context.Context, artifact *Artifact, opts *Options) (string, error) {
	a.logger.Info("deleting artifact",
		slog.String("kind", string(a.kind)),
		slog.String("id", artifact.ID),
	)

	resp, err := a.client.Do(ctx, http.MethodDelete, a.itemPath(artifact.ID), nil, opts)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// 204 No Content or 200 with a message body.
	if resp.StatusCode == http.StatusNoContent {
		if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
			return "", fmt.Errorf("authoring: draining delete response body: %w", copyErr)
		}

		return "", nil
	}

	msg, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "", fmt.Errorf("authoring: reading delete response body: %w", readErr)
	}

	return string(msg), nil
}

// decodeOne decodes a single-artifact response body.
func (a *KindAdapter) decodeOne(body io.Reader) (*Artifact, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("authoring: reading %s response: %w", a.kind, err)
	}

	item, err := decodeArtifact(a.kind, raw, a.logger)
	if err != nil {
		return nil, err
	}

	return &item, nil
}
