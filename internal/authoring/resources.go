package authoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
)

// Resource identifies a content-addressed binary blob underlying an
// asset artifact. Blobs are immutable: new content implies a new id.
type Resource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResourceAdapter handles the binary side of the asset kind: raw blob
// upload, existence checks, streaming download, and enumeration.
type ResourceAdapter struct {
	client *Client
	logger *slog.Logger
}

// NewResourceAdapter creates a resource adapter sharing the client's
// connection pool.
func NewResourceAdapter(client *Client, logger *slog.Logger) *ResourceAdapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &ResourceAdapter{client: client, logger: logger}
}

const resourcesPath = apiPrefix + "/resources"

// Upload stores a blob. When md5Hex is known the content-addressed PUT
// form is used, which is idempotent: a 409 Conflict under createOnly
// means the blob already exists and is treated as success. Without a
// digest the POST form creates a fresh server-assigned id.
// body must produce a fresh reader per attempt so retries can re-issue
// the request without buffering the payload.
func (r *ResourceAdapter) Upload(
	ctx context.Context, name, md5Hex, md5B64 string, length int64, body BodyFactory, opts *Options,
) (string, error) {
	contentType := ContentTypeForFilename(name)

	r.logger.Info("uploading resource",
		slog.String("name", name),
		slog.String("md5", md5Hex),
		slog.Int64("length", length),
		slog.String("content_type", contentType),
	)

	if md5Hex != "" {
		return r.uploadContentAddressed(ctx, name, md5Hex, md5B64, contentType, body, opts)
	}

	return r.uploadNew(ctx, name, contentType, body, opts)
}

// uploadContentAddressed PUTs the blob at its digest-derived id.
func (r *ResourceAdapter) uploadContentAddressed(
	ctx context.Context, name, md5Hex, md5B64, contentType string, body BodyFactory, opts *Options,
) (string, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("md5", md5B64)
	path := resourcesPath + "/" + url.PathEscape(md5Hex) + "?" + q.Encode()

	resp, err := r.client.DoRaw(ctx, http.MethodPut, path, body, contentType, "application/json", nil, opts)
	if err != nil {
		if errors.Is(err, ErrConflict) && opts != nil && opts.CreateOnly {
			r.logger.Debug("resource already exists, treating conflict as success",
				slog.String("resource_id", md5Hex),
			)

			return md5Hex, nil
		}

		return "", err
	}
	defer resp.Body.Close()

	// The PUT form may answer 200/201 with or without a body.
	id := md5Hex
	if decoded, decErr := decodeResourceID(resp.Body); decErr == nil && decoded != "" {
		id = decoded
	}

	return id, nil
}

// uploadNew POSTs the blob for a server-assigned id.
func (r *ResourceAdapter) uploadNew(
	ctx context.Context, name, contentType string, body BodyFactory, opts *Options,
) (string, error) {
	path := resourcesPath + "?name=" + url.QueryEscape(name)

	resp, err := r.client.DoRaw(ctx, http.MethodPost, path, body, contentType, "application/json", nil, opts)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	id, decErr := decodeResourceID(resp.Body)
	if decErr != nil {
		return "", fmt.Errorf("authoring: decoding resource upload response: %w", decErr)
	}

	if id == "" {
		return "", errors.New("authoring: resource upload response carried no id")
	}

	return id, nil
}

// decodeResourceID extracts {"id": ...} from an upload response body.
func decodeResourceID(body io.Reader) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	if len(raw) == 0 {
		return "", nil
	}

	var res Resource
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", err
	}

	return res.ID, nil
}

// Exists checks whether a blob is already stored under the given id.
func (r *ResourceAdapter) Exists(ctx context.Context, resourceID string, opts *Options) (bool, error) {
	path := resourcesPath + "/" + url.PathEscape(resourceID)

	resp, err := r.client.DoRaw(ctx, http.MethodHead, path, nil, "", "*/*", nil, opts)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}

		return false, err
	}
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return false, fmt.Errorf("authoring: draining HEAD response body: %w", copyErr)
	}

	return true, nil
}

// Download streams the blob for resourceID into w and returns the
// server-provided filename (from Content-Disposition, supporting the
// RFC 5987 filename* form) and the byte count. A missing resource
// surfaces as ErrCannotGetAsset.
func (r *ResourceAdapter) Download(ctx context.Context, resourceID string, w io.Writer, opts *Options) (string, int64, error) {
	r.logger.Info("downloading resource",
		slog.String("resource_id", resourceID),
	)

	path := resourcesPath + "/" + url.PathEscape(resourceID)

	resp, err := r.client.DoRaw(ctx, http.MethodGet, path, nil, "", "*/*", nil, opts)
	if err != nil {
		if status := StatusOf(err); status != 0 && !errors.Is(err, ErrTechnicalDifficulties) {
			return "", 0, fmt.Errorf("%w: resource %s: %v", ErrCannotGetAsset, resourceID, err)
		}

		return "", 0, err
	}
	defer resp.Body.Close()

	filename := filenameFromDisposition(resp.Header.Get("Content-Disposition"))

	n, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		r.logger.Error("streaming resource content failed",
			slog.String("resource_id", resourceID),
			slog.Int64("bytes_before_error", n),
			slog.String("error", copyErr.Error()),
		)

		return filename, n, fmt.Errorf("authoring: streaming resource %s: %w", resourceID, copyErr)
	}

	return filename, n, nil
}

// filenameFromDisposition extracts the filename from a
// Content-Disposition header. mime.ParseMediaType decodes both the
// plain filename and the RFC 5987 filename* parameter.
func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}

	return params["filename"]
}

// ListByCreated fetches one page of the resource enumeration view.
func (r *ResourceAdapter) ListByCreated(ctx context.Context, offset int, opts *Options) ([]Resource, bool, error) {
	limit := opts.pageLimit()

	q := url.Values{}
	q.Set("offset", fmt.Sprint(offset))
	q.Set("limit", fmt.Sprint(limit))

	resp, err := r.client.Do(ctx, http.MethodGet, resourcesPath+"/views/by-created?"+q.Encode(), nil, opts)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("authoring: reading resource list response: %w", err)
	}

	docs, err := decodeListBody(raw)
	if err != nil {
		return nil, false, fmt.Errorf("authoring: decoding resource list response: %w", err)
	}

	resources := make([]Resource, 0, len(docs))

	for _, doc := range docs {
		var res Resource
		if decErr := json.Unmarshal(doc, &res); decErr != nil {
			return nil, false, fmt.Errorf("authoring: decoding resource entry: %w", decErr)
		}

		resources = append(resources, res)
	}

	return resources, len(resources) < limit, nil
}
