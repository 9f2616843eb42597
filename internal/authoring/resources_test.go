package authoring

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResourceAdapter(t *testing.T, url string) *ResourceAdapter {
	t.Helper()

	return NewResourceAdapter(newTestClient(t, url), nil)
}

func TestUpload_ContentAddressed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/authoring/v1/resources/d41d8cd9", r.URL.Path)
		assert.Equal(t, "hero.png", r.URL.Query().Get("name"))
		assert.Equal(t, "1B2M2Y8A", r.URL.Query().Get("md5"))
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "pngbytes", string(body))

		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	adapter := newTestResourceAdapter(t, srv.URL)
	id, err := adapter.Upload(context.Background(), "hero.png", "d41d8cd9", "1B2M2Y8A", 8,
		bytesBody([]byte("pngbytes")), nil)
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd9", id)
}

func TestUpload_ServerAssignedID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		_, _ = w.Write([]byte(`{"id":"server-id"}`))
	}))
	defer srv.Close()

	adapter := newTestResourceAdapter(t, srv.URL)
	id, err := adapter.Upload(context.Background(), "hero.png", "d41d8cd9", "1B2M2Y8A", 8,
		bytesBody([]byte("pngbytes")), nil)
	require.NoError(t, err)
	assert.Equal(t, "server-id", id)
}

func TestUpload_ConflictCreateOnlyIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	adapter := newTestResourceAdapter(t, srv.URL)

	id, err := adapter.Upload(context.Background(), "hero.png", "d41d8cd9", "1B2M2Y8A", 8,
		bytesBody([]byte("pngbytes")), &Options{CreateOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd9", id)

	// Without createOnly the conflict surfaces.
	_, err = adapter.Upload(context.Background(), "hero.png", "d41d8cd9", "1B2M2Y8A", 8,
		bytesBody([]byte("pngbytes")), nil)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUpload_NoDigestUsesPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/authoring/v1/resources", r.URL.Path)
		assert.Equal(t, "notes.txt", r.URL.Query().Get("name"))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"fresh-id"}`))
	}))
	defer srv.Close()

	adapter := newTestResourceAdapter(t, srv.URL)
	id, err := adapter.Upload(context.Background(), "notes.txt", "", "", 5,
		bytesBody([]byte("hello")), nil)
	require.NoError(t, err)
	assert.Equal(t, "fresh-id", id)
}

func TestExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)

		if r.URL.Path == "/authoring/v1/resources/present" {
			w.WriteHeader(http.StatusOK)
			return
		}

		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	adapter := newTestResourceAdapter(t, srv.URL)

	ok, err := adapter.Exists(context.Background(), "present", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = adapter.Exists(context.Background(), "absent", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="hero.png"`)
		_, _ = w.Write([]byte("pngbytes"))
	}))
	defer srv.Close()

	adapter := newTestResourceAdapter(t, srv.URL)

	var buf bytes.Buffer

	name, n, err := adapter.Download(context.Background(), "res-1", &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, "hero.png", name)
	assert.Equal(t, int64(8), n)
	assert.Equal(t, "pngbytes", buf.String())
}

func TestDownload_MissingResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	adapter := newTestResourceAdapter(t, srv.URL)

	_, _, err := adapter.Download(context.Background(), "gone", io.Discard, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCannotGetAsset)
	assert.Contains(t, err.Error(), "404")
}

func TestFilenameFromDisposition(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"plain", `attachment; filename="report.pdf"`, "report.pdf"},
		{"unquoted", `attachment; filename=report.pdf`, "report.pdf"},
		{"rfc5987", `attachment; filename*=UTF-8''na%C3%AFve.png`, "naïve.png"},
		{"empty", "", ""},
		{"malformed", `;;;`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filenameFromDisposition(tt.header))
		})
	}
}

func TestListByCreated_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/authoring/v1/resources/views/by-created", r.URL.Path)

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset == 0 {
			_, _ = w.Write([]byte(`{"items":[{"id":"r1","name":"a"},{"id":"r2","name":"b"}]}`))
			return
		}

		_, _ = w.Write([]byte(`{"items":[{"id":"r3","name":"c"}]}`))
	}))
	defer srv.Close()

	adapter := newTestResourceAdapter(t, srv.URL)
	opts := &Options{Limit: 2}

	page1, done, err := adapter.ListByCreated(context.Background(), 0, opts)
	require.NoError(t, err)
	assert.False(t, done)
	require.Len(t, page1, 2)
	assert.Equal(t, "r1", page1[0].ID)

	page2, done, err := adapter.ListByCreated(context.Background(), 2, opts)
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, page2, 1)
	assert.Equal(t, "r3", page2[0].ID)
}
