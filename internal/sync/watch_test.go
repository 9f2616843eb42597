package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxtools/dxsync/internal/authoring"
)

func TestWatcher_PushesAfterSettledBurst(t *testing.T) {
	var pushes atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /authoring/v1/content/c1", func(w http.ResponseWriter, _ *http.Request) {
		pushes.Add(1)
		_, _ = w.Write([]byte(`{"id":"c1","rev":"2-b"}`))
	})

	env := newTestEnv(t, authoring.KindContent, mux)

	coord := NewCoordinator([]KindSyncer{env.helper}, newTestDriver(1), nil, env.files.Root(), nil)
	watcher := NewWatcher(coord, env.files.Root(), []authoring.Kind{authoring.KindContent}, nil, 50*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- watcher.Run(ctx) }()

	// Give the watcher time to establish its watch set before writing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, env.files.WriteMetadata(authoring.KindContent, "c1",
		json.RawMessage(`{"id":"c1","rev":"1-a"}`)))

	require.Eventually(t, func() bool { return pushes.Load() >= 1 },
		5*time.Second, 20*time.Millisecond, "a settled change burst must trigger one push")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatcher_DebounceCoalescesBurst(t *testing.T) {
	var pushes atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /authoring/v1/content/", func(w http.ResponseWriter, _ *http.Request) {
		pushes.Add(1)
		_, _ = w.Write([]byte(`{"id":"x","rev":"2-b"}`))
	})

	env := newTestEnv(t, authoring.KindContent, mux)

	coord := NewCoordinator([]KindSyncer{env.helper}, newTestDriver(1), nil, env.files.Root(), nil)
	watcher := NewWatcher(coord, env.files.Root(), []authoring.Kind{authoring.KindContent}, nil, 300*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- watcher.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)

	// Rapid writes inside one debounce window land in a single run.
	require.NoError(t, env.files.WriteMetadata(authoring.KindContent, "c1",
		json.RawMessage(`{"id":"c1","rev":"1-a"}`)))
	require.NoError(t, env.files.WriteMetadata(authoring.KindContent, "c2",
		json.RawMessage(`{"id":"c2","rev":"1-a"}`)))

	require.Eventually(t, func() bool { return pushes.Load() >= 2 },
		5*time.Second, 20*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, int32(2), pushes.Load(), "both items land in one coalesced run")
}

func TestWatcher_IgnorableFiltersMetadataAndTemps(t *testing.T) {
	w := NewWatcher(nil, "/work", nil, nil, 0, nil)

	tests := []struct {
		path string
		want bool
	}{
		{"/work/.metadata/hashes.json", true},
		{"/work/assets/.hidden", true},
		{"/work/assets/logo.png.dxtmp", true},
		{"/work/assets/logo.png", false},
		{"/work/content/c1.json", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, w.ignorable(tt.path), tt.path)
	}
}
