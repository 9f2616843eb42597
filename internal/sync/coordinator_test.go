package sync

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxtools/dxsync/internal/authoring"
)

// stubSyncer records which operation the coordinator invoked and
// returns a canned summary.
type stubSyncer struct {
	kind    authoring.Kind
	calls   []string
	summary *Summary
	err     error
}

func (s *stubSyncer) Kind() authoring.Kind { return s.kind }

func (s *stubSyncer) result(op string) (*Summary, error) {
	s.calls = append(s.calls, op)

	if s.err != nil {
		return nil, s.err
	}

	if s.summary != nil {
		return s.summary, nil
	}

	return &Summary{Kind: s.kind}, nil
}

func (s *stubSyncer) PullAll(context.Context, *Driver, *authoring.Options) (*Summary, error) {
	return s.result("PullAll")
}

func (s *stubSyncer) PullModified(context.Context, *Driver, *authoring.Options) (*Summary, error) {
	return s.result("PullModified")
}

func (s *stubSyncer) PushAll(context.Context, *Driver, *authoring.Options) (*Summary, error) {
	return s.result("PushAll")
}

func (s *stubSyncer) PushModified(context.Context, *Driver, *authoring.Options) (*Summary, error) {
	return s.result("PushModified")
}

func TestCoordinatorRun_AggregatesAcrossKinds(t *testing.T) {
	kinds := []authoring.Kind{
		authoring.KindPublishingSite,
		authoring.KindRendition,
		authoring.KindLayoutMapping,
		authoring.KindLayout,
		authoring.KindContent,
		authoring.KindContentType,
	}

	stubs := make([]*stubSyncer, 0, len(kinds))
	syncers := make([]KindSyncer, 0, len(kinds))

	for _, k := range kinds {
		stub := &stubSyncer{
			kind: k,
			summary: &Summary{
				Kind:      k,
				Succeeded: []string{"a", "b"},
				Failed:    []ItemError{{Path: "c", Err: errors.New("boom")}},
			},
		}
		stubs = append(stubs, stub)
		syncers = append(syncers, stub)
	}

	coord := NewCoordinator(syncers, newTestDriver(1), nil, t.TempDir(), nil)

	summary, err := coord.Run(context.Background(), DirectionPush, nil, false, nil)
	require.NoError(t, err)

	assert.Equal(t, "12 artifacts successfully pushed, 6 errors", summary.Format())

	for _, stub := range stubs {
		assert.Equal(t, []string{"PushModified"}, stub.calls, string(stub.kind))
	}
}

func TestCoordinatorRun_IgnoreTimestampsUsesAllForms(t *testing.T) {
	stub := &stubSyncer{kind: authoring.KindContent}
	coord := NewCoordinator([]KindSyncer{stub}, newTestDriver(1), nil, t.TempDir(), nil)

	_, err := coord.Run(context.Background(), DirectionPush, nil, true, nil)
	require.NoError(t, err)

	_, err = coord.Run(context.Background(), DirectionPull, nil, true, nil)
	require.NoError(t, err)

	_, err = coord.Run(context.Background(), DirectionPull, nil, false, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"PushAll", "PullAll", "PullModified"}, stub.calls)
}

// orderSyncer appends its kind to a shared slice on every invocation.
type orderSyncer struct {
	stubSyncer
	order *[]authoring.Kind
}

func (s *orderSyncer) PullModified(ctx context.Context, d *Driver, o *authoring.Options) (*Summary, error) {
	*s.order = append(*s.order, s.kind)

	return s.stubSyncer.PullModified(ctx, d, o)
}

func (s *orderSyncer) PushModified(ctx context.Context, d *Driver, o *authoring.Options) (*Summary, error) {
	*s.order = append(*s.order, s.kind)

	return s.stubSyncer.PushModified(ctx, d, o)
}

func TestCoordinatorRun_KindOrdering(t *testing.T) {
	var order []authoring.Kind

	// Registered out of order on purpose.
	syncers := []KindSyncer{
		&orderSyncer{stubSyncer: stubSyncer{kind: authoring.KindContent}, order: &order},
		&orderSyncer{stubSyncer: stubSyncer{kind: authoring.KindAsset}, order: &order},
		&orderSyncer{stubSyncer: stubSyncer{kind: authoring.KindContentType}, order: &order},
	}

	coord := NewCoordinator(syncers, newTestDriver(1), nil, t.TempDir(), nil)

	_, err := coord.Run(context.Background(), DirectionPull, nil, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []authoring.Kind{authoring.KindAsset, authoring.KindContentType, authoring.KindContent}, order)

	order = nil

	_, err = coord.Run(context.Background(), DirectionPush, nil, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []authoring.Kind{authoring.KindContent, authoring.KindContentType, authoring.KindAsset}, order)
}

func TestCoordinatorRun_SelectionFilters(t *testing.T) {
	content := &stubSyncer{kind: authoring.KindContent}
	assets := &stubSyncer{kind: authoring.KindAsset}

	coord := NewCoordinator([]KindSyncer{content, assets}, newTestDriver(1), nil, t.TempDir(), nil)

	_, err := coord.Run(context.Background(), DirectionPush, []authoring.Kind{authoring.KindContent}, false, nil)
	require.NoError(t, err)

	assert.Len(t, content.calls, 1)
	assert.Empty(t, assets.calls)
}

func TestCoordinatorRun_KindFailureIsFatal(t *testing.T) {
	boom := errors.New("listing exploded")
	stub := &stubSyncer{kind: authoring.KindContent, err: boom}

	coord := NewCoordinator([]KindSyncer{stub}, newTestDriver(1), nil, t.TempDir(), nil)

	_, err := coord.Run(context.Background(), DirectionPush, nil, false, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestCoordinatorSyncer(t *testing.T) {
	stub := &stubSyncer{kind: authoring.KindContent}
	coord := NewCoordinator([]KindSyncer{stub}, newTestDriver(1), nil, t.TempDir(), nil)

	assert.Equal(t, stub, coord.Syncer(authoring.KindContent))
	assert.Nil(t, coord.Syncer(authoring.KindAsset))
}

func TestBuildHelpers_CoversAllKinds(t *testing.T) {
	env := newTestEnv(t, authoring.KindContent, http.NewServeMux())

	helpers := BuildHelpers(nil, env.files, env.hashes, nil)
	require.Len(t, helpers, len(authoring.PullOrder))

	seen := make(map[authoring.Kind]bool)

	for _, h := range helpers {
		seen[h.Kind()] = true

		helper, ok := h.(*Helper)
		require.True(t, ok)

		if h.Kind().Binary() {
			assert.NotNil(t, helper.resources)
		} else {
			assert.Nil(t, helper.resources)
		}
	}

	assert.Len(t, seen, len(authoring.PullOrder))
}

func TestCoordinatorRun_KindFailureClosesLedgerRun(t *testing.T) {
	root := t.TempDir()

	ledger, err := OpenLedger(context.Background(), root, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = ledger.Close() })

	boom := errors.New("listing exploded")
	stub := &stubSyncer{kind: authoring.KindContent, err: boom}

	coord := NewCoordinator([]KindSyncer{stub}, newTestDriver(1), ledger, root, nil)

	_, err = coord.Run(context.Background(), DirectionPush, nil, false, nil)
	require.ErrorIs(t, err, boom)

	var open int
	require.NoError(t, ledger.db.QueryRow(
		`SELECT COUNT(*) FROM runs WHERE finished_at IS NULL`).Scan(&open))
	assert.Zero(t, open, "a failed run must still close its ledger row")
}
