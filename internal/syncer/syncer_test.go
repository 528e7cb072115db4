package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/amirphl/portfolio-sync/internal/db"
	"github.com/amirphl/portfolio-sync/internal/etoro"
	"github.com/amirphl/portfolio-sync/internal/journal"
	"github.com/amirphl/portfolio-sync/internal/lock"
	"github.com/amirphl/portfolio-sync/internal/metrics"
	"github.com/amirphl/portfolio-sync/internal/position"
	"github.com/amirphl/portfolio-sync/internal/reconcile"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	terms []position.Terms
	err   error
	calls int
}

func (f *fakeFetcher) Scrape(_ context.Context, pf position.Portfolio) ([]position.Position, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]position.Position, 0, len(f.terms))
	for _, t := range f.terms {
		p, err := position.New(pf.ID, t)
		if err != nil {
			return nil, err
		}
		out = append(out, p.WithFingerprint(position.Fingerprint(t)))
	}
	return out, nil
}

func terms(id, amount string) position.Terms {
	return position.Terms{
		PositionID:   id,
		CID:          "1001",
		InstrumentID: "1",
		OpenDateTime: "2024-03-01T10:15:30Z",
		OpenRate:     "182.5",
		Amount:       amount,
		Direction:    "Buy",
		DisplayName:  "Apple",
		Symbol:       "AAPL",
		Leverage:     "1",
	}
}

type recordingNotifier struct {
	msgs []string
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, msg string) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

type recordingPublisher struct {
	deltas []reconcile.Delta
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, _, _ string, d reconcile.Delta) error {
	r.deltas = append(r.deltas, d)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

// failingDeletes breaks DeletePosition to exercise rollback.
type failingDeletes struct {
	db.Storage
}

func (f failingDeletes) DeletePosition(context.Context, position.Position) error {
	return errors.New("disk full")
}

type heldLock struct{}

func (heldLock) Acquire(_ context.Context, key string) (lock.ReleaseFunc, error) {
	return nil, fmt.Errorf("%s: %w", key, lock.ErrLocked)
}

func newService(store db.Storage, f etoro.Fetcher) (*Service, *recordingNotifier, *recordingPublisher) {
	s := New(store, f)
	n, p := &recordingNotifier{}, &recordingPublisher{}
	s.Notifier, s.Publisher = n, p
	s.Metrics = metrics.NewMetrics()
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, n, p
}

func persistedFingerprints(t *testing.T, store db.Storage, portfolioID int64) []string {
	t.Helper()
	ps, err := store.GetPositions(context.Background(), portfolioID)
	require.NoError(t, err)
	var out []string
	for _, p := range ps {
		out = append(out, p.Fingerprint)
	}
	return out
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	fetcher := &fakeFetcher{terms: []position.Terms{terms("1", "2.5"), terms("2", "10")}}
	s, n, p := newService(store, fetcher)

	// first run against an empty store
	res, err := s.Run(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.True(t, res.Created)
	assert.Len(t, res.Delta.Inserted, 2)
	assert.Empty(t, res.Delta.Deleted)
	assert.Equal(t, 0, res.Before)
	assert.Equal(t, 2, res.After)
	assert.Equal(t, 2, res.Scraped)
	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0], "[+] Opened 2 orders:")
	require.Len(t, p.deltas, 1)

	// unchanged snapshot is a fixed point
	res, err = s.Run(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, res.Delta.Empty())
	assert.Equal(t, 2, res.After)
	assert.Equal(t, "[INFO] Portfolio sync completed - No changes detected", n.msgs[1])

	// one closed, one changed amount
	fetcher.terms = []position.Terms{terms("1", "3")}
	res, err = s.Run(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, res.Delta.Inserted, 1)
	assert.Len(t, res.Delta.Deleted, 2)
	assert.Equal(t, 1, res.After)
	assert.Equal(t, []string{position.Fingerprint(terms("1", "3"))}, persistedFingerprints(t, store, res.Portfolio.ID))

	events, err := store.GetEvents(ctx, journal.TypeSync, time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, journal.SyncCompleted, events[0].Description)

	assert.Equal(t, 3.0, testutil.ToFloat64(s.Metrics.RunsTotal.WithLabelValues(metrics.ResultSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.Metrics.PositionsCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.Metrics.PositionsDeleted))
}

func TestRunFetchFailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	fetcher := &fakeFetcher{terms: []position.Terms{terms("1", "2.5")}}
	s, n, _ := newService(store, fetcher)

	res, err := s.Run(ctx, "alice")
	require.NoError(t, err)
	before := persistedFingerprints(t, store, res.Portfolio.ID)

	fetcher.err = &etoro.HTTPError{URL: "https://x", StatusCode: 403, Status: "403 Forbidden"}
	_, err = s.Run(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, KindFetch, Classify(err))
	assert.Equal(t, before, persistedFingerprints(t, store, res.Portfolio.ID))
	assert.Len(t, n.msgs, 1, "no success report after a failed fetch")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.RunsTotal.WithLabelValues(metrics.ResultFailure)))
}

func TestRunRollsBackOnPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	mem := db.NewMemory()
	fetcher := &fakeFetcher{terms: []position.Terms{terms("1", "2.5")}}
	s, _, p := newService(mem, fetcher)

	res, err := s.Run(ctx, "alice")
	require.NoError(t, err)
	before := persistedFingerprints(t, mem, res.Portfolio.ID)

	s.Store = failingDeletes{mem}
	fetcher.terms = []position.Terms{terms("2", "5")}
	_, err = s.Run(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, KindPersistence, Classify(err))
	assert.ErrorContains(t, err, "disk full")

	assert.Equal(t, before, persistedFingerprints(t, mem, res.Portfolio.ID), "insert must roll back with the failed delete")
	assert.Len(t, p.deltas, 1)
}

func TestRunNotificationFailureDoesNotFail(t *testing.T) {
	s, n, _ := newService(db.NewMemory(), &fakeFetcher{terms: []position.Terms{terms("1", "2.5")}})
	n.err = errors.New("telegram down")
	s.Publisher = &recordingPublisher{err: errors.New("kafka down")}

	res, err := s.Run(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, res.Delta.Inserted, 1)
}

func TestRunLocked(t *testing.T) {
	fetcher := &fakeFetcher{}
	s, _, _ := newService(db.NewMemory(), fetcher)
	s.Locker = heldLock{}

	_, err := s.Run(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, KindLock, Classify(err))
	assert.Zero(t, fetcher.calls)
}

func TestRunWithoutName(t *testing.T) {
	s, _, _ := newService(db.NewMemory(), &fakeFetcher{})
	_, err := s.Run(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoPortfolio)
	assert.Equal(t, KindConfig, Classify(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"profile", fmt.Errorf("resolve: %w", etoro.ErrProfileNotFound), KindIdentity},
		{"profile inside fetch stage", &stageError{kind: KindFetch, err: etoro.ErrProfileNotFound}, KindIdentity},
		{"instrument", fmt.Errorf("x: %w", etoro.ErrInstrumentNotFound), KindFetch},
		{"http", &etoro.HTTPError{StatusCode: 500}, KindFetch},
		{"locked", lock.ErrLocked, KindLock},
		{"stage", &stageError{kind: KindPersistence, err: errors.New("boom")}, KindPersistence},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestHandleFailure(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	s, n, _ := newService(store, &fakeFetcher{})

	kind := s.HandleFailure(ctx, "alice", &stageError{kind: KindFetch, err: errors.New("GET x: 403 Forbidden")})
	assert.Equal(t, KindFetch, kind)
	require.Len(t, n.msgs, 1)
	assert.Equal(t, "❌ eToro Scraper Error (FetchError): GET x: 403 Forbidden", n.msgs[0])

	events, err := store.GetEvents(ctx, journal.TypeSync, time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, journal.SyncFailed, events[0].Description)
	assert.Equal(t, KindFetch, events[0].Data["kind"])

	// a broken notifier is only logged
	n.err = errors.New("telegram down")
	assert.NotPanics(t, func() { s.HandleFailure(ctx, "alice", errors.New("boom")) })
}
