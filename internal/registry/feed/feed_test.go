package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpi/internal/registry"
	"mpi/internal/registry/batch"
	"mpi/internal/registry/store"
	"mpi/pkg/domain"
	dErrors "mpi/pkg/domain-errors"
)

func logEntry(at time.Time, entropy uint64, hid domain.HealthID) registry.ChangeLogEntry {
	id := domain.MinEventIDAt(at)
	id.Entropy = entropy
	return registry.ChangeLogEntry{
		EventID:   id,
		HealthID:  hid,
		Changeset: registry.Changeset{registry.FieldGender: {Old: "M", New: "F"}},
		RequestedBy: map[string]registry.RequesterSet{
			registry.FieldGender: {registry.Requester{FacilityID: "f1"}},
		},
	}
}

func appendEntries(t *testing.T, st *store.MemoryStore, entries ...registry.ChangeLogEntry) {
	t.Helper()
	for _, e := range entries {
		u := batch.New(e.EventID.Time())
		u.AppendUpdateLog(e)
		require.NoError(t, u.Commit(context.Background(), st))
	}
}

func newTestFeed(st *store.MemoryStore, now time.Time) *Feed {
	f := New(st, nil)
	f.now = func() time.Time { return now }
	return f
}

func TestFeedSinceSpansYears(t *testing.T) {
	st := store.NewMemoryStore()
	dec := logEntry(time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC), 1, "h1")
	jan := logEntry(time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC), 1, "h2")
	feb := logEntry(time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), 1, "h3")
	appendEntries(t, st, dec, jan, feb)

	f := newTestFeed(st, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	entries, err := f.Since(context.Background(), time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), 0, "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.HealthID("h1"), entries[0].HealthID)
	assert.Equal(t, domain.HealthID("h3"), entries[2].HealthID)
}

func TestFeedSinceIsInclusiveOfTheBoundInstant(t *testing.T) {
	st := store.NewMemoryStore()
	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	appendEntries(t, st, logEntry(at, 1, "h1"))

	f := newTestFeed(st, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	entries, err := f.Since(context.Background(), at, 0, "")
	require.NoError(t, err)
	require.Len(t, entries, 1, "an entry stamped exactly at the bound is returned")
}

func TestFeedMarkerWinsOverDate(t *testing.T) {
	st := store.NewMemoryStore()
	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	// Three entries in the same millisecond.
	e1 := logEntry(at, 1, "h1")
	e2 := logEntry(at, 2, "h2")
	e3 := logEntry(at, 3, "h3")
	appendEntries(t, st, e1, e2, e3)

	f := newTestFeed(st, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	first, err := f.Since(ctx, at, 2, "")
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Resuming by date alone would re-read the whole millisecond; the marker
	// resumes exactly after the last delivered entry.
	rest, err := f.Since(ctx, at, 2, NextMarker(first))
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, domain.HealthID("h3"), rest[0].HealthID)

	assert.Empty(t, NextMarker(nil))
}

func TestFeedSinceMarkerWithoutMarkerScansCurrentYearOnly(t *testing.T) {
	st := store.NewMemoryStore()
	old := logEntry(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 1, "h1")
	cur := logEntry(time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), 1, "h2")
	appendEntries(t, st, old, cur)

	f := newTestFeed(st, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	entries, err := f.SinceMarker(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.HealthID("h2"), entries[0].HealthID)

	// With a marker the scan resumes across years from the marker's year.
	entries, err = f.SinceMarker(context.Background(), old.EventID.String(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.HealthID("h2"), entries[0].HealthID)
}

func TestFeedRejectsMalformedMarker(t *testing.T) {
	f := newTestFeed(store.NewMemoryStore(), time.Now())

	_, err := f.Since(context.Background(), time.Now(), 10, "not-a-marker")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRequest))
}

func TestStoreCheckpointsRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	cp := NewStoreCheckpoints(st)
	ctx := context.Background()

	_, ok, err := cp.Load(ctx, MarkerTypeKafka)
	require.NoError(t, err)
	assert.False(t, ok)

	id := domain.EventID{TS: 1700000000000, Entropy: 42}
	require.NoError(t, cp.Save(ctx, MarkerTypeKafka, id))

	got, ok, err := cp.Load(ctx, MarkerTypeKafka)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, got)
}
