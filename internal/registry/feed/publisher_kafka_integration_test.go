//go:build integration

package feed_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"mpi/internal/registry"
	"mpi/internal/registry/batch"
	"mpi/internal/registry/feed"
	"mpi/internal/registry/store"
	"mpi/pkg/domain"
	"mpi/pkg/testutil/containers"
)

func TestPublisherAgainstRedpanda(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	broker := containers.NewRedpandaContainer(t)
	ctx := context.Background()

	client, err := kgo.NewClient(kgo.SeedBrokers(broker.Brokers...))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	const topic = "mpi.patient-updates.test"
	require.NoError(t, feed.EnsureTopic(ctx, client, topic, 1))
	// Idempotent on re-run.
	require.NoError(t, feed.EnsureTopic(ctx, client, topic, 1))

	st := store.NewMemoryStore()
	gen := domain.NewGenerator()
	var want []registry.ChangeLogEntry
	for _, hid := range []domain.HealthID{"h1", "h2", "h1"} {
		entry := registry.ChangeLogEntry{
			EventID:  gen.Next(),
			HealthID: hid,
			Changeset: registry.Changeset{
				registry.FieldGender: {Old: "M", New: "F"},
			},
			RequestedBy: map[string]registry.RequesterSet{
				registry.FieldGender: {registry.Requester{FacilityID: "f1"}},
			},
		}
		want = append(want, entry)
		u := batch.New(entry.EventID.Time())
		u.AppendUpdateLog(entry)
		require.NoError(t, u.Commit(ctx, st))
	}

	pub := feed.NewPublisher(feed.New(st, nil), feed.NewStoreCheckpoints(st),
		feed.NewKafkaProducer(client), topic, nil)
	require.NoError(t, pub.Drain(ctx))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	var got []registry.ChangeLogEntry
	deadline := time.Now().Add(30 * time.Second)
	for len(got) < len(want) && time.Now().Before(deadline) {
		fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		fetches := consumer.PollFetches(fetchCtx)
		cancel()
		fetches.EachRecord(func(rec *kgo.Record) {
			var entry registry.ChangeLogEntry
			require.NoError(t, json.Unmarshal(rec.Value, &entry))
			got = append(got, entry)
		})
	}

	require.Len(t, got, len(want))
	for i, entry := range want {
		require.Equal(t, entry.EventID, got[i].EventID)
		require.Equal(t, entry.HealthID, got[i].HealthID)
	}
}
