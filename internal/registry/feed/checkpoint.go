package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mpi/internal/registry"
	"mpi/internal/registry/batch"
	"mpi/internal/registry/store"
	"mpi/pkg/domain"
	"mpi/pkg/platform/sentinel"
)

// MarkerTypeKafka names the publisher's checkpoint row.
const MarkerTypeKafka = "kafka_publisher"

// Checkpoints persists feed resumption markers by type.
type Checkpoints interface {
	// Load returns the checkpoint, or ok=false when none was ever saved.
	Load(ctx context.Context, markerType string) (domain.EventID, bool, error)
	Save(ctx context.Context, markerType string, id domain.EventID) error
}

// StoreCheckpoints keeps markers in the registry store, committed through the
// same atomic batch path as every other write.
type StoreCheckpoints struct {
	store store.Store
}

func NewStoreCheckpoints(st store.Store) *StoreCheckpoints {
	return &StoreCheckpoints{store: st}
}

func (c *StoreCheckpoints) Load(ctx context.Context, markerType string) (domain.EventID, bool, error) {
	m, err := c.store.Marker(ctx, markerType)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.EventID{}, false, nil
	}
	if err != nil {
		return domain.EventID{}, false, fmt.Errorf("loading %s marker: %w", markerType, err)
	}
	id, err := domain.ParseEventID(m.Value)
	if err != nil {
		return domain.EventID{}, false, fmt.Errorf("decoding %s marker: %w", markerType, err)
	}
	return id, true, nil
}

func (c *StoreCheckpoints) Save(ctx context.Context, markerType string, id domain.EventID) error {
	u := batch.New(time.Now())
	u.PutMarker(registry.Marker{Type: markerType, CreatedAt: id, Value: id.String()})
	if err := u.Commit(ctx, c.store); err != nil {
		return fmt.Errorf("saving %s marker: %w", markerType, err)
	}
	return nil
}

const markerKeyPrefix = "feed:marker:"

// RedisCheckpoints keeps markers in Redis. Used as a fast cache in front of
// the durable store checkpoint so a restarted publisher resumes without a
// store round trip.
type RedisCheckpoints struct {
	client *redis.Client
}

func NewRedisCheckpoints(client *redis.Client) *RedisCheckpoints {
	return &RedisCheckpoints{client: client}
}

func (c *RedisCheckpoints) Load(ctx context.Context, markerType string) (domain.EventID, bool, error) {
	val, err := c.client.Get(ctx, markerKeyPrefix+markerType).Result()
	if errors.Is(err, redis.Nil) {
		return domain.EventID{}, false, nil
	}
	if err != nil {
		return domain.EventID{}, false, fmt.Errorf("loading %s marker from redis: %w", markerType, err)
	}
	id, err := domain.ParseEventID(val)
	if err != nil {
		return domain.EventID{}, false, fmt.Errorf("decoding %s marker from redis: %w", markerType, err)
	}
	return id, true, nil
}

func (c *RedisCheckpoints) Save(ctx context.Context, markerType string, id domain.EventID) error {
	return c.client.Set(ctx, markerKeyPrefix+markerType, id.String(), 0).Err()
}

// CachedCheckpoints layers a fast cache over the durable checkpoint store.
// Saves are write-through; a cache save failure is tolerated because the
// durable save already succeeded.
type CachedCheckpoints struct {
	primary Checkpoints
	cache   Checkpoints
}

func NewCachedCheckpoints(primary, cache Checkpoints) *CachedCheckpoints {
	return &CachedCheckpoints{primary: primary, cache: cache}
}

func (c *CachedCheckpoints) Load(ctx context.Context, markerType string) (domain.EventID, bool, error) {
	if id, ok, err := c.cache.Load(ctx, markerType); err == nil && ok {
		return id, true, nil
	}
	return c.primary.Load(ctx, markerType)
}

func (c *CachedCheckpoints) Save(ctx context.Context, markerType string, id domain.EventID) error {
	if err := c.primary.Save(ctx, markerType, id); err != nil {
		return err
	}
	_ = c.cache.Save(ctx, markerType, id)
	return nil
}
