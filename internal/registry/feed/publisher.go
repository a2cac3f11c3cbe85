package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"mpi/internal/registry"
	"mpi/internal/registry/metrics"
	"mpi/pkg/domain"
	"mpi/pkg/platform/circuit"
)

// Producer is the narrow Kafka surface the publisher needs. Records must be
// acknowledged before the call returns so the checkpoint never runs ahead of
// the broker.
type Producer interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) error
}

type kafkaProducer struct {
	client *kgo.Client
}

// NewKafkaProducer wraps a franz-go client as a Producer.
func NewKafkaProducer(client *kgo.Client) Producer {
	return kafkaProducer{client: client}
}

func (p kafkaProducer) ProduceSync(ctx context.Context, records ...*kgo.Record) error {
	return p.client.ProduceSync(ctx, records...).FirstErr()
}

// EnsureTopic creates the feed topic when absent.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32) error {
	resps, err := kadm.NewClient(client).CreateTopics(ctx, partitions, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("creating topic %s: %w", topic, err)
	}
	for _, resp := range resps.Sorted() {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("creating topic %s: %w", topic, resp.Err)
		}
	}
	return nil
}

// Publisher drains the update log to Kafka, outbox style. Entries are already
// durable in the log when the publisher sees them; the checkpoint advances
// only after the broker acknowledges a batch, so delivery is at-least-once
// and in event-id order.
type Publisher struct {
	feed        *Feed
	checkpoints Checkpoints
	producer    Producer
	topic       string
	interval    time.Duration
	batchSize   int
	breaker     *circuit.Breaker
	metrics     *metrics.Metrics
	log         *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithInterval sets the poll interval between drains.
func WithInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.interval = d }
}

// WithBatchSize caps the entries read per produce batch.
func WithBatchSize(n int) PublisherOption {
	return func(p *Publisher) { p.batchSize = n }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher builds a Publisher. log may be nil.
func NewPublisher(f *Feed, checkpoints Checkpoints, producer Producer, topic string, log *slog.Logger, opts ...PublisherOption) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		feed:        f,
		checkpoints: checkpoints,
		producer:    producer,
		topic:       topic,
		interval:    time.Second,
		batchSize:   500,
		breaker:     circuit.New("feed-publisher"),
		log:         log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until the context is cancelled. Drain failures are logged and
// retried on the next tick; the publisher never crashes the process over a
// transient broker or store error.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.metrics.IncPublishError()
			p.log.ErrorContext(ctx, "feed drain failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain publishes every unpublished entry, batch by batch, advancing the
// checkpoint after each acknowledged batch.
func (p *Publisher) Drain(ctx context.Context) error {
	after, ok, err := p.checkpoints.Load(ctx, MarkerTypeKafka)
	if err != nil {
		return err
	}
	for {
		entries, err := p.scanBatch(ctx, after, ok)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		if err := p.publish(ctx, entries); err != nil {
			return err
		}
		after, ok = entries[len(entries)-1].EventID, true
		if err := p.checkpoints.Save(ctx, MarkerTypeKafka, after); err != nil {
			return err
		}
		p.metrics.AddPublished(len(entries))
		if len(entries) < p.batchSize {
			return nil
		}
		// While the breaker is recovering, publish one probe batch per tick
		// instead of hammering a sick broker until the backlog drains.
		if p.breaker.IsOpen() {
			return nil
		}
	}
}

// scanBatch reads the next batch after the checkpoint. With no checkpoint yet
// the publisher starts at the current year partition rather than replaying
// all history.
func (p *Publisher) scanBatch(ctx context.Context, after domain.EventID, haveCheckpoint bool) ([]registry.ChangeLogEntry, error) {
	fromYear := p.feed.now().UTC().Year()
	if haveCheckpoint {
		fromYear = after.Time().Year()
	}
	return p.feed.After(ctx, after, fromYear, p.batchSize)
}

func (p *Publisher) publish(ctx context.Context, entries []registry.ChangeLogEntry) error {
	records := make([]*kgo.Record, 0, len(entries))
	for _, entry := range entries {
		payload, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encoding feed entry %s: %w", entry.EventID, err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			// Keyed by health id so one patient's changes stay ordered per
			// partition.
			Key:   []byte(entry.HealthID),
			Value: payload,
		})
	}
	if err := p.producer.ProduceSync(ctx, records...); err != nil {
		if _, change := p.breaker.RecordFailure(); change.Opened {
			p.log.WarnContext(ctx, "feed publisher circuit opened", "breaker", p.breaker.Name())
		}
		return fmt.Errorf("producing feed batch: %w", err)
	}
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.log.InfoContext(ctx, "feed publisher circuit closed", "breaker", p.breaker.Name())
	}
	return nil
}
