// Package feed exposes the monotonic patient-update feed: resumable scans over
// the year-partitioned update log, durable checkpoints, and the Kafka
// publisher that drains the log outbox-style.
package feed

import (
	"context"
	"log/slog"
	"time"

	"mpi/internal/registry"
	"mpi/internal/registry/store"
	"mpi/pkg/domain"
	dErrors "mpi/pkg/domain-errors"
)

// Feed reads the update log in event-id order across year partitions.
type Feed struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

// New builds a Feed. log may be nil.
func New(st store.Store, log *slog.Logger) *Feed {
	if log == nil {
		log = slog.Default()
	}
	return &Feed{store: st, log: log, now: time.Now}
}

// Since returns update-log entries from the given date onwards, ascending and
// capped at limit. When lastMarker (an event id previously returned to the
// caller) is present it wins over the date: the scan resumes strictly after
// it, so a consumer never re-reads or skips entries even when many share one
// wall-clock instant.
func (f *Feed) Since(ctx context.Context, since time.Time, limit int, lastMarker string) ([]registry.ChangeLogEntry, error) {
	since = since.UTC()
	after := domain.MinEventIDAt(since).Prev()
	fromYear := since.Year()
	if lastMarker != "" {
		id, err := domain.ParseEventID(lastMarker)
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInvalidRequest, "malformed feed marker", err)
		}
		after = id
		fromYear = id.Time().Year()
	}
	return f.After(ctx, after, fromYear, limit)
}

// SinceMarker is the marker-only read contract. With no marker the scan covers
// the current year partition only, so a brand-new consumer does not replay all
// history by accident.
func (f *Feed) SinceMarker(ctx context.Context, lastMarker string, limit int) ([]registry.ChangeLogEntry, error) {
	if lastMarker == "" {
		return f.After(ctx, domain.EventID{}, f.now().UTC().Year(), limit)
	}
	id, err := domain.ParseEventID(lastMarker)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInvalidRequest, "malformed feed marker", err)
	}
	return f.After(ctx, id, id.Time().Year(), limit)
}

// After scans the log for entries with event id strictly greater than after,
// walking year partitions from fromYear up to the current year. limit <= 0
// means no cap.
func (f *Feed) After(ctx context.Context, after domain.EventID, fromYear, limit int) ([]registry.ChangeLogEntry, error) {
	var out []registry.ChangeLogEntry
	for year := fromYear; year <= f.now().UTC().Year(); year++ {
		remaining := 0
		if limit > 0 {
			remaining = limit - len(out)
		}
		rows, err := f.store.UpdateLog(ctx, year, after, remaining)
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodeStorage, "scanning update log", err)
		}
		out = append(out, rows...)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// NextMarker is the resumption marker a consumer should present after reading
// entries; empty when nothing was read.
func NextMarker(entries []registry.ChangeLogEntry) string {
	if len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].EventID.String()
}
