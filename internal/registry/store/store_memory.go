package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mpi/internal/registry"
	"mpi/internal/registry/batch"
	"mpi/pkg/domain"
	"mpi/pkg/platform/sentinel"
)

// MemoryStore is the reference Store implementation. It honors the same write
// discipline the production store does: every row carries the writer-supplied
// timestamp, a later write wins, and a tombstone beats only writes at or before
// its own timestamp.
type MemoryStore struct {
	mu        sync.RWMutex
	patients  map[domain.HealthID]versionedPatient
	catchment map[string]versionedMapping[registry.CatchmentMapping]
	pending   map[string]versionedMapping[registry.PendingApprovalMapping]
	updateLog map[int][]registry.ChangeLogEntry
	auditLog  map[domain.HealthID][]registry.ChangeLogEntry
	markers   map[string]versionedMarker
}

type versionedPatient struct {
	record *registry.PatientRecord
	at     int64
}

type versionedMapping[T any] struct {
	row  T
	at   int64
	dead bool
}

type versionedMarker struct {
	marker registry.Marker
	at     int64
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients:  make(map[domain.HealthID]versionedPatient),
		catchment: make(map[string]versionedMapping[registry.CatchmentMapping]),
		pending:   make(map[string]versionedMapping[registry.PendingApprovalMapping]),
		updateLog: make(map[int][]registry.ChangeLogEntry),
		auditLog:  make(map[domain.HealthID][]registry.ChangeLogEntry),
		markers:   make(map[string]versionedMarker),
	}
}

func catchmentKey(catchmentID string, id domain.EventID, hid domain.HealthID) string {
	return fmt.Sprintf("%s|%s|%s", catchmentID, id, hid)
}

// ExecuteBatch applies every op under one lock acquisition: concurrent readers
// observe the batch all-or-nothing.
func (s *MemoryStore) ExecuteBatch(_ context.Context, ops []batch.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		switch o := op.(type) {
		case batch.UpsertPatient:
			existing, ok := s.patients[o.Record.HealthID]
			if !ok || o.WriteTime() >= existing.at {
				s.patients[o.Record.HealthID] = versionedPatient{record: o.Record.Clone(), at: o.WriteTime()}
			}
		case batch.PutCatchmentMapping:
			key := catchmentKey(o.Row.CatchmentID, o.Row.UpdatedAt, o.Row.HealthID)
			if existing, ok := s.catchment[key]; !ok || o.WriteTime() >= existing.at {
				s.catchment[key] = versionedMapping[registry.CatchmentMapping]{row: o.Row, at: o.WriteTime()}
			}
		case batch.TombstoneCatchmentMapping:
			key := catchmentKey(o.Row.CatchmentID, o.Row.UpdatedAt, o.Row.HealthID)
			if existing, ok := s.catchment[key]; !ok || o.WriteTime() >= existing.at {
				s.catchment[key] = versionedMapping[registry.CatchmentMapping]{row: o.Row, at: o.WriteTime(), dead: true}
			}
		case batch.PutPendingMapping:
			key := catchmentKey(o.Row.CatchmentID, o.Row.LatestPendingAt, o.Row.HealthID)
			if existing, ok := s.pending[key]; !ok || o.WriteTime() >= existing.at {
				s.pending[key] = versionedMapping[registry.PendingApprovalMapping]{row: o.Row, at: o.WriteTime()}
			}
		case batch.TombstonePendingMapping:
			key := catchmentKey(o.Row.CatchmentID, o.Row.LatestPendingAt, o.Row.HealthID)
			if existing, ok := s.pending[key]; !ok || o.WriteTime() >= existing.at {
				s.pending[key] = versionedMapping[registry.PendingApprovalMapping]{row: o.Row, at: o.WriteTime(), dead: true}
			}
		case batch.AppendAuditLog:
			s.auditLog[o.Entry.HealthID] = insertLogEntry(s.auditLog[o.Entry.HealthID], o.Entry)
		case batch.AppendUpdateLog:
			year := o.Entry.Year()
			s.updateLog[year] = insertLogEntry(s.updateLog[year], o.Entry)
		case batch.PutMarker:
			if existing, ok := s.markers[o.Marker.Type]; !ok || o.WriteTime() >= existing.at {
				s.markers[o.Marker.Type] = versionedMarker{marker: o.Marker, at: o.WriteTime()}
			}
		default:
			return fmt.Errorf("memory store: unsupported op %T", op)
		}
	}
	return nil
}

// insertLogEntry keeps log slices ordered by event id; duplicate appends are
// idempotent.
func insertLogEntry(entries []registry.ChangeLogEntry, entry registry.ChangeLogEntry) []registry.ChangeLogEntry {
	i := sort.Search(len(entries), func(i int) bool {
		return !entries[i].EventID.Before(entry.EventID)
	})
	if i < len(entries) && entries[i].EventID == entry.EventID {
		return entries
	}
	entries = append(entries, registry.ChangeLogEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = entry
	return entries
}

func (s *MemoryStore) GetPatient(_ context.Context, hid domain.HealthID) (*registry.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.patients[hid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return v.record.Clone(), nil
}

func (s *MemoryStore) CatchmentMappings(_ context.Context, catchmentID string, after domain.EventID, limit int) ([]registry.CatchmentMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []registry.CatchmentMapping
	for _, v := range s.catchment {
		if v.dead || v.row.CatchmentID != catchmentID || !v.row.UpdatedAt.After(after) {
			continue
		}
		rows = append(rows, v.row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UpdatedAt.Before(rows[j].UpdatedAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *MemoryStore) PendingMappings(_ context.Context, catchmentID string, after domain.EventID, limit int) ([]registry.PendingApprovalMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []registry.PendingApprovalMapping
	for _, v := range s.pending {
		if v.dead || v.row.CatchmentID != catchmentID || !v.row.LatestPendingAt.After(after) {
			continue
		}
		rows = append(rows, v.row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].LatestPendingAt.Before(rows[j].LatestPendingAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *MemoryStore) UpdateLog(_ context.Context, year int, after domain.EventID, limit int) ([]registry.ChangeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []registry.ChangeLogEntry
	for _, entry := range s.updateLog[year] {
		if !entry.EventID.After(after) {
			continue
		}
		rows = append(rows, entry)
		if limit > 0 && len(rows) == limit {
			break
		}
	}
	return rows, nil
}

func (s *MemoryStore) AuditLog(_ context.Context, hid domain.HealthID) ([]registry.ChangeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]registry.ChangeLogEntry(nil), s.auditLog[hid]...), nil
}

func (s *MemoryStore) Marker(_ context.Context, markerType string) (registry.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.markers[markerType]
	if !ok {
		return registry.Marker{}, sentinel.ErrNotFound
	}
	return v.marker, nil
}
