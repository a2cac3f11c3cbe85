// Package store defines the persistence contract the write coordinator and
// feed depend on, plus its in-memory and PostgreSQL implementations.
//
// The contract mirrors what the original platform guarantees: atomic execution
// of a multi-table write batch, per-row last-write-wins resolution by explicit
// write timestamp, and tombstones that beat only older writes. Stores return
// pkg/platform/sentinel errors; services translate them into domain errors.
package store

import (
	"context"

	"mpi/internal/registry"
	"mpi/internal/registry/batch"
	"mpi/pkg/domain"
)

// Store is the full persistence surface for the registry.
type Store interface {
	batch.Executor

	// GetPatient loads the authoritative record. sentinel.ErrNotFound when the
	// health id is unknown.
	GetPatient(ctx context.Context, hid domain.HealthID) (*registry.PatientRecord, error)

	// CatchmentMappings scans the catchment index for rows with updated-at id
	// strictly greater than after, ascending, capped at limit (<=0 means no cap).
	CatchmentMappings(ctx context.Context, catchmentID string, after domain.EventID, limit int) ([]registry.CatchmentMapping, error)

	// PendingMappings scans the needs-review index the same way, ordered by the
	// latest-pending id ascending.
	PendingMappings(ctx context.Context, catchmentID string, after domain.EventID, limit int) ([]registry.PendingApprovalMapping, error)

	// UpdateLog scans one calendar-year partition of the feed log for entries
	// with event id strictly greater than after, ascending, capped at limit.
	UpdateLog(ctx context.Context, year int, after domain.EventID, limit int) ([]registry.ChangeLogEntry, error)

	// AuditLog returns the full audit trail for one patient, ascending.
	AuditLog(ctx context.Context, hid domain.HealthID) ([]registry.ChangeLogEntry, error)

	// Marker reads a feed checkpoint. sentinel.ErrNotFound when absent.
	Marker(ctx context.Context, markerType string) (registry.Marker, error)
}
