// Package batch is the explicit unit-of-work for registry writes. A
// coordinator operation accumulates typed ops, each carrying the write
// timestamp the store must apply it at, and commits them as one atomic batch.
// Pair discipline: a tombstone and its replacing insert are stamped T and T+1
// so a concurrent reader sees either the old or the new index state, never a
// gap.
package batch

import (
	"context"
	"time"

	"mpi/internal/registry"
)

// Op is one typed write inside an atomic batch.
type Op interface {
	// WriteTime is the explicit store timestamp (microseconds) for this op.
	WriteTime() int64
	op()
}

type stamped struct{ At int64 }

func (s stamped) WriteTime() int64 { return s.At }
func (stamped) op()                {}

// UpsertPatient overwrites the authoritative patient row.
type UpsertPatient struct {
	stamped
	Record *registry.PatientRecord
}

// PutCatchmentMapping inserts one catchment index row.
type PutCatchmentMapping struct {
	stamped
	Row registry.CatchmentMapping
}

// TombstoneCatchmentMapping removes one catchment index row.
type TombstoneCatchmentMapping struct {
	stamped
	Row registry.CatchmentMapping
}

// PutPendingMapping inserts one needs-review index row.
type PutPendingMapping struct {
	stamped
	Row registry.PendingApprovalMapping
}

// TombstonePendingMapping removes one needs-review index row.
type TombstonePendingMapping struct {
	stamped
	Row registry.PendingApprovalMapping
}

// AppendAuditLog appends to the per-patient audit trail.
type AppendAuditLog struct {
	stamped
	Entry registry.ChangeLogEntry
}

// AppendUpdateLog appends to the year-partitioned feed log.
type AppendUpdateLog struct {
	stamped
	Entry registry.ChangeLogEntry
}

// PutMarker overwrites a feed checkpoint row.
type PutMarker struct {
	stamped
	Marker registry.Marker
}

// Executor runs a batch atomically: either every op is applied or none is.
type Executor interface {
	ExecuteBatch(ctx context.Context, ops []Op) error
}

// UnitOfWork builds one atomic batch. All ops share the base write timestamp;
// refresh helpers stamp the replacing inserts one tick later.
type UnitOfWork struct {
	at  int64
	ops []Op
}

// New starts a unit of work with the given base write time.
func New(at time.Time) *UnitOfWork {
	return &UnitOfWork{at: at.UnixMicro()}
}

// Empty reports whether no ops were accumulated.
func (u *UnitOfWork) Empty() bool { return len(u.ops) == 0 }

// Ops returns the accumulated ops in append order.
func (u *UnitOfWork) Ops() []Op { return u.ops }

// UpsertPatient schedules the authoritative row overwrite.
func (u *UnitOfWork) UpsertPatient(rec *registry.PatientRecord) {
	u.ops = append(u.ops, UpsertPatient{stamped: stamped{At: u.at}, Record: rec})
}

// PutCatchmentMappings schedules index inserts at the base timestamp. Used on
// create, where there is nothing to tombstone.
func (u *UnitOfWork) PutCatchmentMappings(rows []registry.CatchmentMapping) {
	for _, row := range rows {
		u.ops = append(u.ops, PutCatchmentMapping{stamped: stamped{At: u.at}, Row: row})
	}
}

// RefreshCatchmentMappings tombstones the old rows at T and inserts the new
// rows at T+1.
func (u *UnitOfWork) RefreshCatchmentMappings(old, updated []registry.CatchmentMapping) {
	for _, row := range old {
		u.ops = append(u.ops, TombstoneCatchmentMapping{stamped: stamped{At: u.at}, Row: row})
	}
	for _, row := range updated {
		u.ops = append(u.ops, PutCatchmentMapping{stamped: stamped{At: u.at + 1}, Row: row})
	}
}

// RefreshPendingMappings tombstones the old rows at T and inserts the new rows
// at T+1. Pass an empty replacement set to tombstone entirely.
func (u *UnitOfWork) RefreshPendingMappings(old, updated []registry.PendingApprovalMapping) {
	for _, row := range old {
		u.ops = append(u.ops, TombstonePendingMapping{stamped: stamped{At: u.at}, Row: row})
	}
	for _, row := range updated {
		u.ops = append(u.ops, PutPendingMapping{stamped: stamped{At: u.at + 1}, Row: row})
	}
}

// AppendAuditLog schedules an audit-trail append.
func (u *UnitOfWork) AppendAuditLog(entry registry.ChangeLogEntry) {
	u.ops = append(u.ops, AppendAuditLog{stamped: stamped{At: u.at}, Entry: entry})
}

// AppendUpdateLog schedules a feed-log append.
func (u *UnitOfWork) AppendUpdateLog(entry registry.ChangeLogEntry) {
	u.ops = append(u.ops, AppendUpdateLog{stamped: stamped{At: u.at}, Entry: entry})
}

// PutMarker schedules a checkpoint overwrite.
func (u *UnitOfWork) PutMarker(m registry.Marker) {
	u.ops = append(u.ops, PutMarker{stamped: stamped{At: u.at}, Marker: m})
}

// Commit hands the batch to the executor. An empty unit of work commits
// nothing. Executor failures are returned as-is: the batch is atomic at the
// store, so no compensation is attempted here.
func (u *UnitOfWork) Commit(ctx context.Context, exec Executor) error {
	if u.Empty() {
		return nil
	}
	return exec.ExecuteBatch(ctx, u.ops)
}
