// Package service implements the registry write coordinator. Every public
// operation runs the same pipeline: load, diff, route each changed field
// through policy, then emit one atomic batch covering the authoritative row,
// the catchment and needs-review indices, and both change logs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mpi/internal/registry"
	"mpi/internal/registry/batch"
	"mpi/internal/registry/metrics"
	"mpi/internal/registry/policy"
	"mpi/internal/registry/store"
	"mpi/pkg/domain"
	dErrors "mpi/pkg/domain-errors"
	"mpi/pkg/platform/sentinel"
)

// Service is the write coordinator for the master patient index.
type Service struct {
	store   store.Store
	policy  policy.Policy
	ids     *domain.Generator
	metrics *metrics.Metrics
	log     *slog.Logger
	tracer  trace.Tracer
}

// New wires a Service. metrics may be nil (tests); log may be nil.
func New(st store.Store, pol policy.Policy, ids *domain.Generator, m *metrics.Metrics, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   st,
		policy:  pol,
		ids:     ids,
		metrics: m,
		log:     log,
		tracer:  otel.Tracer("mpi/registry/service"),
	}
}

// Create registers a new patient. The record must already carry a health id;
// allocating one is the transport's job. The whole record is attributed to the
// requester under the ALL_FIELDS bucket, and catchment index rows are fanned
// out when the present address carries a complete catchment.
func (s *Service) Create(ctx context.Context, rec *registry.PatientRecord, requester registry.Requester) (*registry.PatientRecord, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Create")
	defer span.End()

	if requester.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "requester identity is required")
	}
	out := rec.Clone()
	if out.HealthID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "health id is required")
	}
	span.SetAttributes(attribute.String("hid", out.HealthID.String()))

	if _, err := s.store.GetPatient(ctx, out.HealthID); err == nil {
		return nil, dErrors.New(dErrors.CodeConflict, "patient "+out.HealthID.String()+" already exists")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(dErrors.CodeStorage, "checking for existing patient", err)
	}

	id := s.ids.Next()
	out.Active = true
	out.MergedWith = nil
	out.PendingApprovals = nil
	out.CreatedAt, out.UpdatedAt = id, id
	out.CreatedBy, out.UpdatedBy = requester, requester
	if out.Status == "" {
		out.Status = registry.StatusAlive
	}
	if out.Confidential == "" {
		out.Confidential = registry.ConfidentialNo
	}
	if out.HIDCardStatus == "" {
		out.HIDCardStatus = registry.CardStatusRegistered
	}

	entry := registry.ChangeLogEntry{
		EventID:     id,
		HealthID:    out.HealthID,
		Changeset:   registry.Diff(&registry.PatientRecord{}, out),
		RequestedBy: map[string]registry.RequesterSet{registry.AllFieldsBucket: {requester}},
	}

	u := batch.New(id.Time())
	if c, ok := out.Catchment(); ok {
		out.CatchmentUpdatedAt = id
		u.PutCatchmentMappings(registry.CatchmentMappingsFor(c, id, out.HealthID))
	}
	u.UpsertPatient(out)
	u.AppendAuditLog(entry)
	u.AppendUpdateLog(entry)
	if err := s.commit(ctx, u); err != nil {
		return nil, err
	}

	s.metrics.IncCreated()
	s.log.InfoContext(ctx, "patient created", "hid", out.HealthID, "event_id", id)
	return out, nil
}

// Update applies a sparse edit through the approval policy. Fields the policy
// admits take effect immediately; governed fields are parked as pending
// approvals. Returns the resulting record.
func (s *Service) Update(ctx context.Context, healthID domain.HealthID, req registry.UpdateRequest, requester registry.Requester) (*registry.PatientRecord, error) {
	return s.update(ctx, healthID, req, requester, true)
}

// Apply is the trusted direct path: every changed field takes effect
// immediately, bypassing the approval policy. Used by back-office correction
// flows and the merge pipeline.
func (s *Service) Apply(ctx context.Context, healthID domain.HealthID, req registry.UpdateRequest, requester registry.Requester) (*registry.PatientRecord, error) {
	return s.update(ctx, healthID, req, requester, false)
}

func (s *Service) update(ctx context.Context, healthID domain.HealthID, req registry.UpdateRequest, requester registry.Requester, gated bool) (*registry.PatientRecord, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Update",
		trace.WithAttributes(attribute.String("hid", healthID.String()), attribute.Bool("policy_gated", gated)))
	defer span.End()

	if requester.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "requester identity is required")
	}
	existing, err := s.loadPatient(ctx, healthID)
	if err != nil {
		return nil, err
	}
	if !existing.Active {
		if existing.MergedWith != nil {
			return nil, dErrors.New(dErrors.CodeForbidden,
				fmt.Sprintf("patient %s is merged into %s", healthID, *existing.MergedWith))
		}
		return nil, dErrors.New(dErrors.CodeForbidden, "patient "+healthID.String()+" is inactive")
	}
	if err := s.validateMerge(ctx, healthID, req); err != nil {
		return nil, err
	}

	merged := registry.MergeUpdate(existing, req)
	cs := registry.Diff(existing, merged)
	if cs.IsEmpty() {
		return existing, nil
	}

	id := s.ids.Next()
	out := existing.Clone()
	deactivation := req.Active != nil && !*req.Active

	applied := registry.Changeset{}
	requestedBy := map[string]registry.RequesterSet{}
	queued := 0
	for _, field := range cs.Fields() {
		change := cs[field]
		def, _ := registry.FieldByName(field)
		direct := !gated || field == registry.FieldActive || field == registry.FieldMergedWith
		if !direct && s.policy.Decide(field, change.Old, change.New, requester) == policy.QueueForReview {
			out.PendingApprovals.AddProposal(field, s.ids.Next(), change.New, change.Old, requester)
			queued++
			continue
		}
		if err := def.Apply(out, change.New); err != nil {
			return nil, err
		}
		applied[field] = change
		requestedBy[field] = registry.RequesterSet{requester}
	}
	if deactivation {
		// A record leaving the active set abandons its open proposals.
		out.PendingApprovals.ClearAll()
	}
	if !applied.IsEmpty() {
		out.UpdatedAt = id
		out.UpdatedBy = requester
	}

	u := batch.New(id.Time())
	s.refreshCatchment(u, existing, out, applied, id)
	s.refreshPending(u, existing, out, deactivation)
	u.UpsertPatient(out)
	if !applied.IsEmpty() {
		entry := registry.ChangeLogEntry{
			EventID:     id,
			HealthID:    healthID,
			Changeset:   applied,
			RequestedBy: requestedBy,
		}
		u.AppendAuditLog(entry)
		u.AppendUpdateLog(entry)
	}
	if err := s.commit(ctx, u); err != nil {
		return nil, err
	}

	if !applied.IsEmpty() {
		s.metrics.IncUpdated()
	}
	s.metrics.AddQueued(queued)
	s.log.InfoContext(ctx, "patient updated",
		"hid", healthID, "event_id", id, "applied", len(applied), "queued", queued)
	return out, nil
}

// ProcessPendingApprovals resolves pending proposals on a record. fields maps
// field names to the value being accepted or rejected. Acceptance adopts the
// matching proposal and discards the whole field's queue; rejection removes
// only the proposals carrying the given value. Fields with no matching open
// proposal are skipped; resolving nothing at all is an error.
func (s *Service) ProcessPendingApprovals(ctx context.Context, healthID domain.HealthID, fields map[string]any, approver registry.Requester, accept bool) (*registry.PatientRecord, error) {
	ctx, span := s.tracer.Start(ctx, "registry.ProcessPendingApprovals",
		trace.WithAttributes(attribute.String("hid", healthID.String()), attribute.Bool("accept", accept)))
	defer span.End()

	if approver.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "approver identity is required")
	}
	existing, err := s.loadPatient(ctx, healthID)
	if err != nil {
		return nil, err
	}
	if !existing.Active {
		return nil, dErrors.New(dErrors.CodeForbidden, "patient "+healthID.String()+" is inactive")
	}

	out := existing.Clone()
	resolved := registry.Changeset{}
	requestedBy := map[string]registry.RequesterSet{}
	acceptedN, rejectedN := 0, 0
	for _, def := range registry.Fields() {
		value, ok := fields[def.Name]
		if !ok {
			continue
		}
		match, ok := out.PendingApprovals.MatchProposal(def.Name, value)
		if !ok {
			continue
		}
		if accept {
			old := def.Get(out)
			adopted, proposers, ok := out.PendingApprovals.Accept(def.Name, match.ProposalID)
			if !ok {
				continue
			}
			if err := def.Apply(out, adopted); err != nil {
				return nil, err
			}
			resolved[def.Name] = registry.Change{Old: old, New: adopted}
			requestedBy[def.Name] = proposers
			acceptedN++
		} else {
			if !out.PendingApprovals.Reject(def.Name, match.Value) {
				continue
			}
			// A rejection leaves the authoritative value in place; the log row
			// records the discarded proposal against it.
			resolved[def.Name] = registry.Change{Old: match.Value, New: def.Get(out)}
			requestedBy[def.Name] = registry.RequesterSet{approver}
			rejectedN++
		}
	}
	if resolved.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "no matching pending proposals")
	}

	id := s.ids.Next()
	if acceptedN > 0 {
		out.UpdatedAt = id
		out.UpdatedBy = approver
	}

	u := batch.New(id.Time())
	if acceptedN > 0 {
		s.refreshCatchment(u, existing, out, resolved, id)
	}
	s.refreshPending(u, existing, out, false)
	u.UpsertPatient(out)
	entry := registry.ChangeLogEntry{
		EventID:     id,
		HealthID:    healthID,
		Changeset:   resolved,
		RequestedBy: requestedBy,
		ApprovedBy:  &approver,
	}
	u.AppendAuditLog(entry)
	u.AppendUpdateLog(entry)
	if err := s.commit(ctx, u); err != nil {
		return nil, err
	}

	s.metrics.AddAccepted(acceptedN)
	s.metrics.AddRejected(rejectedN)
	s.log.InfoContext(ctx, "pending approvals resolved",
		"hid", healthID, "event_id", id, "accepted", acceptedN, "rejected", rejectedN)
	return out, nil
}

// Get loads one patient record.
func (s *Service) Get(ctx context.Context, healthID domain.HealthID) (*registry.PatientRecord, error) {
	return s.loadPatient(ctx, healthID)
}

// AuditTrail returns the full per-patient audit log, oldest first.
func (s *Service) AuditTrail(ctx context.Context, healthID domain.HealthID) ([]registry.ChangeLogEntry, error) {
	if _, err := s.loadPatient(ctx, healthID); err != nil {
		return nil, err
	}
	entries, err := s.store.AuditLog(ctx, healthID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeStorage, "reading audit log", err)
	}
	return entries, nil
}

// CatchmentChanges scans the catchment index for patients updated after the
// given id, ascending, capped at limit.
func (s *Service) CatchmentChanges(ctx context.Context, catchmentID string, after domain.EventID, limit int) ([]registry.CatchmentMapping, error) {
	rows, err := s.store.CatchmentMappings(ctx, catchmentID, after, limit)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeStorage, "scanning catchment index", err)
	}
	return rows, nil
}

// PendingWorklist scans the needs-review index for a catchment: the patients
// with open proposals, ordered by their latest proposal id.
func (s *Service) PendingWorklist(ctx context.Context, catchmentID string, after domain.EventID, limit int) ([]registry.PendingApprovalMapping, error) {
	rows, err := s.store.PendingMappings(ctx, catchmentID, after, limit)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeStorage, "scanning pending-approval index", err)
	}
	return rows, nil
}

func (s *Service) loadPatient(ctx context.Context, healthID domain.HealthID) (*registry.PatientRecord, error) {
	if healthID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "health id is required")
	}
	rec, err := s.store.GetPatient(ctx, healthID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "patient "+healthID.String()+" not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeStorage, "loading patient", err)
	}
	return rec, nil
}

// validateMerge checks a merge directive: the request must deactivate the
// record, the target must exist, be active, and differ from the source.
func (s *Service) validateMerge(ctx context.Context, healthID domain.HealthID, req registry.UpdateRequest) error {
	if req.MergedWith == nil {
		return nil
	}
	target := *req.MergedWith
	if target == healthID {
		return dErrors.New(dErrors.CodeInvalidRequest, "patient cannot be merged into itself")
	}
	if req.Active == nil || *req.Active {
		return dErrors.New(dErrors.CodeInvalidRequest, "a merge directive must deactivate the record")
	}
	rec, err := s.store.GetPatient(ctx, target)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "merge target "+target.String()+" not found")
	}
	if err != nil {
		return dErrors.Wrap(dErrors.CodeStorage, "loading merge target", err)
	}
	if !rec.Active {
		return dErrors.New(dErrors.CodeForbidden, "merge target "+target.String()+" is inactive")
	}
	return nil
}

// refreshCatchment rewrites the catchment index when an applied change moved
// the record's catchment. Old rows are addressed by the id they were written
// under, which trails UpdatedAt whenever intervening updates never touched
// the catchment; replacing rows are keyed by the new event id, recorded on
// the outgoing record so the next refresh can find them. Must run before the
// record's upsert is appended to the batch.
func (s *Service) refreshCatchment(u *batch.UnitOfWork, existing, out *registry.PatientRecord, applied registry.Changeset, id domain.EventID) {
	if !applied.HasCatchmentChange() {
		return
	}
	var old, updated []registry.CatchmentMapping
	if c, ok := existing.Catchment(); ok && !existing.CatchmentUpdatedAt.IsZero() {
		old = registry.CatchmentMappingsFor(c, existing.CatchmentUpdatedAt, existing.HealthID)
	}
	if c, ok := out.Catchment(); ok {
		updated = registry.CatchmentMappingsFor(c, id, out.HealthID)
		out.CatchmentUpdatedAt = id
	} else {
		out.CatchmentUpdatedAt = domain.EventID{}
	}
	u.RefreshCatchmentMappings(old, updated)
}

// refreshPending rewrites the needs-review index when the record's latest
// pending proposal moved, its catchment moved, or the record was deactivated.
// New rows always live under the record's current catchment.
func (s *Service) refreshPending(u *batch.UnitOfWork, existing, out *registry.PatientRecord, deactivation bool) {
	oldLatest := existing.PendingApprovals.LatestProposalID()
	newLatest := out.PendingApprovals.LatestProposalID()

	var old []registry.PendingApprovalMapping
	if !oldLatest.IsZero() {
		if c, ok := existing.Catchment(); ok {
			old = registry.PendingMappingsFor(c, oldLatest, existing.HealthID)
		}
	}
	if deactivation || newLatest.IsZero() {
		if len(old) > 0 {
			u.RefreshPendingMappings(old, nil)
		}
		return
	}

	var updated []registry.PendingApprovalMapping
	if c, ok := out.Catchment(); ok {
		updated = registry.PendingMappingsFor(c, newLatest, out.HealthID)
	}
	moved := newLatest != oldLatest || !mappingsEqual(old, updated)
	if moved && (len(old) > 0 || len(updated) > 0) {
		u.RefreshPendingMappings(old, updated)
	}
}

func mappingsEqual(a, b []registry.PendingApprovalMapping) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// commit executes the accumulated batch and translates store failures. The
// batch is atomic at the store, so failures leave no partial state and no
// compensation or retry runs here.
func (s *Service) commit(ctx context.Context, u *batch.UnitOfWork) error {
	if u.Empty() {
		return nil
	}
	start := time.Now()
	err := u.Commit(ctx, s.store)
	s.metrics.ObserveBatch(time.Since(start))
	if err != nil {
		s.metrics.IncBatchFailure()
		s.log.ErrorContext(ctx, "atomic batch failed", "error", err, "ops", len(u.Ops()))
		return dErrors.Wrap(dErrors.CodeStorage, "executing atomic batch", err)
	}
	return nil
}
