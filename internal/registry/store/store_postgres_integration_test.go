//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mpi/internal/registry"
	"mpi/internal/registry/batch"
	"mpi/internal/registry/policy"
	"mpi/internal/registry/service"
	"mpi/internal/registry/store"
	"mpi/pkg/domain"
	"mpi/pkg/platform/sentinel"
	"mpi/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgresStore(s.pg.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	for _, table := range []string{
		"patients", "catchment_mappings", "pending_approval_mappings",
		"patient_update_log", "patient_audit_log", "feed_markers",
	} {
		_, err := s.pg.DB.ExecContext(ctx, "TRUNCATE "+table)
		s.Require().NoError(err)
	}
}

func (s *PostgresStoreSuite) eventID(ts, entropy uint64) domain.EventID {
	return domain.EventID{TS: ts, Entropy: entropy}
}

func (s *PostgresStoreSuite) patient(hid domain.HealthID, at domain.EventID) *registry.PatientRecord {
	return &registry.PatientRecord{
		HealthID:  hid,
		GivenName: "Ayesha",
		Gender:    registry.GenderFemale,
		Address: &registry.Address{
			DivisionID: "10",
			DistrictID: "20",
			UpazilaID:  "30",
		},
		Active:    true,
		CreatedAt: at,
		UpdatedAt: at,
		CreatedBy: registry.Requester{FacilityID: "f1"},
		UpdatedBy: registry.Requester{FacilityID: "f1"},
	}
}

func (s *PostgresStoreSuite) commit(build func(u *batch.UnitOfWork), at time.Time) {
	u := batch.New(at)
	build(u)
	s.Require().NoError(u.Commit(context.Background(), s.store))
}

func (s *PostgresStoreSuite) TestPatientRoundTrip() {
	ctx := context.Background()
	id := s.eventID(1000, 1)
	rec := s.patient("h1", id)
	s.commit(func(u *batch.UnitOfWork) { u.UpsertPatient(rec) }, id.Time())

	got, err := s.store.GetPatient(ctx, "h1")
	s.Require().NoError(err)
	s.Equal(rec, got)

	_, err = s.store.GetPatient(ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestPatientLastWriteWins() {
	ctx := context.Background()
	newer := s.patient("h1", s.eventID(2000, 1))
	newer.Gender = registry.GenderOther
	s.commit(func(u *batch.UnitOfWork) { u.UpsertPatient(newer) },
		time.UnixMilli(2000))

	// A straggler carrying an older write time must not regress the row.
	older := s.patient("h1", s.eventID(1000, 1))
	s.commit(func(u *batch.UnitOfWork) { u.UpsertPatient(older) },
		time.UnixMilli(1000))

	got, err := s.store.GetPatient(ctx, "h1")
	s.Require().NoError(err)
	s.Equal(registry.GenderOther, got.Gender)
}

func (s *PostgresStoreSuite) TestCatchmentMappingRefresh() {
	ctx := context.Background()
	oldID := s.eventID(1000, 1)
	newID := s.eventID(2000, 1)
	oldRows := []registry.CatchmentMapping{{CatchmentID: "A10B20", UpdatedAt: oldID, HealthID: "h1"}}
	newRows := []registry.CatchmentMapping{{CatchmentID: "A10B99", UpdatedAt: newID, HealthID: "h1"}}

	s.commit(func(u *batch.UnitOfWork) { u.PutCatchmentMappings(oldRows) }, oldID.Time())
	s.commit(func(u *batch.UnitOfWork) { u.RefreshCatchmentMappings(oldRows, newRows) }, newID.Time())

	gone, err := s.store.CatchmentMappings(ctx, "A10B20", domain.EventID{}, 0)
	s.Require().NoError(err)
	s.Empty(gone, "tombstoned rows are invisible")

	rows, err := s.store.CatchmentMappings(ctx, "A10B99", domain.EventID{}, 0)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(newID, rows[0].UpdatedAt)
}

func (s *PostgresStoreSuite) TestScanExclusivityAndLimit() {
	ctx := context.Background()
	var ids []domain.EventID
	for i := uint64(1); i <= 3; i++ {
		id := s.eventID(1000*i, 1)
		ids = append(ids, id)
		s.commit(func(u *batch.UnitOfWork) {
			u.PutCatchmentMappings([]registry.CatchmentMapping{
				{CatchmentID: "A10B20", UpdatedAt: id, HealthID: domain.HealthID("h1")},
			})
		}, id.Time())
	}

	rows, err := s.store.CatchmentMappings(ctx, "A10B20", ids[0], 0)
	s.Require().NoError(err)
	s.Require().Len(rows, 2, "scan is exclusive of the bound")
	s.Equal(ids[1], rows[0].UpdatedAt)

	rows, err = s.store.CatchmentMappings(ctx, "A10B20", domain.EventID{}, 2)
	s.Require().NoError(err)
	s.Len(rows, 2)
}

func (s *PostgresStoreSuite) TestUpdateLogYearPartitions() {
	ctx := context.Background()
	dec := domain.MinEventIDAt(time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC))
	dec.Entropy = 1
	jan := domain.MinEventIDAt(time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC))
	jan.Entropy = 1

	for _, id := range []domain.EventID{dec, jan} {
		entry := registry.ChangeLogEntry{
			EventID:  id,
			HealthID: "h1",
			Changeset: registry.Changeset{
				registry.FieldGender: {Old: "M", New: "F"},
			},
			RequestedBy: map[string]registry.RequesterSet{
				registry.FieldGender: {registry.Requester{FacilityID: "f1"}},
			},
		}
		s.commit(func(u *batch.UnitOfWork) {
			u.AppendUpdateLog(entry)
			u.AppendAuditLog(entry)
		}, id.Time())
	}

	in2025, err := s.store.UpdateLog(ctx, 2025, domain.EventID{}, 0)
	s.Require().NoError(err)
	s.Require().Len(in2025, 1)
	s.Equal(dec, in2025[0].EventID)

	in2026, err := s.store.UpdateLog(ctx, 2026, domain.EventID{}, 0)
	s.Require().NoError(err)
	s.Require().Len(in2026, 1)
	s.Equal(jan, in2026[0].EventID)

	trail, err := s.store.AuditLog(ctx, "h1")
	s.Require().NoError(err)
	s.Len(trail, 2)
}

func (s *PostgresStoreSuite) TestMarkerOverwrite() {
	ctx := context.Background()
	first := s.eventID(1000, 1)
	second := s.eventID(2000, 1)

	s.commit(func(u *batch.UnitOfWork) {
		u.PutMarker(registry.Marker{Type: "kafka_publisher", CreatedAt: first, Value: first.String()})
	}, first.Time())
	s.commit(func(u *batch.UnitOfWork) {
		u.PutMarker(registry.Marker{Type: "kafka_publisher", CreatedAt: second, Value: second.String()})
	}, second.Time())

	m, err := s.store.Marker(ctx, "kafka_publisher")
	s.Require().NoError(err)
	s.Equal(second.String(), m.Value)

	_, err = s.store.Marker(ctx, "unknown")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestServiceApprovalRoundTrip() {
	ctx := context.Background()
	pol := policy.Func(func(field string, _, _ any, _ registry.Requester) policy.Decision {
		if field == registry.FieldPresentAddress {
			return policy.QueueForReview
		}
		return policy.ApplyNow
	})
	svc := service.New(s.store, pol, domain.NewGenerator(), nil, nil)

	rec := &registry.PatientRecord{
		HealthID:  "h1",
		GivenName: "Ayesha",
		Gender:    registry.GenderMale,
		Address:   &registry.Address{DivisionID: "10", DistrictID: "20"},
	}
	_, err := svc.Create(ctx, rec, registry.Requester{FacilityID: "f1"})
	s.Require().NoError(err)

	// An unrelated applied change advances the record past the id its
	// catchment rows were written under.
	_, err = svc.Apply(ctx, "h1",
		registry.UpdateRequest{Fields: registry.PatientRecord{Gender: registry.GenderFemale}},
		registry.Requester{FacilityID: "f1"})
	s.Require().NoError(err)

	newAddr := &registry.Address{DivisionID: "11", DistrictID: "20"}
	queued, err := svc.Update(ctx, "h1",
		registry.UpdateRequest{Fields: registry.PatientRecord{Address: newAddr}},
		registry.Requester{FacilityID: "f2"})
	s.Require().NoError(err)
	s.Require().NotNil(queued.PendingApprovals.Find(registry.FieldPresentAddress))

	// The queued proposal crossed the JSONB boundary; a typed approval value
	// must still match it.
	resolved, err := svc.ProcessPendingApprovals(ctx, "h1",
		map[string]any{registry.FieldPresentAddress: newAddr},
		registry.Requester{AdminID: "a1"}, true)
	s.Require().NoError(err)
	s.Equal("11", resolved.Address.DivisionID)
	s.Empty(resolved.PendingApprovals)

	gone, err := svc.CatchmentChanges(ctx, "A10B20", domain.EventID{}, 0)
	s.Require().NoError(err)
	s.Empty(gone, "the accepted move retires the rows written at creation time")

	rows, err := svc.CatchmentChanges(ctx, "A11B20", domain.EventID{}, 0)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(resolved.UpdatedAt, rows[0].UpdatedAt)
}

func (s *PostgresStoreSuite) TestBatchAtomicity() {
	ctx := context.Background()
	id := s.eventID(1000, 1)
	rec := s.patient("h1", id)

	// A batch that fails mid-flight must leave nothing behind, including the
	// ops that already ran inside the transaction.
	u := batch.New(id.Time())
	u.UpsertPatient(rec)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	s.Error(u.Commit(cancelled, s.store))

	_, err := s.store.GetPatient(ctx, "h1")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
