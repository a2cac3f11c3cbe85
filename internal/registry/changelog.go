package registry

import (
	"mpi/pkg/domain"
)

// ChangeLogEntry is one append-only, immutable change record. The same shape
// serves two logs: the feed-oriented update log (partitioned by calendar year
// of the event time) and the patient-oriented audit log (partitioned by health
// id).
type ChangeLogEntry struct {
	EventID  domain.EventID  `json:"event_id"`
	HealthID domain.HealthID `json:"hid"`
	// Changeset holds old/new per changed field.
	Changeset Changeset `json:"change_set"`
	// RequestedBy attributes each field (or the ALL_FIELDS bucket) to the set
	// of requesters who contributed the change.
	RequestedBy map[string]RequesterSet `json:"requested_by"`
	// ApprovedBy is set when the change went through review.
	ApprovedBy *Requester `json:"approved_by,omitempty"`
}

// Year returns the calendar-year partition of the update log this entry
// belongs to.
func (e ChangeLogEntry) Year() int { return e.EventID.Time().Year() }

// CatchmentMapping is one secondary index row answering "which patients in
// catchment X changed after marker M". One row exists per catchment depth per
// patient version.
type CatchmentMapping struct {
	CatchmentID string          `json:"catchment_id"`
	UpdatedAt   domain.EventID  `json:"updated_at"`
	HealthID    domain.HealthID `json:"hid"`
}

// CatchmentMappingsFor fans one patient version out across every id of its
// catchment.
func CatchmentMappingsFor(c Catchment, updatedAt domain.EventID, hid domain.HealthID) []CatchmentMapping {
	ids := c.AllIDs()
	rows := make([]CatchmentMapping, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, CatchmentMapping{CatchmentID: id, UpdatedAt: updatedAt, HealthID: hid})
	}
	return rows
}

// PendingApprovalMapping is one "needs review" index row, keyed by catchment
// and the record's latest pending proposal id. Stale rows are tombstoned and
// replaced, never edited in place.
type PendingApprovalMapping struct {
	CatchmentID     string          `json:"catchment_id"`
	LatestPendingAt domain.EventID  `json:"latest_pending_at"`
	HealthID        domain.HealthID `json:"hid"`
}

// PendingMappingsFor fans the record's latest-pending marker out across every
// id of its catchment.
func PendingMappingsFor(c Catchment, latest domain.EventID, hid domain.HealthID) []PendingApprovalMapping {
	ids := c.AllIDs()
	rows := make([]PendingApprovalMapping, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, PendingApprovalMapping{CatchmentID: id, LatestPendingAt: latest, HealthID: hid})
	}
	return rows
}

// Marker is a persisted feed checkpoint. It is overwritten (tombstone+insert)
// on each advance, never updated in place.
type Marker struct {
	Type      string         `json:"type"`
	CreatedAt domain.EventID `json:"created_at"`
	Value     string         `json:"value"`
}
