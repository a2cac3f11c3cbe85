// Package registry holds the master patient index domain model: the
// authoritative patient record, its derived catchment keys, the field-level
// pending-approval state, and the changeset/audit types every write produces.
package registry

import (
	"mpi/pkg/domain"
)

// Gender codes carried on the record.
const (
	GenderMale   = "M"
	GenderFemale = "F"
	GenderOther  = "O"
)

// Status captures whether the person is known to be alive.
const (
	StatusAlive   = "1"
	StatusDead    = "2"
	StatusUnknown = "3"
)

// Confidentiality flags. Compared case-insensitively.
const (
	ConfidentialYes = "YES"
	ConfidentialNo  = "NO"
)

// Health-id card lifecycle states.
const (
	CardStatusRegistered = "REGISTERED"
	CardStatusIssued     = "ISSUED"
)

// Address is the composite postal/geographic attribute. The first six code
// fields double as the catchment hierarchy levels.
type Address struct {
	DivisionID         string `json:"division_id,omitempty"`
	DistrictID         string `json:"district_id,omitempty"`
	UpazilaID          string `json:"upazila_id,omitempty"`
	CityCorporationID  string `json:"city_corporation_id,omitempty"`
	UnionOrUrbanWardID string `json:"union_or_urban_ward_id,omitempty"`
	RuralWardID        string `json:"rural_ward_id,omitempty"`
	AddressLine        string `json:"address_line,omitempty"`
	HoldingNumber      string `json:"holding_number,omitempty"`
	PostCode           string `json:"post_code,omitempty"`
	CountryCode        string `json:"country_code,omitempty"`
}

// PhoneNumber is a composite contact attribute.
type PhoneNumber struct {
	CountryCode string `json:"country_code,omitempty"`
	AreaCode    string `json:"area_code,omitempty"`
	Number      string `json:"number,omitempty"`
	Extension   string `json:"extension,omitempty"`
}

// Relation links the patient to another person, optionally another registered
// patient.
type Relation struct {
	Type      string          `json:"type"`
	HealthID  domain.HealthID `json:"hid,omitempty"`
	NationalID string         `json:"nid,omitempty"`
	GivenName string          `json:"given_name,omitempty"`
	SurName   string          `json:"sur_name,omitempty"`
}

// Requester identifies the actor attributed to a proposed or accepted change.
// At least one of facility, provider, or admin identity must be present.
// Equality is structural so a Requester can serve as a set element.
type Requester struct {
	FacilityID string `json:"facility_id,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	AdminID    string `json:"admin_id,omitempty"`
	AdminName  string `json:"admin_name,omitempty"`
}

// IsZero reports whether no identity is present at all.
func (r Requester) IsZero() bool {
	return r.FacilityID == "" && r.ProviderID == "" && r.AdminID == "" && r.AdminName == ""
}

// RequesterSet is an ordered set of requesters; insertion order is preserved,
// duplicates (structural equality) are dropped.
type RequesterSet []Requester

// Add unions r into the set.
func (s RequesterSet) Add(r Requester) RequesterSet {
	for _, existing := range s {
		if existing == r {
			return s
		}
	}
	return append(s, r)
}

// AddAll unions every element of other into the set.
func (s RequesterSet) AddAll(other RequesterSet) RequesterSet {
	for _, r := range other {
		s = s.Add(r)
	}
	return s
}

// PatientRecord is the authoritative row for one patient. It is created once,
// mutated by accepted updates and approvals, and never physically deleted:
// deactivation (Active=false, optionally MergedWith) is the terminal state.
type PatientRecord struct {
	HealthID domain.HealthID `json:"hid"`

	NationalID              string `json:"nid,omitempty"`
	BirthRegistrationNumber string `json:"bin_brn,omitempty"`
	UID                     string `json:"uid,omitempty"`

	GivenName     string `json:"given_name,omitempty"`
	SurName       string `json:"sur_name,omitempty"`
	DateOfBirth   string `json:"date_of_birth,omitempty"`
	Gender        string `json:"gender,omitempty"`
	Occupation    string `json:"occupation,omitempty"`
	EducationLevel string `json:"edu_level,omitempty"`
	Religion      string `json:"religion,omitempty"`
	BloodGroup    string `json:"blood_group,omitempty"`
	Nationality   string `json:"nationality,omitempty"`
	PlaceOfBirth  string `json:"place_of_birth,omitempty"`
	MaritalStatus string `json:"marital_status,omitempty"`

	Status        string `json:"status,omitempty"`
	DateOfDeath   string `json:"date_of_death,omitempty"`
	Confidential  string `json:"confidential,omitempty"`
	HIDCardStatus string `json:"hid_card_status,omitempty"`

	PhoneNumber      *PhoneNumber `json:"phone_number,omitempty"`
	Address          *Address     `json:"present_address,omitempty"`
	PermanentAddress *Address     `json:"permanent_address,omitempty"`
	Relations        []Relation   `json:"relations,omitempty"`

	Active     bool             `json:"active"`
	MergedWith *domain.HealthID `json:"merged_with,omitempty"`

	CreatedAt domain.EventID `json:"created_at"`
	UpdatedAt domain.EventID `json:"updated_at"`
	CreatedBy Requester      `json:"created_by"`
	UpdatedBy Requester      `json:"updated_by"`

	// CatchmentUpdatedAt is the event id the record's catchment index rows are
	// keyed under. It trails UpdatedAt whenever an applied change left the
	// catchment alone, so a later catchment refresh must tombstone this id,
	// not UpdatedAt. Zero when no index rows exist.
	CatchmentUpdatedAt domain.EventID `json:"catchment_updated_at"`

	// PendingApprovals snapshots the open field-level proposals embedded on the
	// record. Resolved or cleared entries are removed, never kept as history.
	PendingApprovals PendingApprovals `json:"pending_approvals,omitempty"`
}

// Clone returns a deep copy, so callers can build a merged candidate without
// mutating the loaded record.
func (p *PatientRecord) Clone() *PatientRecord {
	if p == nil {
		return nil
	}
	out := *p
	if p.PhoneNumber != nil {
		pn := *p.PhoneNumber
		out.PhoneNumber = &pn
	}
	if p.Address != nil {
		a := *p.Address
		out.Address = &a
	}
	if p.PermanentAddress != nil {
		a := *p.PermanentAddress
		out.PermanentAddress = &a
	}
	if p.Relations != nil {
		out.Relations = append([]Relation(nil), p.Relations...)
	}
	if p.MergedWith != nil {
		m := *p.MergedWith
		out.MergedWith = &m
	}
	out.PendingApprovals = p.PendingApprovals.Clone()
	return &out
}

// Catchment derives the record's geographic fan-out key from the present
// address. The second return is false when the address lacks the mandatory
// levels; such patients are skipped by catchment-scoped indices, not errored.
func (p *PatientRecord) Catchment() (Catchment, bool) {
	if p.Address == nil {
		return Catchment{}, false
	}
	c, err := NewCatchment(
		p.Address.DivisionID,
		p.Address.DistrictID,
		p.Address.UpazilaID,
		p.Address.CityCorporationID,
		p.Address.UnionOrUrbanWardID,
		p.Address.RuralWardID,
	)
	if err != nil {
		return Catchment{}, false
	}
	return c, true
}

// UpdateRequest is a sparse edit: zero-valued fields are "unchanged". Active
// and MergedWith are tri-state and therefore pointers.
type UpdateRequest struct {
	Fields     PatientRecord
	Active     *bool
	MergedWith *domain.HealthID
}
