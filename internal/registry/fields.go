package registry

import (
	"encoding/json"
	"reflect"
	"strings"

	"mpi/pkg/domain"
	dErrors "mpi/pkg/domain-errors"
)

// Logical field names. These are the keys used in changesets, audit rows, and
// pending approvals; they are part of the wire contract with feed consumers.
const (
	FieldNationalID              = "nid"
	FieldBirthRegistrationNumber = "bin_brn"
	FieldUID                     = "uid"
	FieldGivenName               = "given_name"
	FieldSurName                 = "sur_name"
	FieldDateOfBirth             = "date_of_birth"
	FieldGender                  = "gender"
	FieldOccupation              = "occupation"
	FieldEducationLevel          = "edu_level"
	FieldReligion                = "religion"
	FieldBloodGroup              = "blood_group"
	FieldNationality             = "nationality"
	FieldPlaceOfBirth            = "place_of_birth"
	FieldMaritalStatus           = "marital_status"
	FieldStatus                  = "status"
	FieldDateOfDeath             = "date_of_death"
	FieldConfidential            = "confidential"
	FieldHIDCardStatus           = "hid_card_status"
	FieldPhoneNumber             = "phone_number"
	FieldPresentAddress          = "present_address"
	FieldPermanentAddress        = "permanent_address"
	FieldRelations               = "relations"
	FieldActive                  = "active"
	FieldMergedWith              = "merged_with"

	// AllFieldsBucket attributes a whole-record event (creation) without
	// enumerating every field.
	AllFieldsBucket = "ALL_FIELDS"
)

// FieldDef maps a logical field name onto typed access to PatientRecord. The
// registry is hand-maintained: no reflection-driven field enumeration.
type FieldDef struct {
	Name string
	// Catchment marks fields whose change invalidates catchment index rows.
	Catchment bool
	// FoldCase marks string fields compared case-insensitively.
	FoldCase bool
	Get      func(p *PatientRecord) any
	Apply    func(p *PatientRecord, v any) error
	// Decode re-types a JSON value into the field's Go representation, the
	// same one Get returns, so values that crossed a serialization boundary
	// compare like with like.
	Decode func(raw json.RawMessage) (any, error)
}

// DecodeFieldValue re-types a raw JSON value per the field registry. JSON null
// decodes to nil; unknown fields are an error.
func DecodeFieldValue(field string, raw json.RawMessage) (any, error) {
	def, ok := FieldByName(field)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "unknown field "+field)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return def.Decode(raw)
}

func stringField(name string, get func(p *PatientRecord) *string, foldCase bool) FieldDef {
	return FieldDef{
		Name:     name,
		FoldCase: foldCase,
		Get: func(p *PatientRecord) any {
			if s := *get(p); s != "" {
				return s
			}
			return nil
		},
		Apply: func(p *PatientRecord, v any) error {
			s, ok := v.(string)
			if !ok {
				return dErrors.New(dErrors.CodeInvalidRequest, "field "+name+" expects a string value")
			}
			*get(p) = s
			return nil
		},
		Decode: func(raw json.RawMessage) (any, error) {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, dErrors.New(dErrors.CodeInvalidRequest, "field "+name+" expects a string value")
			}
			return s, nil
		},
	}
}

func addressField(name string, get func(p *PatientRecord) **Address, catchment bool) FieldDef {
	return FieldDef{
		Name:      name,
		Catchment: catchment,
		Get: func(p *PatientRecord) any {
			if a := *get(p); a != nil {
				return a
			}
			return nil
		},
		Apply: func(p *PatientRecord, v any) error {
			switch a := v.(type) {
			case *Address:
				*get(p) = a
			case Address:
				*get(p) = &a
			default:
				return dErrors.New(dErrors.CodeInvalidRequest, "field "+name+" expects an address value")
			}
			return nil
		},
		Decode: func(raw json.RawMessage) (any, error) {
			var a Address
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, dErrors.New(dErrors.CodeInvalidRequest, "field "+name+" expects an address value")
			}
			return &a, nil
		},
	}
}

// fieldRegistry is the canonical field table, built once. Diff iterates it in
// order so changesets enumerate deterministically.
var fieldRegistry = []FieldDef{
	stringField(FieldNationalID, func(p *PatientRecord) *string { return &p.NationalID }, false),
	stringField(FieldBirthRegistrationNumber, func(p *PatientRecord) *string { return &p.BirthRegistrationNumber }, false),
	stringField(FieldUID, func(p *PatientRecord) *string { return &p.UID }, false),
	stringField(FieldGivenName, func(p *PatientRecord) *string { return &p.GivenName }, false),
	stringField(FieldSurName, func(p *PatientRecord) *string { return &p.SurName }, false),
	stringField(FieldDateOfBirth, func(p *PatientRecord) *string { return &p.DateOfBirth }, false),
	stringField(FieldGender, func(p *PatientRecord) *string { return &p.Gender }, false),
	stringField(FieldOccupation, func(p *PatientRecord) *string { return &p.Occupation }, false),
	stringField(FieldEducationLevel, func(p *PatientRecord) *string { return &p.EducationLevel }, false),
	stringField(FieldReligion, func(p *PatientRecord) *string { return &p.Religion }, false),
	stringField(FieldBloodGroup, func(p *PatientRecord) *string { return &p.BloodGroup }, false),
	stringField(FieldNationality, func(p *PatientRecord) *string { return &p.Nationality }, false),
	stringField(FieldPlaceOfBirth, func(p *PatientRecord) *string { return &p.PlaceOfBirth }, false),
	stringField(FieldMaritalStatus, func(p *PatientRecord) *string { return &p.MaritalStatus }, false),
	stringField(FieldStatus, func(p *PatientRecord) *string { return &p.Status }, false),
	stringField(FieldDateOfDeath, func(p *PatientRecord) *string { return &p.DateOfDeath }, false),
	stringField(FieldConfidential, func(p *PatientRecord) *string { return &p.Confidential }, true),
	stringField(FieldHIDCardStatus, func(p *PatientRecord) *string { return &p.HIDCardStatus }, false),
	{
		Name: FieldPhoneNumber,
		Get: func(p *PatientRecord) any {
			if p.PhoneNumber != nil {
				return p.PhoneNumber
			}
			return nil
		},
		Apply: func(p *PatientRecord, v any) error {
			switch pn := v.(type) {
			case *PhoneNumber:
				p.PhoneNumber = pn
			case PhoneNumber:
				p.PhoneNumber = &pn
			default:
				return dErrors.New(dErrors.CodeInvalidRequest, "field phone_number expects a phone number value")
			}
			return nil
		},
		Decode: func(raw json.RawMessage) (any, error) {
			var pn PhoneNumber
			if err := json.Unmarshal(raw, &pn); err != nil {
				return nil, dErrors.New(dErrors.CodeInvalidRequest, "field phone_number expects a phone number value")
			}
			return &pn, nil
		},
	},
	addressField(FieldPresentAddress, func(p *PatientRecord) **Address { return &p.Address }, true),
	addressField(FieldPermanentAddress, func(p *PatientRecord) **Address { return &p.PermanentAddress }, false),
	{
		Name: FieldRelations,
		Get: func(p *PatientRecord) any {
			if len(p.Relations) > 0 {
				return p.Relations
			}
			return nil
		},
		Apply: func(p *PatientRecord, v any) error {
			rs, ok := v.([]Relation)
			if !ok {
				return dErrors.New(dErrors.CodeInvalidRequest, "field relations expects a relation list")
			}
			p.Relations = rs
			return nil
		},
		Decode: func(raw json.RawMessage) (any, error) {
			var rs []Relation
			if err := json.Unmarshal(raw, &rs); err != nil {
				return nil, dErrors.New(dErrors.CodeInvalidRequest, "field relations expects a relation list")
			}
			return rs, nil
		},
	},
	{
		Name: FieldActive,
		Get:  func(p *PatientRecord) any { return p.Active },
		Apply: func(p *PatientRecord, v any) error {
			b, ok := v.(bool)
			if !ok {
				return dErrors.New(dErrors.CodeInvalidRequest, "field active expects a boolean value")
			}
			p.Active = b
			return nil
		},
		Decode: func(raw json.RawMessage) (any, error) {
			var b bool
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, dErrors.New(dErrors.CodeInvalidRequest, "field active expects a boolean value")
			}
			return b, nil
		},
	},
	{
		Name: FieldMergedWith,
		Get: func(p *PatientRecord) any {
			if p.MergedWith != nil {
				return *p.MergedWith
			}
			return nil
		},
		Apply: func(p *PatientRecord, v any) error {
			switch h := v.(type) {
			case domain.HealthID:
				p.MergedWith = &h
			case string:
				hid := domain.HealthID(h)
				p.MergedWith = &hid
			default:
				return dErrors.New(dErrors.CodeInvalidRequest, "field merged_with expects a health id")
			}
			return nil
		},
		Decode: func(raw json.RawMessage) (any, error) {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, dErrors.New(dErrors.CodeInvalidRequest, "field merged_with expects a health id")
			}
			return domain.HealthID(s), nil
		},
	},
}

var fieldsByName = func() map[string]FieldDef {
	m := make(map[string]FieldDef, len(fieldRegistry))
	for _, def := range fieldRegistry {
		m[def.Name] = def
	}
	return m
}()

// FieldByName looks up a field definition by logical name.
func FieldByName(name string) (FieldDef, bool) {
	def, ok := fieldsByName[name]
	return def, ok
}

// Fields returns the canonical field table in registry order.
func Fields() []FieldDef { return fieldRegistry }

// Equal compares two field values structurally. Pointers compare by pointee;
// fold-case fields compare strings case-insensitively.
func (d FieldDef) Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if d.FoldCase {
		if as, aok := a.(string); aok {
			if bs, bok := b.(string); bok {
				return strings.EqualFold(as, bs)
			}
		}
	}
	return reflect.DeepEqual(derefValue(a), derefValue(b))
}

func derefValue(v any) any {
	switch t := v.(type) {
	case *Address:
		if t == nil {
			return nil
		}
		return *t
	case *PhoneNumber:
		if t == nil {
			return nil
		}
		return *t
	case string:
		return t
	default:
		return v
	}
}
