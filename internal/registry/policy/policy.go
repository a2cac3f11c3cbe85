// Package policy declares the approval-policy collaborator the write
// coordinator consults per changed field. The rule engine itself is external;
// this package carries the contract plus a config-driven default good enough
// for wiring and tests.
package policy

//go:generate mockgen -source=policy.go -destination=mocks/mocks.go -package=mocks Policy

import "mpi/internal/registry"

// Decision is the per-field verdict.
type Decision int

const (
	// ApplyNow lets the change take effect immediately.
	ApplyNow Decision = iota
	// QueueForReview parks the change as a pending approval.
	QueueForReview
)

// Policy decides, per changed field, whether a requested value applies
// immediately or must be queued for review. Implementations must be pure
// decision functions: no side effects, no storage access.
type Policy interface {
	Decide(field string, oldValue, newValue any, requester registry.Requester) Decision
}

// Func adapts a plain function to Policy.
type Func func(field string, oldValue, newValue any, requester registry.Requester) Decision

func (f Func) Decide(field string, oldValue, newValue any, requester registry.Requester) Decision {
	return f(field, oldValue, newValue, requester)
}

// GovernedFields is the default policy: a fixed set of governed field names
// whose edits require review unless the requester is an admin or comes from an
// explicitly trusted facility.
type GovernedFields struct {
	governed map[string]bool
	trusted  map[string]bool
}

// NewGovernedFields builds the default policy.
func NewGovernedFields(fields, trustedFacilities []string) *GovernedFields {
	g := &GovernedFields{
		governed: make(map[string]bool, len(fields)),
		trusted:  make(map[string]bool, len(trustedFacilities)),
	}
	for _, f := range fields {
		g.governed[f] = true
	}
	for _, f := range trustedFacilities {
		g.trusted[f] = true
	}
	return g
}

func (g *GovernedFields) Decide(field string, _, _ any, requester registry.Requester) Decision {
	if !g.governed[field] {
		return ApplyNow
	}
	if requester.AdminID != "" {
		return ApplyNow
	}
	if requester.FacilityID != "" && g.trusted[requester.FacilityID] {
		return ApplyNow
	}
	return QueueForReview
}
