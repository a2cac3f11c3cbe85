package registry

import (
	"encoding/json"
	"sort"

	"mpi/pkg/domain"
)

// PendingApprovalFieldDetails is one proposed value awaiting review.
type PendingApprovalFieldDetails struct {
	// ProposalID is the time-ordered id issued when the proposal was queued.
	ProposalID domain.EventID `json:"proposal_id"`
	Value      any            `json:"value"`
	RequestedBy Requester     `json:"requested_by"`
}

// PendingApproval is the unresolved review state for one governed field.
// Identity is the field name alone, so merging proposals for the same field
// unions their proposal lists.
//
// Proposed values are held untyped but re-typed per the field registry on
// unmarshal, so a value that crossed the persistence boundary still compares
// equal to the typed value a handler submits.
type PendingApproval struct {
	FieldName string `json:"field_name"`
	// CurrentValue snapshots the authoritative value at proposal time. It is
	// informational only and never consulted when resolving.
	CurrentValue any `json:"current_value,omitempty"`
	// Proposals is kept ordered by (embedded timestamp desc, id desc).
	Proposals []PendingApprovalFieldDetails `json:"proposals"`
}

// Latest returns the most recent proposal. Valid only on a non-empty entry.
func (p *PendingApproval) Latest() PendingApprovalFieldDetails { return p.Proposals[0] }

// UnmarshalJSON decodes the entry and re-types every proposed value per the
// field registry. Without this, composite values loaded from storage come back
// as map[string]any and never match the typed values handlers submit. Fields
// unknown to the registry keep the generic decoding.
func (p *PendingApproval) UnmarshalJSON(data []byte) error {
	var wire struct {
		FieldName    string          `json:"field_name"`
		CurrentValue json.RawMessage `json:"current_value,omitempty"`
		Proposals    []struct {
			ProposalID  domain.EventID  `json:"proposal_id"`
			Value       json.RawMessage `json:"value"`
			RequestedBy Requester       `json:"requested_by"`
		} `json:"proposals"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	p.FieldName = wire.FieldName
	current, err := decodePendingValue(wire.FieldName, wire.CurrentValue)
	if err != nil {
		return err
	}
	p.CurrentValue = current
	p.Proposals = make([]PendingApprovalFieldDetails, len(wire.Proposals))
	for i, prop := range wire.Proposals {
		value, err := decodePendingValue(wire.FieldName, prop.Value)
		if err != nil {
			return err
		}
		p.Proposals[i] = PendingApprovalFieldDetails{
			ProposalID:  prop.ProposalID,
			Value:       value,
			RequestedBy: prop.RequestedBy,
		}
	}
	return nil
}

func decodePendingValue(field string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if _, ok := FieldByName(field); !ok {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return DecodeFieldValue(field, raw)
}

// add unions a proposal into the time-descending list, idempotent per id.
// Insertion is by binary search on the (timestamp desc, id desc) order.
func (p *PendingApproval) add(details PendingApprovalFieldDetails) {
	i := sort.Search(len(p.Proposals), func(i int) bool {
		return !p.Proposals[i].ProposalID.After(details.ProposalID)
	})
	if i < len(p.Proposals) && p.Proposals[i].ProposalID == details.ProposalID {
		return
	}
	p.Proposals = append(p.Proposals, PendingApprovalFieldDetails{})
	copy(p.Proposals[i+1:], p.Proposals[i:])
	p.Proposals[i] = details
}

// PendingApprovals is the record's open review state, at most one entry per
// field, kept sorted by field name.
type PendingApprovals []PendingApproval

// Clone deep-copies the approval set (proposal values are shared).
func (ps PendingApprovals) Clone() PendingApprovals {
	if ps == nil {
		return nil
	}
	out := make(PendingApprovals, len(ps))
	for i, p := range ps {
		out[i] = p
		out[i].Proposals = append([]PendingApprovalFieldDetails(nil), p.Proposals...)
	}
	return out
}

// Find returns the entry for field, or nil.
func (ps PendingApprovals) Find(field string) *PendingApproval {
	for i := range ps {
		if ps[i].FieldName == field {
			return &ps[i]
		}
	}
	return nil
}

// AddProposal queues value for review on field, creating the field's entry when
// absent and unioning into it otherwise. Idempotent per proposal id.
func (ps *PendingApprovals) AddProposal(field string, proposalID domain.EventID, value, currentValue any, requester Requester) {
	details := PendingApprovalFieldDetails{ProposalID: proposalID, Value: value, RequestedBy: requester}
	if entry := ps.Find(field); entry != nil {
		entry.add(details)
		return
	}
	entry := PendingApproval{FieldName: field, CurrentValue: currentValue}
	entry.add(details)
	i := sort.Search(len(*ps), func(i int) bool { return (*ps)[i].FieldName >= field })
	*ps = append(*ps, PendingApproval{})
	copy((*ps)[i+1:], (*ps)[i:])
	(*ps)[i] = entry
}

// LatestProposalID returns the greatest proposal id across every open field
// under the (embedded timestamp, then raw id) order, or the zero id when no
// proposals are open. It is the deterministic version marker deciding whether
// the pending-approval index must be rewritten.
func (ps PendingApprovals) LatestProposalID() domain.EventID {
	var latest domain.EventID
	for i := range ps {
		if len(ps[i].Proposals) == 0 {
			continue
		}
		if id := ps[i].Latest().ProposalID; id.After(latest) {
			latest = id
		}
	}
	return latest
}

// MatchProposal finds the open proposal on field whose value equals value.
func (ps PendingApprovals) MatchProposal(field string, value any) (PendingApprovalFieldDetails, bool) {
	entry := ps.Find(field)
	if entry == nil {
		return PendingApprovalFieldDetails{}, false
	}
	def, ok := FieldByName(field)
	if !ok {
		return PendingApprovalFieldDetails{}, false
	}
	for _, proposal := range entry.Proposals {
		if def.Equal(proposal.Value, value) {
			return proposal, true
		}
	}
	return PendingApprovalFieldDetails{}, false
}

// Accept resolves field by adopting the identified proposal. Acceptance is
// whole-field: every competing proposal for the field is discarded. The
// returned proposers are the requesters whose proposals carried the accepted
// value; competing values are dropped without attribution. ok is false when
// the field or proposal id is unknown.
func (ps *PendingApprovals) Accept(field string, proposalID domain.EventID) (value any, proposers RequesterSet, ok bool) {
	entry := ps.Find(field)
	if entry == nil {
		return nil, nil, false
	}
	def, defOK := FieldByName(field)
	if !defOK {
		return nil, nil, false
	}
	for _, proposal := range entry.Proposals {
		if proposal.ProposalID == proposalID {
			value = proposal.Value
			ok = true
		}
	}
	if !ok {
		return nil, nil, false
	}
	for _, proposal := range entry.Proposals {
		if def.Equal(proposal.Value, value) {
			proposers = proposers.Add(proposal.RequestedBy)
		}
	}
	ps.remove(field)
	return value, proposers, true
}

// Reject removes only the proposal entries whose value equals value. When no
// entries remain the field's PendingApproval is removed entirely. ok is false
// when nothing matched.
func (ps *PendingApprovals) Reject(field string, value any) bool {
	entry := ps.Find(field)
	if entry == nil {
		return false
	}
	def, defOK := FieldByName(field)
	if !defOK {
		return false
	}
	kept := entry.Proposals[:0]
	removed := false
	for _, proposal := range entry.Proposals {
		if def.Equal(proposal.Value, value) {
			removed = true
			continue
		}
		kept = append(kept, proposal)
	}
	if !removed {
		return false
	}
	entry.Proposals = kept
	if len(entry.Proposals) == 0 {
		ps.remove(field)
	}
	return true
}

// ClearAll drops every open approval; used when a patient is deactivated.
func (ps *PendingApprovals) ClearAll() { *ps = nil }

func (ps *PendingApprovals) remove(field string) {
	for i := range *ps {
		if (*ps)[i].FieldName == field {
			*ps = append((*ps)[:i], (*ps)[i+1:]...)
			return
		}
	}
}
