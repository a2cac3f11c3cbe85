package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpi/pkg/domain"
)

func proposalID(ts, entropy uint64) domain.EventID {
	return domain.EventID{TS: ts, Entropy: entropy}
}

func TestPendingApprovals_UnionRegardlessOfOrder(t *testing.T) {
	p1 := proposalID(100, 1)
	p2 := proposalID(200, 1)
	f1 := Requester{FacilityID: "f1"}
	f2 := Requester{FacilityID: "f2"}

	forward := PendingApprovals{}
	forward.AddProposal(FieldGender, p1, GenderFemale, GenderMale, f1)
	forward.AddProposal(FieldGender, p2, GenderOther, GenderMale, f2)

	reverse := PendingApprovals{}
	reverse.AddProposal(FieldGender, p2, GenderOther, GenderMale, f2)
	reverse.AddProposal(FieldGender, p1, GenderFemale, GenderMale, f1)

	for _, ps := range []PendingApprovals{forward, reverse} {
		entry := ps.Find(FieldGender)
		require.NotNil(t, entry)
		require.Len(t, entry.Proposals, 2)
		// Time-descending: newest first.
		assert.Equal(t, p2, entry.Proposals[0].ProposalID)
		assert.Equal(t, p1, entry.Proposals[1].ProposalID)
	}
}

func TestPendingApprovals_AddProposalIdempotentOnID(t *testing.T) {
	ps := PendingApprovals{}
	id := proposalID(100, 1)
	ps.AddProposal(FieldGender, id, GenderFemale, GenderMale, Requester{FacilityID: "f1"})
	ps.AddProposal(FieldGender, id, GenderFemale, GenderMale, Requester{FacilityID: "f1"})

	require.Len(t, ps.Find(FieldGender).Proposals, 1)
}

func TestPendingApprovals_LatestProposalIDMonotonic(t *testing.T) {
	ps := PendingApprovals{}
	ids := []domain.EventID{
		proposalID(300, 1),
		proposalID(100, 5),
		proposalID(300, 2),
		proposalID(200, 9),
	}
	fields := []string{FieldGender, FieldOccupation, FieldGender, FieldBloodGroup}

	var before domain.EventID
	for i, id := range ids {
		ps.AddProposal(fields[i], id, "v", nil, Requester{FacilityID: "f1"})
		after := ps.LatestProposalID()
		assert.False(t, after.Before(before), "latest id must never move backwards")
		before = after
	}
	assert.Equal(t, proposalID(300, 2), ps.LatestProposalID())
}

func TestPendingApprovals_WholeFieldAcceptance(t *testing.T) {
	ps := PendingApprovals{}
	f1 := Requester{FacilityID: "f1"}
	f2 := Requester{FacilityID: "f2"}
	f3 := Requester{ProviderID: "p3"}
	accepted := proposalID(100, 1)
	ps.AddProposal(FieldGender, accepted, GenderFemale, GenderMale, f1)
	ps.AddProposal(FieldGender, proposalID(200, 1), GenderOther, GenderMale, f2)
	ps.AddProposal(FieldGender, proposalID(300, 1), GenderFemale, GenderMale, f3)
	ps.AddProposal(FieldOccupation, proposalID(150, 1), "farmer", nil, f1)

	value, proposers, ok := ps.Accept(FieldGender, accepted)
	require.True(t, ok)
	assert.Equal(t, GenderFemale, value)
	// Every proposer of the accepted value is attributed; the competing
	// value's proposer is dropped without attribution.
	assert.ElementsMatch(t, RequesterSet{f1, f3}, proposers)

	assert.Nil(t, ps.Find(FieldGender), "acceptance discards the whole field")
	assert.NotNil(t, ps.Find(FieldOccupation), "other fields are untouched")
}

func TestPendingApprovals_AcceptUnknownProposal(t *testing.T) {
	ps := PendingApprovals{}
	ps.AddProposal(FieldGender, proposalID(100, 1), GenderFemale, GenderMale, Requester{FacilityID: "f1"})

	_, _, ok := ps.Accept(FieldGender, proposalID(999, 9))
	assert.False(t, ok)
	require.NotNil(t, ps.Find(FieldGender))
}

func TestPendingApprovals_PartialRejection(t *testing.T) {
	ps := PendingApprovals{}
	ps.AddProposal(FieldGender, proposalID(100, 1), GenderFemale, GenderMale, Requester{FacilityID: "f1"})
	ps.AddProposal(FieldGender, proposalID(200, 1), GenderOther, GenderMale, Requester{FacilityID: "f2"})
	ps.AddProposal(FieldGender, proposalID(300, 1), GenderFemale, GenderMale, Requester{FacilityID: "f3"})

	require.True(t, ps.Reject(FieldGender, GenderOther))

	entry := ps.Find(FieldGender)
	require.NotNil(t, entry, "field stays pending while proposals remain")
	require.Len(t, entry.Proposals, 2)
	for _, p := range entry.Proposals {
		assert.Equal(t, GenderFemale, p.Value)
	}
}

func TestPendingApprovals_RejectLastProposalRemovesField(t *testing.T) {
	ps := PendingApprovals{}
	ps.AddProposal(FieldGender, proposalID(100, 1), GenderFemale, GenderMale, Requester{FacilityID: "f1"})

	require.True(t, ps.Reject(FieldGender, GenderFemale))
	assert.Nil(t, ps.Find(FieldGender))
	assert.True(t, ps.LatestProposalID().IsZero())
}

func TestPendingApprovals_RejectValueScoped(t *testing.T) {
	ps := PendingApprovals{}
	ps.AddProposal(FieldGender, proposalID(100, 1), GenderFemale, GenderMale, Requester{FacilityID: "f1"})

	assert.False(t, ps.Reject(FieldGender, GenderOther), "no matching value, nothing removed")
	assert.False(t, ps.Reject(FieldOccupation, "farmer"), "unknown field")
	require.Len(t, ps.Find(FieldGender).Proposals, 1)
}

func TestPendingApprovals_ClearAll(t *testing.T) {
	ps := PendingApprovals{}
	ps.AddProposal(FieldGender, proposalID(100, 1), GenderFemale, GenderMale, Requester{FacilityID: "f1"})
	ps.AddProposal(FieldOccupation, proposalID(200, 1), "farmer", nil, Requester{FacilityID: "f2"})

	ps.ClearAll()
	assert.Empty(t, ps)
	assert.True(t, ps.LatestProposalID().IsZero())
}

func TestPendingApprovals_MatchProposal(t *testing.T) {
	ps := PendingApprovals{}
	id := proposalID(100, 1)
	ps.AddProposal(FieldConfidential, id, ConfidentialYes, ConfidentialNo, Requester{FacilityID: "f1"})

	// The confidential field matches case-insensitively.
	match, ok := ps.MatchProposal(FieldConfidential, "yes")
	require.True(t, ok)
	assert.Equal(t, id, match.ProposalID)

	_, ok = ps.MatchProposal(FieldConfidential, "maybe")
	assert.False(t, ok)
}

func TestRequesterSet_Dedupe(t *testing.T) {
	f1 := Requester{FacilityID: "f1"}
	set := RequesterSet{}.Add(f1).Add(f1).Add(Requester{ProviderID: "p1"})
	assert.Len(t, set, 2)

	set = set.AddAll(RequesterSet{f1, {AdminID: "a1", AdminName: "Admin"}})
	assert.Len(t, set, 3)
}

func TestPendingApprovals_MatchProposalAfterSerialization(t *testing.T) {
	address := &Address{DivisionID: "10", DistrictID: "20", UpazilaID: "30", AddressLine: "12 Lake Rd"}
	id := proposalID(100, 1)
	ps := PendingApprovals{}
	ps.AddProposal(FieldPresentAddress, id, address, nil, Requester{FacilityID: "f1"})
	ps.AddProposal(FieldPhoneNumber, proposalID(200, 1), &PhoneNumber{Number: "5551234"}, nil, Requester{FacilityID: "f2"})
	ps.AddProposal(FieldRelations, proposalID(300, 1), []Relation{{Type: "FTH", GivenName: "Abu"}}, nil, Requester{FacilityID: "f3"})

	data, err := json.Marshal(ps)
	require.NoError(t, err)
	var loaded PendingApprovals
	require.NoError(t, json.Unmarshal(data, &loaded))

	// Composite values keep their registry types through the round trip, so a
	// typed value submitted by a handler still matches.
	match, ok := loaded.MatchProposal(FieldPresentAddress, &Address{DivisionID: "10", DistrictID: "20", UpazilaID: "30", AddressLine: "12 Lake Rd"})
	require.True(t, ok)
	assert.Equal(t, id, match.ProposalID)

	_, ok = loaded.MatchProposal(FieldPhoneNumber, &PhoneNumber{Number: "5551234"})
	assert.True(t, ok)
	_, ok = loaded.MatchProposal(FieldRelations, []Relation{{Type: "FTH", GivenName: "Abu"}})
	assert.True(t, ok)

	value, proposers, ok := loaded.Accept(FieldPresentAddress, id)
	require.True(t, ok)
	assert.Equal(t, &Address{DivisionID: "10", DistrictID: "20", UpazilaID: "30", AddressLine: "12 Lake Rd"}, value)
	assert.Equal(t, RequesterSet{{FacilityID: "f1"}}, proposers)
}
