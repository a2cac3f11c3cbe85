package handler

import (
	"encoding/json"
	"net/http"

	"mpi/internal/registry"
	"mpi/pkg/domain"
	dErrors "mpi/pkg/domain-errors"
)

// updatePatientRequest is the sparse edit payload. The outer Active and
// MergedWith shadow the embedded record fields so absence is distinguishable
// from false/empty.
type updatePatientRequest struct {
	registry.PatientRecord
	Active     *bool   `json:"active"`
	MergedWith *string `json:"merged_with"`
}

type auditResponse struct {
	Entries []registry.ChangeLogEntry `json:"entries"`
}

type feedResponse struct {
	Entries    []registry.ChangeLogEntry `json:"entries"`
	NextMarker string                    `json:"next_marker,omitempty"`
}

type catchmentResponse struct {
	Mappings   []registry.CatchmentMapping `json:"mappings"`
	NextMarker string                      `json:"next_marker,omitempty"`
}

type worklistResponse struct {
	Mappings   []registry.PendingApprovalMapping `json:"mappings"`
	NextMarker string                            `json:"next_marker,omitempty"`
}

func catchmentNextMarker(rows []registry.CatchmentMapping) string {
	if len(rows) == 0 {
		return ""
	}
	return rows[len(rows)-1].UpdatedAt.String()
}

func worklistNextMarker(rows []registry.PendingApprovalMapping) string {
	if len(rows) == 0 {
		return ""
	}
	return rows[len(rows)-1].LatestPendingAt.String()
}

func decodeCreateRequest(r *http.Request) (*registry.PatientRecord, error) {
	var rec registry.PatientRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "invalid request body")
	}
	return &rec, nil
}

func decodeUpdateRequest(r *http.Request) (registry.UpdateRequest, error) {
	var payload updatePatientRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return registry.UpdateRequest{}, dErrors.New(dErrors.CodeInvalidRequest, "invalid request body")
	}
	req := registry.UpdateRequest{Fields: payload.PatientRecord, Active: payload.Active}
	if payload.MergedWith != nil {
		hid, err := domain.ParseHealthID(*payload.MergedWith)
		if err != nil {
			return registry.UpdateRequest{}, err
		}
		req.MergedWith = &hid
	}
	return req, nil
}

// decodeApprovalRequest decodes a field-name to value payload, giving each
// value its registry type so proposal matching compares like with like.
func decodeApprovalRequest(r *http.Request) (map[string]any, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "invalid request body")
	}
	if len(raw) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "at least one field is required")
	}
	fields := make(map[string]any, len(raw))
	for name, value := range raw {
		decoded, err := registry.DecodeFieldValue(name, value)
		if err != nil {
			return nil, err
		}
		fields[name] = decoded
	}
	return fields, nil
}
