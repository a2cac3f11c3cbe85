// Package handler exposes the patient registry over HTTP. It is a thin layer:
// request decoding, identity extraction, and delegation to the registry
// service and feed.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mpi/internal/platform/middleware"
	"mpi/internal/registry"
	"mpi/internal/registry/feed"
	"mpi/internal/registry/hid"
	"mpi/internal/transport/http/shared"
	"mpi/pkg/domain"
	dErrors "mpi/pkg/domain-errors"
	"mpi/pkg/requestcontext"
)

// Service defines the registry operations the handler delegates to.
type Service interface {
	Create(ctx context.Context, rec *registry.PatientRecord, requester registry.Requester) (*registry.PatientRecord, error)
	Update(ctx context.Context, healthID domain.HealthID, req registry.UpdateRequest, requester registry.Requester) (*registry.PatientRecord, error)
	ProcessPendingApprovals(ctx context.Context, healthID domain.HealthID, fields map[string]any, approver registry.Requester, accept bool) (*registry.PatientRecord, error)
	Get(ctx context.Context, healthID domain.HealthID) (*registry.PatientRecord, error)
	AuditTrail(ctx context.Context, healthID domain.HealthID) ([]registry.ChangeLogEntry, error)
	CatchmentChanges(ctx context.Context, catchmentID string, after domain.EventID, limit int) ([]registry.CatchmentMapping, error)
	PendingWorklist(ctx context.Context, catchmentID string, after domain.EventID, limit int) ([]registry.PendingApprovalMapping, error)
}

// FeedReader reads the global update feed.
type FeedReader interface {
	Since(ctx context.Context, since time.Time, limit int, lastMarker string) ([]registry.ChangeLogEntry, error)
}

const defaultPageSize = 100

// Handler handles patient registry endpoints.
type Handler struct {
	logger       *slog.Logger
	service      Service
	feed         FeedReader
	allocator    hid.Allocator
	jwtValidator middleware.JWTValidator
}

// New creates a registry Handler. The allocator assigns health ids to create
// requests that do not carry one.
func New(service Service, feedReader FeedReader, allocator hid.Allocator, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		feed:         feedReader,
		allocator:    allocator,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the registry routes with their middleware chain.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.Recovery(h.logger))
	api.Use(middleware.RequestID)
	api.Use(middleware.Logger(h.logger))
	api.Use(middleware.Timeout(30 * time.Second))
	api.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	api.Post("/patients", h.handleCreatePatient)
	api.Get("/patients/{healthID}", h.handleGetPatient)
	api.Put("/patients/{healthID}", h.handleUpdatePatient)
	api.Get("/patients/{healthID}/audit", h.handleAuditTrail)
	api.Put("/patients/{healthID}/approvals", h.handleApprovals(true))
	api.Delete("/patients/{healthID}/approvals", h.handleApprovals(false))
	api.Get("/catchments/{catchmentID}/patients", h.handleCatchmentChanges)
	api.Get("/catchments/{catchmentID}/approvals", h.handlePendingWorklist)
	api.Get("/feed/patients", h.handleFeed)

	r.Mount("/api/v1", api)
}

func (h *Handler) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := decodeCreateRequest(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if rec.HealthID.IsZero() {
		allocated, err := h.allocator.Next(ctx)
		if err != nil {
			h.logFailure(ctx, "allocating health id failed", err)
			shared.WriteError(w, dErrors.Wrap(dErrors.CodeStorage, "allocating health id", err))
			return
		}
		rec.HealthID = allocated
	}

	created, err := h.service.Create(ctx, rec, requestcontext.Requester(ctx))
	if err != nil {
		h.logFailure(ctx, "create patient failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	healthID, err := domain.ParseHealthID(chi.URLParam(r, "healthID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	rec, err := h.service.Get(r.Context(), healthID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleUpdatePatient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	healthID, err := domain.ParseHealthID(chi.URLParam(r, "healthID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	req, err := decodeUpdateRequest(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	updated, err := h.service.Update(ctx, healthID, req, requestcontext.Requester(ctx))
	if err != nil {
		h.logFailure(ctx, "update patient failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	healthID, err := domain.ParseHealthID(chi.URLParam(r, "healthID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	entries, err := h.service.AuditTrail(r.Context(), healthID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, auditResponse{Entries: entries})
}

func (h *Handler) handleApprovals(accept bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		healthID, err := domain.ParseHealthID(chi.URLParam(r, "healthID"))
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		fields, err := decodeApprovalRequest(r)
		if err != nil {
			shared.WriteError(w, err)
			return
		}

		resolved, err := h.service.ProcessPendingApprovals(ctx, healthID, fields, requestcontext.Requester(ctx), accept)
		if err != nil {
			h.logFailure(ctx, "resolving approvals failed", err)
			shared.WriteError(w, err)
			return
		}
		shared.WriteJSON(w, http.StatusOK, resolved)
	}
}

func (h *Handler) handleCatchmentChanges(w http.ResponseWriter, r *http.Request) {
	after, limit, err := scanParams(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	rows, err := h.service.CatchmentChanges(r.Context(), chi.URLParam(r, "catchmentID"), after, limit)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, catchmentResponse{Mappings: rows, NextMarker: catchmentNextMarker(rows)})
}

func (h *Handler) handlePendingWorklist(w http.ResponseWriter, r *http.Request) {
	after, limit, err := scanParams(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	rows, err := h.service.PendingWorklist(r.Context(), chi.URLParam(r, "catchmentID"), after, limit)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, worklistResponse{Mappings: rows, NextMarker: worklistNextMarker(rows)})
}

func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since := time.Now().UTC().Truncate(24 * time.Hour)
	if raw := q.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			parsed, err = time.Parse("2006-01-02", raw)
		}
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidRequest, "since must be RFC3339 or YYYY-MM-DD"))
			return
		}
		since = parsed
	}
	limit, err := limitParam(q.Get("limit"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	entries, err := h.feed.Since(r.Context(), since, limit, q.Get("last_marker"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, feedResponse{Entries: entries, NextMarker: feed.NextMarker(entries)})
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	if dErrors.HasCode(err, dErrors.CodeStorage) || dErrors.CodeOf(err) == "" {
		h.logger.ErrorContext(ctx, msg, "error", err, "request_id", requestcontext.RequestID(ctx))
		return
	}
	h.logger.WarnContext(ctx, msg, "error", err, "request_id", requestcontext.RequestID(ctx))
}

func scanParams(r *http.Request) (domain.EventID, int, error) {
	q := r.URL.Query()
	var after domain.EventID
	if raw := q.Get("after"); raw != "" {
		parsed, err := domain.ParseEventID(raw)
		if err != nil {
			return domain.EventID{}, 0, err
		}
		after = parsed
	}
	limit, err := limitParam(q.Get("limit"))
	if err != nil {
		return domain.EventID{}, 0, err
	}
	return after, limit, nil
}

func limitParam(raw string) (int, error) {
	if raw == "" {
		return defaultPageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidRequest, "limit must be a positive integer")
	}
	return n, nil
}
