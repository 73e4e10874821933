package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tenderhq/core/internal/middleware"
	"github.com/tenderhq/core/internal/models"
	apierrors "github.com/tenderhq/core/internal/pkg/errors"
	"github.com/tenderhq/core/internal/pkg/response"
	"github.com/tenderhq/core/internal/service"
)

// ApprovalHandler handles approval request HTTP endpoints.
type ApprovalHandler struct {
	approvalService service.ApprovalService
	validate        *validator.Validate
}

// NewApprovalHandler creates a new approval handler.
func NewApprovalHandler(approvalService service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{
		approvalService: approvalService,
		validate:        validator.New(),
	}
}

// Routes returns a chi router with approval routes. All require a session.
func (h *ApprovalHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/events", h.Events)

	r.Post("/{id}/submit", h.Submit)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/deny", h.Deny)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/fulfill", h.Fulfill)
	r.Post("/{id}/escalate", h.Escalate)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(models.RoleAdmin))
		r.Post("/rules", h.CreateRule)
		r.Get("/rules/{companyID}", h.ListRules)
		r.Delete("/rules/{id}", h.DeleteRule)
	})

	return r
}

func requestParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apierrors.ErrBadRequest.WithMessage("Invalid request ID")
	}
	return id, nil
}

func actorFrom(r *http.Request) service.Actor {
	principal := middleware.GetPrincipal(r.Context())
	return service.Actor{ID: principal.User.ID, Role: principal.Profile.Role}
}

// CreateApprovalHTTPRequest is the HTTP request body for drafting a request.
type CreateApprovalHTTPRequest struct {
	CompanyID        string `json:"company_id" validate:"required,uuid"`
	TeamID           string `json:"team_id" validate:"omitempty,uuid"`
	RequestType      string `json:"request_type" validate:"required,max=64"`
	Title            string `json:"title" validate:"required,max=200"`
	Description      string `json:"description" validate:"max=4000"`
	EstimatedCredits int64  `json:"estimated_credits" validate:"required,gt=0"`
}

// Create handles POST /v1/approvals
func (h *ApprovalHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req CreateApprovalHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationDetails(err))
		return
	}

	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		response.Error(w, apierrors.NewValidationError("company_id", "invalid UUID format"))
		return
	}
	var teamID *uuid.UUID
	if req.TeamID != "" {
		id, err := uuid.Parse(req.TeamID)
		if err != nil {
			response.Error(w, apierrors.NewValidationError("team_id", "invalid UUID format"))
			return
		}
		teamID = &id
	}

	request, err := h.approvalService.CreateDraft(r.Context(), service.CreateRequestInput{
		CompanyID:        companyID,
		TeamID:           teamID,
		RequesterID:      principal.User.ID,
		RequestType:      req.RequestType,
		Title:            req.Title,
		Description:      req.Description,
		EstimatedCredits: req.EstimatedCredits,
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, request)
}

// Get handles GET /v1/approvals/{id}
func (h *ApprovalHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := requestParam(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	request, err := h.approvalService.Get(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, request)
}

// Events handles GET /v1/approvals/{id}/events
func (h *ApprovalHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, err := requestParam(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	events, err := h.approvalService.Events(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, events)
}

// Submit handles POST /v1/approvals/{id}/submit
func (h *ApprovalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := requestParam(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	request, err := h.approvalService.Submit(r.Context(), id, actorFrom(r))
	if err != nil {
		response.Error(w, err)
		return
	}
	middleware.RecordHold("placed")
	middleware.RecordApprovalTransition(string(request.Status))
	response.OK(w, request)
}

// Approve handles POST /v1/approvals/{id}/approve
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := requestParam(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	request, err := h.approvalService.Approve(r.Context(), id, actorFrom(r))
	if err != nil {
		response.Error(w, err)
		return
	}
	middleware.RecordApprovalTransition(string(request.Status))
	response.OK(w, request)
}

// DecisionHTTPRequest carries the reason accompanying a deny.
type DecisionHTTPRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// Deny handles POST /v1/approvals/{id}/deny
func (h *ApprovalHandler) Deny(w http.ResponseWriter, r *http.Request) {
	id, err := requestParam(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	var req DecisionHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationDetails(err))
		return
	}

	request, err := h.approvalService.Deny(r.Context(), id, actorFrom(r), req.Reason)
	if err != nil {
		response.Error(w, err)
		return
	}
	middleware.RecordHold("released")
	middleware.RecordApprovalTransition(string(request.Status))
	response.OK(w, request)
}

// Cancel handles POST /v1/approvals/{id}/cancel
func (h *ApprovalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := requestParam(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	request, err := h.approvalService.Cancel(r.Context(), id, actorFrom(r))
	if err != nil {
		response.Error(w, err)
		return
	}
	middleware.RecordApprovalTransition(string(request.Status))
	response.OK(w, request)
}

// FulfillHTTPRequest is the HTTP request body for fulfillment.
type FulfillHTTPRequest struct {
	ActualCredits int64  `json:"actual_credits" validate:"required,gt=0"`
	ReferenceType string `json:"reference_type" validate:"required,max=64"`
	ReferenceID   string `json:"reference_id" validate:"required,max=128"`
}

// Fulfill handles POST /v1/approvals/{id}/fulfill
func (h *ApprovalHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	id, err := requestParam(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	var req FulfillHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationDetails(err))
		return
	}

	request, err := h.approvalService.Fulfill(r.Context(), id, req.ActualCredits, req.ReferenceType, req.ReferenceID, actorFrom(r))
	if err != nil {
		response.Error(w, err)
		return
	}
	middleware.RecordHold("converted")
	middleware.RecordApprovalTransition(string(request.Status))
	response.OK(w, request)
}

// Escalate handles POST /v1/approvals/{id}/escalate
func (h *ApprovalHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	id, err := requestParam(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	request, err := h.approvalService.Escalate(r.Context(), id, actorFrom(r))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, request)
}

// CreateRuleHTTPRequest is the HTTP request body for a routing rule.
type CreateRuleHTTPRequest struct {
	CompanyID       string `json:"company_id" validate:"required,uuid"`
	MinCredits      int64  `json:"min_credits" validate:"min=0"`
	MaxCredits      int64  `json:"max_credits" validate:"required,gtefield=MinCredits"`
	Tier            string `json:"tier" validate:"required,oneof=auto approver admin"`
	EscalationHours *int   `json:"escalation_hours" validate:"omitempty,gt=0"`
	Priority        int    `json:"priority"`
}

// CreateRule handles POST /v1/approvals/rules
func (h *ApprovalHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationDetails(err))
		return
	}

	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		response.Error(w, apierrors.NewValidationError("company_id", "invalid UUID format"))
		return
	}

	rule := &models.ApprovalRule{
		CompanyID:       companyID,
		MinCredits:      req.MinCredits,
		MaxCredits:      req.MaxCredits,
		Tier:            models.ApproverTier(req.Tier),
		EscalationHours: req.EscalationHours,
		Priority:        req.Priority,
	}
	if err := h.approvalService.CreateRule(r.Context(), rule); err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, rule)
}

// ListRules handles GET /v1/approvals/rules/{companyID}
func (h *ApprovalHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	companyID, err := uuid.Parse(chi.URLParam(r, "companyID"))
	if err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid company ID"))
		return
	}
	rules, err := h.approvalService.ListRules(r.Context(), companyID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, rules)
}

// DeleteRule handles DELETE /v1/approvals/rules/{id}
func (h *ApprovalHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid rule ID"))
		return
	}
	if err := h.approvalService.DeleteRule(r.Context(), id); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}
