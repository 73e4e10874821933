package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tenderhq/core/internal/middleware"
	"github.com/tenderhq/core/internal/models"
	apierrors "github.com/tenderhq/core/internal/pkg/errors"
	"github.com/tenderhq/core/internal/pkg/response"
	"github.com/tenderhq/core/internal/service"
)

// InviteHandler handles invite HTTP requests.
type InviteHandler struct {
	inviteService service.InviteService
	validate      *validator.Validate
}

// NewInviteHandler creates a new invite handler.
func NewInviteHandler(inviteService service.InviteService) *InviteHandler {
	return &InviteHandler{
		inviteService: inviteService,
		validate:      validator.New(),
	}
}

// Routes returns a chi router with invite routes. The code preview endpoint
// is public; issuing and listing require a session.
func (h *InviteHandler) Routes(auth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/{code}", h.Preview)

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(middleware.CSRF)
		r.Post("/", h.Create)
		r.Get("/", h.List)
	})

	return r
}

// CreateInviteHTTPRequest is the HTTP request body for issuing an invite.
type CreateInviteHTTPRequest struct {
	Type      string         `json:"type" validate:"required,oneof=direct link company"`
	Email     string         `json:"email" validate:"omitempty,email"`
	CompanyID string         `json:"company_id" validate:"omitempty,uuid"`
	MaxUses   int            `json:"max_uses" validate:"omitempty,min=1,max=1000"`
	ExpiresAt *time.Time     `json:"expires_at"`
	Metadata  map[string]any `json:"metadata"`
}

// Create handles POST /v1/invites
func (h *InviteHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if !principal.Permissions.CanInvite {
		response.Error(w, apierrors.ErrUnauthorized)
		return
	}

	var req CreateInviteHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationDetails(err))
		return
	}

	var companyID *uuid.UUID
	if req.CompanyID != "" {
		id, err := uuid.Parse(req.CompanyID)
		if err != nil {
			response.Error(w, apierrors.NewValidationError("company_id", "invalid UUID format"))
			return
		}
		companyID = &id
	}

	invite, err := h.inviteService.Create(r.Context(), principal.User.ID, service.CreateInviteInput{
		Type:      models.InviteType(req.Type),
		Email:     req.Email,
		CompanyID: companyID,
		MaxUses:   req.MaxUses,
		ExpiresAt: req.ExpiresAt,
		Metadata:  req.Metadata,
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	response.Created(w, invite)
}

// List handles GET /v1/invites
func (h *InviteHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	invites, err := h.inviteService.ListByInviter(r.Context(), principal.User.ID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, invites)
}

// InvitePreviewResponse carries the usability verdict for a code without
// exposing inviter details.
type InvitePreviewResponse struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Usable  bool   `json:"usable"`
	Reason  string `json:"reason,omitempty"`
	Company bool   `json:"joins_company"`
}

// Preview handles GET /v1/invites/{code}: a pre-registration check that a
// code is worth typing a password for.
func (h *InviteHandler) Preview(w http.ResponseWriter, r *http.Request) {
	code := service.NormalizeCode(chi.URLParam(r, "code"))
	if !service.IsValidCodeFormat(code) {
		response.Error(w, apierrors.ErrInviteInvalid)
		return
	}

	invite, err := h.inviteService.GetByCode(r.Context(), code)
	if err != nil {
		response.Error(w, err)
		return
	}
	if invite == nil {
		response.Error(w, apierrors.ErrInviteInvalid)
		return
	}

	resp := InvitePreviewResponse{
		Code:    invite.Code,
		Type:    string(invite.Type),
		Usable:  true,
		Company: invite.Type == models.InviteTypeCompany,
	}
	// The preview has no email yet, so email restrictions are not a failure
	// here; they surface at registration.
	if err := h.inviteService.CanUse(invite, ""); err != nil &&
		!errors.Is(err, service.ErrInviteEmailRequired) {
		resp.Usable = false
		resp.Reason = err.Error()
	}
	response.OK(w, resp)
}
