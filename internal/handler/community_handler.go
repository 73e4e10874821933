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

// CommunityHandler handles votes, badges and reputation HTTP requests.
type CommunityHandler struct {
	reputationService service.ReputationService
	validate          *validator.Validate
}

// NewCommunityHandler creates a new community handler.
func NewCommunityHandler(reputationService service.ReputationService) *CommunityHandler {
	return &CommunityHandler{
		reputationService: reputationService,
		validate:          validator.New(),
	}
}

// Routes returns a chi router with community routes.
func (h *CommunityHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/badges", h.Badges)
	r.Get("/users/{userID}/badges", h.UserBadges)
	r.Get("/users/{userID}/stats", h.Stats)
	r.Post("/votes", h.Vote)

	return r
}

// Badges handles GET /v1/community/badges
func (h *CommunityHandler) Badges(w http.ResponseWriter, r *http.Request) {
	badges, err := h.reputationService.Badges(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, badges)
}

func userParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		return uuid.Nil, apierrors.ErrBadRequest.WithMessage("Invalid user ID")
	}
	return id, nil
}

// UserBadges handles GET /v1/community/users/{userID}/badges
func (h *CommunityHandler) UserBadges(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	awards, err := h.reputationService.UserBadges(r.Context(), userID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, awards)
}

// Stats handles GET /v1/community/users/{userID}/stats
func (h *CommunityHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	stats, err := h.reputationService.Stats(r.Context(), userID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, stats)
}

// VoteHTTPRequest is the HTTP request body for casting a vote.
type VoteHTTPRequest struct {
	TargetType string `json:"target_type" validate:"required,oneof=question answer"`
	TargetID   string `json:"target_id" validate:"required,uuid"`
	AuthorID   string `json:"author_id" validate:"required,uuid"`
	Value      int    `json:"value" validate:"required,oneof=1 -1"`
}

// Vote handles POST /v1/community/votes
func (h *CommunityHandler) Vote(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req VoteHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationDetails(err))
		return
	}

	// Voting is reputation-gated: the resolver already folded the thresholds
	// into the capability record.
	if req.Value > 0 && !principal.Permissions.CanUpvote {
		response.Error(w, apierrors.ErrUnauthorized)
		return
	}
	if req.Value < 0 && !principal.Permissions.CanDownvote {
		response.Error(w, apierrors.ErrUnauthorized)
		return
	}

	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		response.Error(w, apierrors.NewValidationError("target_id", "invalid UUID format"))
		return
	}
	authorID, err := uuid.Parse(req.AuthorID)
	if err != nil {
		response.Error(w, apierrors.NewValidationError("author_id", "invalid UUID format"))
		return
	}

	vote := &models.Vote{
		UserID:     principal.User.ID,
		TargetType: models.VoteTarget(req.TargetType),
		TargetID:   targetID,
		Value:      req.Value,
	}
	recorded, err := h.reputationService.RecordVote(r.Context(), vote, authorID)
	if err != nil {
		response.Error(w, err)
		return
	}

	response.OK(w, map[string]bool{"recorded": recorded})
}
