package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
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

// CreditHandler handles credit account and ledger HTTP requests.
type CreditHandler struct {
	ledgerService service.LedgerService
	validate      *validator.Validate
}

// NewCreditHandler creates a new credit handler.
func NewCreditHandler(ledgerService service.LedgerService) *CreditHandler {
	return &CreditHandler{
		ledgerService: ledgerService,
		validate:      validator.New(),
	}
}

// Routes returns a chi router with credit routes. All routes require a
// session; mutations additionally require the admin role.
func (h *CreditHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{accountID}/balance", h.Balance)
	r.Get("/{accountID}/entries", h.Entries)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(models.RoleAdmin))
		r.Post("/", h.Provision)
		r.Post("/{accountID}/debit", h.Debit)
		r.Post("/{accountID}/credit", h.Credit)
	})

	return r
}

// accountParam parses the account ID path parameter.
func accountParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		return uuid.Nil, apierrors.ErrBadRequest.WithMessage("Invalid account ID")
	}
	return id, nil
}

// Balance handles GET /v1/credits/{accountID}/balance
func (h *CreditHandler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountParam(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	snap, err := h.ledgerService.Balance(r.Context(), accountID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, snap)
}

// Entries handles GET /v1/credits/{accountID}/entries
func (h *CreditHandler) Entries(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountParam(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.ledgerService.ListEntries(r.Context(), accountID, limit)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, entries)
}

// ProvisionHTTPRequest is the HTTP request body for provisioning an account.
type ProvisionHTTPRequest struct {
	CompanyID string `json:"company_id" validate:"required,uuid"`
	Tier      string `json:"tier" validate:"required,oneof=starter team enterprise"`
}

// Provision handles POST /v1/credits
func (h *CreditHandler) Provision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionHTTPRequest
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

	account, err := h.ledgerService.ProvisionAccount(r.Context(), companyID, models.SubscriptionTier(req.Tier), time.Now().UTC())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, account)
}

// LedgerMutationHTTPRequest is the HTTP request body for manual ledger
// adjustments.
type LedgerMutationHTTPRequest struct {
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	Type           string `json:"type" validate:"required,oneof=allocation spend refund adjustment"`
	ReferenceType  string `json:"reference_type"`
	ReferenceID    string `json:"reference_id"`
	Description    string `json:"description" validate:"max=500"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=128"`
}

// Debit handles POST /v1/credits/{accountID}/debit
func (h *CreditHandler) Debit(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, models.DirectionDebit)
}

// Credit handles POST /v1/credits/{accountID}/credit
func (h *CreditHandler) Credit(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, models.DirectionCredit)
}

func (h *CreditHandler) mutate(w http.ResponseWriter, r *http.Request, direction models.EntryDirection) {
	principal := middleware.GetPrincipal(r.Context())
	accountID, err := accountParam(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	var req LedgerMutationHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationDetails(err))
		return
	}

	in := service.EntryInput{
		AccountID:      accountID,
		Amount:         req.Amount,
		Type:           models.TransactionType(req.Type),
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		ActorID:        principal.User.ID,
	}

	var entryID uuid.UUID
	if direction == models.DirectionDebit {
		entryID, err = h.ledgerService.DirectDebit(r.Context(), in)
	} else {
		entryID, err = h.ledgerService.Credit(r.Context(), in)
	}
	if err != nil {
		response.Error(w, err)
		return
	}

	middleware.RecordLedgerEntry(string(direction))
	response.Created(w, map[string]uuid.UUID{"entry_id": entryID})
}
