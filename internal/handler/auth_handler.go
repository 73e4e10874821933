// Package handler provides HTTP handlers for the core API.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tenderhq/core/internal/middleware"
	apierrors "github.com/tenderhq/core/internal/pkg/errors"
	"github.com/tenderhq/core/internal/pkg/response"
	"github.com/tenderhq/core/internal/pkg/secrets"
	"github.com/tenderhq/core/internal/service"
)

// AuthHandler handles registration, login and session HTTP requests.
type AuthHandler struct {
	authService service.AuthService
	limiter     *middleware.RateLimiter
	sessionTTL  time.Duration
	visitorTTL  time.Duration
	secureCooky bool
	loginLimit  int
	signupLimit int
	validate    *validator.Validate
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService service.AuthService, limiter *middleware.RateLimiter, sessionTTL, visitorTTL time.Duration, secureCookies bool, loginLimit, signupLimit int) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		limiter:     limiter,
		sessionTTL:  sessionTTL,
		visitorTTL:  visitorTTL,
		secureCooky: secureCookies,
		loginLimit:  loginLimit,
		signupLimit: signupLimit,
		validate:    validator.New(),
	}
}

// Routes returns a chi router with auth routes.
func (h *AuthHandler) Routes(auth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.With(h.limiter.Limit("register", h.signupLimit)).Post("/register", h.Register)
	r.With(h.limiter.Limit("login", h.loginLimit)).Post("/login", h.Login)
	r.Post("/visitor", h.IssueVisitor)

	// Logout is deliberately not behind the CSRF check: a forged logout only
	// ends the session, and requiring the header would strand clients whose
	// CSRF cookie is already gone.
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/logout", h.Logout)
		r.Get("/session", h.Session)
	})

	return r
}

// RegisterHTTPRequest is the HTTP request body for registration.
type RegisterHTTPRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"display_name" validate:"max=80"`
	InviteCode  string `json:"invite_code" validate:"required"`
}

// Register handles POST /v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationDetails(err))
		return
	}

	result, err := h.authService.Register(r.Context(), service.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		InviteCode:  req.InviteCode,
		VisitorID:   middleware.GetVisitorID(r.Context()),
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	middleware.RecordRegistration()
	if err := h.setSessionCookies(w, result.Session.Token); err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, result)
}

// LoginHTTPRequest is the HTTP request body for login.
type LoginHTTPRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		// The generic credentials error, not field details: login failures
		// must not reveal which part was wrong.
		response.Error(w, apierrors.ErrInvalidCredentials)
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.RecordLogin("failure")
		response.Error(w, err)
		return
	}

	middleware.RecordLogin("success")
	if err := h.setSessionCookies(w, result.Session.Token); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, result)
}

// Logout handles POST /v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(middleware.SessionCookie); err == nil && c.Value != "" {
		if err := h.authService.Logout(r.Context(), c.Value); err != nil {
			response.Error(w, err)
			return
		}
	}
	h.clearSessionCookies(w)
	response.NoContent(w)
}

// Session handles GET /v1/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		response.Error(w, apierrors.ErrUnauthenticated)
		return
	}
	response.OK(w, principal)
}

// IssueVisitor handles POST /v1/auth/visitor
func (h *AuthHandler) IssueVisitor(w http.ResponseWriter, r *http.Request) {
	token, visitorID, err := h.authService.IssueVisitorToken()
	if err != nil {
		response.Error(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.VisitorCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.visitorTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCooky,
		SameSite: http.SameSiteLaxMode,
	})
	response.OK(w, map[string]string{"visitor_id": visitorID})
}

// setSessionCookies sets the HttpOnly session cookie and the readable CSRF
// cookie for the double-submit check.
func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, token string) error {
	csrf, err := secrets.NewCSRFToken()
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCooky,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CSRFCookie,
		Value:    csrf,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		Secure:   h.secureCooky,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (h *AuthHandler) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{middleware.SessionCookie, middleware.CSRFCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: name == middleware.SessionCookie,
			Secure:   h.secureCooky,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// validationDetails converts validator errors into the field-map error shape.
func validationDetails(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apierrors.ErrBadRequest
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return apierrors.NewValidationErrors(fields)
}
