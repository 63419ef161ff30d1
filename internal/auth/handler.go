package auth

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rvasek/authbridge/internal/httputil"
	"github.com/rvasek/authbridge/internal/logging"
	"github.com/rvasek/authbridge/internal/oauth"
	"github.com/rvasek/authbridge/internal/session"
	"github.com/rvasek/authbridge/internal/user"
)

const (
	stateCookieName = "oauth_state"
	stateCookieAge  = 600 // seconds
	errorRedirect   = "/auth/error"
)

// Handler contains HTTP handlers for authentication endpoints
type Handler struct {
	service      *Service
	google       *oauth.GoogleProvider
	rateLimiter  RateLimiter
	logger       *logging.Logger
	isProduction bool
}

func NewHandler(service *Service, google *oauth.GoogleProvider, rateLimiter RateLimiter, logger *logging.Logger, isProduction bool) *Handler {
	return &Handler{
		service:      service,
		google:       google,
		rateLimiter:  rateLimiter,
		logger:       logger,
		isProduction: isProduction,
	}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LinkAccountRequest represents the link-account form submission
type LinkAccountRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

// ResendVerificationRequest represents the resend verification email request
type ResendVerificationRequest struct {
	Email string `json:"email"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// UserResponse represents a user in API responses
type UserResponse struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
	Role  user.Role `json:"role"`
}

// RegisterResponse represents the registration response
type RegisterResponse struct {
	User    UserResponse `json:"user"`
	Message string       `json:"message"`
}

// SignInResponse represents a successful sign-in or link outcome
type SignInResponse struct {
	Success  bool   `json:"success"`
	Redirect string `json:"redirect"`
}

// Register handles user registration
// @Summary      Register a new user
// @Description  Create a new user account with email and password. A verification email will be sent.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RegisterRequest true "Registration data"
// @Success      201 {object} RegisterResponse
// @Failure      400 {object} ErrorResponse "Invalid request or validation error"
// @Failure      409 {object} ErrorResponse "Email already exists"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.limitExceeded(w, r, "register") {
		return
	}

	var req RegisterRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid registration request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	newUser, err := h.service.Register(r.Context(), RegisterInput{
		Name:                 req.Name,
		Email:                req.Email,
		Password:             req.Password,
		PasswordConfirmation: req.PasswordConfirmation,
	})
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			logger.Warn("registration failed: email already exists")
			respondError(w, "email already exists", httputil.CodeEmailAlreadyExists, http.StatusConflict)
			return
		}
		if code, ok := validationCode(err); ok {
			logger.Warn("registration failed: validation error", "error", err.Error())
			respondError(w, err.Error(), code, http.StatusBadRequest)
			return
		}
		logger.Error("registration failed: internal error", "error", err.Error())
		respondError(w, "failed to register user", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user registered successfully", "user_id", newUser.ID)

	respondJSON(w, RegisterResponse{
		User: UserResponse{
			ID:    newUser.ID,
			Email: newUser.Email,
			Name:  newUser.Name,
			Role:  newUser.Role,
		},
		Message: "Registration successful. Please check your email to verify your account.",
	}, http.StatusCreated)
}

// Login handles credential sign-in
// @Summary      User login
// @Description  Authenticate with email and password and receive a session cookie
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} SignInResponse
// @Failure      400 {object} ErrorResponse "Invalid request body"
// @Failure      401 {object} ErrorResponse "Invalid credentials"
// @Failure      403 {object} ErrorResponse "Email not verified"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.limitExceeded(w, r, "login") {
		return
	}

	var req LoginRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	result, err := h.service.SignIn(r.Context(), SignInInput{
		Provider: ProviderCredentials,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			logger.Warn("login failed: invalid credentials")
			respondError(w, "invalid email or password", httputil.CodeInvalidCredentials, http.StatusUnauthorized)
			return
		}
		if errors.Is(err, ErrEmailNotVerified) {
			logger.Warn("login failed: email not verified")
			respondError(w, "please verify your email before logging in", httputil.CodeEmailNotVerified, http.StatusForbidden)
			return
		}
		logger.Error("login failed: internal error", "error", err.Error())
		respondError(w, "failed to login", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user logged in successfully")

	session.SetCookie(w, result.Session.Token, result.Session.ExpiresAt, h.isProduction)
	respondJSON(w, SignInResponse{Success: true, Redirect: result.RedirectTo}, http.StatusOK)
}

// GoogleLogin initiates the Google OAuth flow
// @Summary      Start Google sign-in
// @Description  Redirects the browser to Google's consent screen
// @Tags         auth
// @Success      307
// @Router       /auth/google [get]
func (h *Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := oauth.GenerateState()
	if err != nil {
		respondError(w, "failed to start sign-in", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   stateCookieAge,
		HttpOnly: true,
		Secure:   h.isProduction,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback handles the Google OAuth callback. Outcomes are redirects:
// to the dashboard with a session cookie, to the link-account page on a
// collision, or to the error page.
// @Summary      Google OAuth callback
// @Tags         auth
// @Success      302
// @Router       /auth/google/callback [get]
func (h *Handler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())
	ctx := r.Context()

	clearStateCookie := func() {
		http.SetCookie(w, &http.Cookie{
			Name:     stateCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.isProduction,
			SameSite: http.SameSiteLaxMode,
		})
	}

	if errCode := r.URL.Query().Get("error"); errCode != "" {
		logger.Warn("google sign-in rejected by provider", "error", errCode)
		clearStateCookie()
		http.Redirect(w, r, errorRedirect, http.StatusFound)
		return
	}

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || r.URL.Query().Get("state") != stateCookie.Value {
		logger.Warn("google callback with missing or mismatched state")
		clearStateCookie()
		http.Redirect(w, r, errorRedirect, http.StatusFound)
		return
	}
	clearStateCookie()

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Redirect(w, r, errorRedirect, http.StatusFound)
		return
	}

	tokenResp, err := h.google.ExchangeCode(ctx, code)
	if err != nil {
		logger.Error("failed to exchange authorization code", "error", err.Error())
		http.Redirect(w, r, errorRedirect, http.StatusFound)
		return
	}

	googleUser, err := h.google.UserInfo(ctx, tokenResp.AccessToken)
	if err != nil {
		logger.Error("failed to get google user info", "error", err.Error())
		http.Redirect(w, r, errorRedirect, http.StatusFound)
		return
	}

	if googleUser.Email == "" || googleUser.ID == "" {
		logger.Warn("google assertion missing email or account id")
		http.Redirect(w, r, errorRedirect, http.StatusFound)
		return
	}

	var tokenExpiresAt *time.Time
	if tokenResp.ExpiresIn > 0 {
		t := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
		tokenExpiresAt = &t
	}

	result, err := h.service.SignIn(ctx, SignInInput{
		Provider: ProviderGoogle,
		Assertion: &ProviderAssertion{
			Email:             googleUser.Email,
			Name:              googleUser.Name,
			ProviderAccountID: googleUser.ID,
			Pending: PendingAccount{
				AccessToken:    tokenResp.AccessToken,
				RefreshToken:   tokenResp.RefreshToken,
				IDToken:        tokenResp.IDToken,
				TokenType:      tokenResp.TokenType,
				Scope:          tokenResp.Scope,
				TokenExpiresAt: tokenExpiresAt,
			},
		},
	})
	if err != nil {
		logger.Error("google sign-in failed", "error", err.Error())
		http.Redirect(w, r, errorRedirect, http.StatusFound)
		return
	}

	if result.LinkChallenge != nil {
		logger.Info("google sign-in requires account linking", "email", result.LinkChallenge.Email)
		http.Redirect(w, r, result.RedirectTo, http.StatusFound)
		return
	}

	session.SetCookie(w, result.Session.Token, result.Session.ExpiresAt, h.isProduction)
	http.Redirect(w, r, result.RedirectTo, http.StatusFound)
}

// LinkAccount completes a pending account link
// @Summary      Link an OAuth account
// @Description  Prove ownership of the existing credential account with the original password and the link token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body LinkAccountRequest true "Link form submission"
// @Success      200 {object} SignInResponse
// @Failure      400 {object} ErrorResponse "Invalid or expired token, or missing account data"
// @Failure      401 {object} ErrorResponse "Invalid password"
// @Failure      404 {object} ErrorResponse "Account not found"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /auth/link-account [post]
func (h *Handler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.limitExceeded(w, r, "link") {
		return
	}

	var req LinkAccountRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid link-account request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	result, err := h.service.CompleteLink(r.Context(), req.Email, req.Password, req.Token)
	if err != nil {
		switch {
		case errors.Is(err, ErrLinkTokenInvalid):
			logger.Warn("link failed: invalid or expired token")
			respondError(w, "invalid or expired token", httputil.CodeInvalidLinkToken, http.StatusBadRequest)
		case errors.Is(err, ErrLinkAccountNotFound):
			logger.Warn("link failed: account not found")
			respondError(w, "account not found", httputil.CodeAccountNotFound, http.StatusNotFound)
		case errors.Is(err, ErrLinkPasswordInvalid):
			logger.Warn("link failed: invalid password")
			respondError(w, "invalid password", httputil.CodeInvalidPassword, http.StatusUnauthorized)
		case errors.Is(err, ErrLinkMissingAccountData):
			logger.Warn("link failed: missing account data")
			respondError(w, "missing account data", httputil.CodeMissingAccountData, http.StatusBadRequest)
		default:
			logger.Error("link failed: internal error", "error", err.Error())
			respondError(w, "something went wrong", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("account linked successfully", "user_id", result.UserID)

	respondJSON(w, SignInResponse{Success: true, Redirect: result.RedirectTo}, http.StatusOK)
}

// VerifyEmail handles email verification links
// @Summary      Verify email address
// @Tags         auth
// @Produce      json
// @Param        token query string true "Verification token"
// @Success      200 {object} map[string]string
// @Failure      400 {object} ErrorResponse "Invalid or expired token"
// @Router       /auth/verify-email [get]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	tokenValue := r.URL.Query().Get("token")
	if tokenValue == "" {
		respondError(w, "verification token required", httputil.CodeInvalidVerificationToken, http.StatusBadRequest)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), tokenValue); err != nil {
		if errors.Is(err, ErrVerificationTokenInvalid) {
			logger.Warn("email verification failed: invalid token")
			respondError(w, "invalid or expired verification token", httputil.CodeInvalidVerificationToken, http.StatusBadRequest)
			return
		}
		logger.Error("email verification failed: internal error", "error", err.Error())
		respondError(w, "failed to verify email", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]string{"message": "email verified successfully"}, http.StatusOK)
}

// ResendVerificationEmail handles verification email resend requests
// @Summary      Resend verification email
// @Description  Always responds 202 so the endpoint can't be used to probe for accounts
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResendVerificationRequest true "Email address"
// @Success      202 {object} map[string]string
// @Router       /auth/resend-verification [post]
func (h *Handler) ResendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.limitExceeded(w, r, "resend") {
		return
	}

	var req ResendVerificationRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := h.service.ResendVerificationEmail(r.Context(), req.Email); err != nil {
		logger.Error("resend verification failed", "error", err.Error())
	}

	respondJSON(w, map[string]string{
		"message": "if the account exists, a verification email has been sent",
	}, http.StatusAccepted)
}

// Logout revokes the session and clears the cookie
// @Summary      Log out
// @Tags         auth
// @Produce      json
// @Success      200 {object} map[string]string
// @Router       /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if token, ok := session.TokenFromRequest(r); ok {
		if err := h.service.SignOut(r.Context(), token); err != nil {
			// Revocation failure doesn't block logout; the cookie is
			// cleared either way and the session expires on its own.
			logger.Warn("failed to revoke session", "error", err.Error())
		}
	}

	session.ClearCookie(w, h.isProduction)
	respondJSON(w, map[string]string{"message": "logged out successfully"}, http.StatusOK)
}

// Me returns the authenticated user
// @Summary      Current user
// @Tags         auth
// @Produce      json
// @Success      200 {object} UserResponse
// @Failure      401 {object} ErrorResponse "Unauthorized"
// @Router       /auth/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := GetUserFromContext(r.Context())
	if !ok {
		respondError(w, "authentication required", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	respondJSON(w, UserResponse{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role,
	}, http.StatusOK)
}

// limitExceeded applies the per-IP rate limit for a purpose and writes the
// 429 itself when the limit is hit.
func (h *Handler) limitExceeded(w http.ResponseWriter, r *http.Request, purpose string) bool {
	logger := logging.GetLoggerFromContext(r.Context())
	ip := getClientIP(r)

	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, purpose)
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
		return false
	}
	if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip, "purpose", purpose)
		respondError(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return true
	}

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, purpose); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}
	return false
}

// validationCode maps registration validation errors to response codes.
func validationCode(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrEmailRequired):
		return httputil.CodeEmailRequired, true
	case errors.Is(err, ErrInvalidEmailFormat):
		return httputil.CodeInvalidEmailFormat, true
	case errors.Is(err, ErrPasswordRequired):
		return httputil.CodePasswordRequired, true
	case errors.Is(err, ErrPasswordTooShort):
		return httputil.CodePasswordTooShort, true
	case errors.Is(err, ErrPasswordMismatch):
		return httputil.CodePasswordMismatch, true
	}
	return "", false
}

// getClientIP returns the request's client address; chi's RealIP middleware
// has already folded X-Forwarded-For into RemoteAddr.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func respondJSON(w http.ResponseWriter, data any, statusCode int) {
	httputil.RespondJSON(w, data, statusCode)
}

func respondError(w http.ResponseWriter, message, code string, statusCode int) {
	httputil.RespondErrorWithCode(w, message, code, statusCode)
}
