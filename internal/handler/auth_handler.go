package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mirelle-dev/authgate-api/internal/middleware"
	"github.com/mirelle-dev/authgate-api/internal/models"
	"github.com/mirelle-dev/authgate-api/internal/service"
	appErrors "github.com/mirelle-dev/authgate-api/pkg/errors"
	"github.com/mirelle-dev/authgate-api/pkg/response"
)

// SessionIDCookie carries the long-lived session identifier. The raw refresh
// secret deliberately travels in the body instead: stealing the cookies alone
// is not enough to rotate a session.
const SessionIDCookie = "session_id"

// CookieSettings controls the attributes of both auth cookies.
type CookieSettings struct {
	Domain        string
	Secure        bool
	AccessMaxAge  time.Duration
	SessionMaxAge time.Duration
}

// AuthHandler wires the auth endpoints to the services and owns the cookie
// contract.
type AuthHandler struct {
	auth     *service.AuthService
	sessions *service.SessionService
	users    *service.UserService
	cookies  CookieSettings
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(auth *service.AuthService, sessions *service.SessionService, users *service.UserService, cookies CookieSettings) *AuthHandler {
	return &AuthHandler{auth: auth, sessions: sessions, users: users, cookies: cookies}
}

// Register godoc
// @Summary Register user
// @Description Create an account and issue an authenticated session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	fp := service.ExtractFingerprint(c.Request)
	res, err := h.auth.Register(c.Request.Context(), req, fp)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setAuthCookies(c, res.AccessToken, res.SessionID)
	response.JSON(c, http.StatusCreated, res)
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate by email and password and issue a session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}

	fp := service.ExtractFingerprint(c.Request)
	res, err := h.auth.Login(c.Request.Context(), req, fp)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setAuthCookies(c, res.AccessToken, res.SessionID)
	response.JSON(c, http.StatusOK, res)
}

// Refresh godoc
// @Summary Rotate session
// @Description Exchange the session cookie and raw refresh secret for fresh credentials
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshRequest true "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	sessionID, _ := c.Cookie(SessionIDCookie)

	// A missing or malformed body is just a missing secret; it feeds the
	// same uniform rejection as every other refresh failure.
	var req models.RefreshRequest
	_ = c.ShouldBindJSON(&req)

	fp := service.ExtractFingerprint(c.Request)
	issued, err := h.sessions.Rotate(c.Request.Context(), sessionID, req.RefreshToken, fp)
	if err != nil {
		var rejection *service.RotationRejectedError
		if errors.As(err, &rejection) {
			h.clearAuthCookies(c)
			response.Error(c, appErrors.ErrRefreshRejected)
			return
		}
		response.Error(c, err)
		return
	}

	h.setAuthCookies(c, issued.AccessToken, issued.Session.ID)
	response.JSON(c, http.StatusOK, models.RefreshResponse{
		AccessToken:  issued.AccessToken,
		RefreshToken: issued.RawSecret,
		SessionID:    issued.Session.ID,
		ExpiresIn:    int64(time.Until(issued.ExpiresAt).Seconds()),
		IssuedAt:     time.Now().UTC(),
	})
}

// Logout godoc
// @Summary Logout current session
// @Description Delete the session row, denylist the access token, clear cookies
// @Tags Authentication
// @Produce json
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	sessionID, _ := c.Cookie(SessionIDCookie)
	fp := service.ExtractFingerprint(c.Request)

	h.sessions.Revoke(c.Request.Context(), sessionID)
	h.auth.Logout(c.Request.Context(), claims, sessionID, fp)

	// Cookies are cleared even when no server-side row existed.
	h.clearAuthCookies(c)
	response.NoContent(c)
}

// ChangePassword godoc
// @Summary Change password
// @Description Change the password and revoke all outstanding sessions
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ChangePasswordRequest true "Change password payload"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.auth.ChangePassword(c.Request.Context(), claims.UserID, req); err != nil {
		response.Error(c, err)
		return
	}

	h.clearAuthCookies(c)
	response.NoContent(c)
}

// Me godoc
// @Summary Get current user
// @Description Returns the authenticated user's info
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.users.Get(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, models.UserInfo{
		ID:       user.ID,
		Email:    user.Email,
		Username: user.Username,
		Role:     user.Role,
	})
}

func (h *AuthHandler) setAuthCookies(c *gin.Context, accessToken, sessionID string) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(middleware.AccessTokenCookie, accessToken, int(h.cookies.AccessMaxAge.Seconds()), "/", h.cookies.Domain, h.cookies.Secure, true)
	c.SetCookie(SessionIDCookie, sessionID, int(h.cookies.SessionMaxAge.Seconds()), "/", h.cookies.Domain, h.cookies.Secure, true)
}

func (h *AuthHandler) clearAuthCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(middleware.AccessTokenCookie, "", -1, "/", h.cookies.Domain, h.cookies.Secure, true)
	c.SetCookie(SessionIDCookie, "", -1, "/", h.cookies.Domain, h.cookies.Secure, true)
}
