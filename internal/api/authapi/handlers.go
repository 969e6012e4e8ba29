// Package authapi implements the /auth/v1 surface: login, authenticated
// password change, and the two-step password reset flow.
package authapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apigateway/apigateway/internal/auth"
	"github.com/apigateway/apigateway/internal/db/repositories"
	"github.com/apigateway/apigateway/internal/gwerrors"
	"github.com/apigateway/apigateway/internal/middleware"
	"github.com/apigateway/apigateway/internal/telemetry"
)

// Handlers holds the repositories the auth endpoints operate on.
type Handlers struct {
	userRepo  *repositories.UserRepository
	resetRepo *repositories.ResetRepository
}

// NewHandlers creates the auth endpoint handlers.
func NewHandlers(userRepo *repositories.UserRepository, resetRepo *repositories.ResetRepository) *Handlers {
	return &Handlers{
		userRepo:  userRepo,
		resetRepo: resetRepo,
	}
}

// loginRequest is the credential pair accepted by Login and ResetPassword.
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// setPasswordRequest carries an authenticated password change.
type setPasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	Password    string `json:"password" binding:"required"`
}

// resetRequestBody names the account asking for a password reset.
type resetRequestBody struct {
	Username string `json:"username" binding:"required"`
}

// Login authenticates a username/password pair and issues a bearer token
// whose audience snapshots the user's current role memberships.
// POST /auth/v1/login
func (h *Handlers) Login() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			gwerrors.Abort(c, gwerrors.BadRequest("username and password are required"))
			return
		}

		user, err := h.userRepo.GetUserWithRolesByUsername(c.Request.Context(), req.Username)
		if err != nil {
			gwerrors.Abort(c, gwerrors.Database("user lookup", err))
			return
		}

		// Unknown user, missing hash, and wrong password are indistinguishable.
		if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
			telemetry.LoginAttemptsTotal.WithLabelValues("failure").Inc()
			gwerrors.Abort(c, gwerrors.InvalidCredentials())
			return
		}

		token, err := auth.GenerateJWT(user.ID, user.Username, user.QualifiedRoles())
		if err != nil {
			gwerrors.Abort(c, gwerrors.Internal("unable to encode auth token", err))
			return
		}

		// Login time is informational; a failed stamp must not void the token.
		if err := h.userRepo.SetLastLogin(c.Request.Context(), user.ID); err != nil {
			slog.Warn("failed to record last login", "username", user.Username, "error", err)
		}

		telemetry.LoginAttemptsTotal.WithLabelValues("success").Inc()
		c.String(http.StatusOK, token)
	}
}

// SetPassword changes the caller's own password after re-verifying the old
// one. Any valid token may call this; the subject comes from the claims, not
// the request body.
// PATCH /auth/v1/set-password
func (h *Handlers) SetPassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := middleware.ClaimsFromContext(c)
		if !ok {
			gwerrors.Abort(c, gwerrors.Unauthorized("missing authentication"))
			return
		}

		var req setPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			gwerrors.Abort(c, gwerrors.BadRequest("old_password and password are required"))
			return
		}

		user, err := h.userRepo.GetUserByID(c.Request.Context(), claims.SubjectID)
		if err != nil {
			gwerrors.Abort(c, gwerrors.Database("user lookup", err))
			return
		}
		if user == nil || !auth.CheckPassword(user.PasswordHash, req.OldPassword) {
			gwerrors.Abort(c, gwerrors.InvalidCredentials())
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			gwerrors.Abort(c, gwerrors.Internal("unable to hash password", err))
			return
		}
		if err := h.userRepo.SetPassword(c.Request.Context(), user.ID, hash); err != nil {
			gwerrors.Abort(c, gwerrors.Database("password update", err))
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// RequestPasswordReset opens a one-time reset request for a username. The
// response is identical whether or not the username exists.
// POST /auth/v1/request-password-reset
func (h *Handlers) RequestPasswordReset() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resetRequestBody
		if err := c.ShouldBindJSON(&req); err != nil {
			gwerrors.Abort(c, gwerrors.BadRequest("username is required"))
			return
		}

		user, err := h.userRepo.GetUserByUsername(c.Request.Context(), req.Username)
		if err != nil {
			slog.Error("password reset user lookup failed", "error", err)
		} else if user != nil {
			if _, err := h.resetRepo.CreateResetRequest(c.Request.Context(), user.ID); err != nil {
				slog.Error("failed to create password reset request", "error", err)
			}
		}

		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "If a user exists with the username " + req.Username +
				", they will receive a message to reset their password through the appropriate channel.",
		})
	}
}

// ResetPassword redeems a reset request: the new password is stored, the
// reset timestamp stamped, and the request marked used, all in one shot.
// Every failure mode renders the same bad-request message so the endpoint
// cannot be used to probe request ids or usernames.
// PATCH /auth/v1/reset-password/{request_id}
func (h *Handlers) ResetPassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.Param("request_id")

		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			gwerrors.Abort(c, gwerrors.BadRequest("username and password are required"))
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			gwerrors.Abort(c, gwerrors.Internal("unable to hash password", err))
			return
		}

		err = h.resetRepo.RedeemResetRequest(c.Request.Context(), requestID, req.Username, hash)
		switch {
		case err == nil:
			c.Status(http.StatusNoContent)
		case errors.Is(err, repositories.ErrResetNotFound),
			errors.Is(err, repositories.ErrResetNotRedeemable),
			errors.Is(err, repositories.ErrResetUserMismatch):
			gwerrors.Abort(c, gwerrors.BadRequest("invalid or expired password reset request"))
		default:
			gwerrors.Abort(c, gwerrors.Database("password reset", err))
		}
	}
}
