// users.go implements gateway account administration under /cfg/v1/users.
package cfgapi

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apigateway/apigateway/internal/auth"
	"github.com/apigateway/apigateway/internal/db/models"
	"github.com/apigateway/apigateway/internal/db/repositories"
	"github.com/apigateway/apigateway/internal/gwerrors"
	"github.com/apigateway/apigateway/internal/middleware"
)

// UserHandlers manages gateway user accounts and their role memberships.
type UserHandlers struct {
	userRepo *repositories.UserRepository
	rbacRepo *repositories.RBACRepository
}

// NewUserHandlers creates the user management handlers.
func NewUserHandlers(userRepo *repositories.UserRepository, rbacRepo *repositories.RBACRepository) *UserHandlers {
	return &UserHandlers{
		userRepo: userRepo,
		rbacRepo: rbacRepo,
	}
}

// userCreateRequest registers a gateway account with an optional initial
// role membership set.
type userCreateRequest struct {
	Username string           `json:"username" binding:"required"`
	Password string           `json:"password" binding:"required"`
	Roles    []models.RoleRef `json:"roles"`
}

// List returns every gateway account with its role memberships. Password
// hashes never serialize.
// GET /cfg/v1/users/
func (h *UserHandlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := h.userRepo.ListUsersWithRoles(c.Request.Context())
		if err != nil {
			gwerrors.Abort(c, gwerrors.Database("user list", err))
			return
		}
		c.JSON(http.StatusOK, users)
	}
}

// Register creates a gateway account and its initial membership edges.
// POST /cfg/v1/users/
func (h *UserHandlers) Register() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req userCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			gwerrors.Abort(c, gwerrors.BadRequest("username and password are required"))
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			gwerrors.Abort(c, gwerrors.Internal("unable to hash password", err))
			return
		}

		user := &models.User{Username: req.Username, PasswordHash: hash}
		if err := h.userRepo.CreateUser(c.Request.Context(), user); err != nil {
			gwerrors.Abort(c, gwerrors.Database("user create", err))
			return
		}

		roles, err := h.rbacRepo.ResolveRoleRefs(c.Request.Context(), req.Roles, nil)
		if err != nil {
			abortResolveError(c, err)
			return
		}
		if err := h.rbacRepo.ReconcileUserRoles(c.Request.Context(), user.ID, roles); err != nil {
			gwerrors.Abort(c, gwerrors.Database("user role grant", err))
			return
		}

		c.JSON(http.StatusCreated, models.UserWithRoles{User: *user, Roles: roles})
	}
}

// Current returns the calling token's own account. Registered before the
// /{user_id} route so "current" is never captured as an id.
// GET /cfg/v1/users/current
func (h *UserHandlers) Current() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := middleware.ClaimsFromContext(c)
		if !ok {
			gwerrors.Abort(c, gwerrors.Unauthorized("missing authentication"))
			return
		}
		h.respondWithUser(c, claims.SubjectID)
	}
}

// Detail returns one account by id.
// GET /cfg/v1/users/{user_id}
func (h *UserHandlers) Detail() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.respondWithUser(c, c.Param("user_id"))
	}
}

// Patch applies a partial account update. A patch carrying roles replaces
// the user's membership edges by reconciliation; changed memberships only
// reach tokens at the user's next login.
// PATCH /cfg/v1/users/{user_id}
func (h *UserHandlers) Patch() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")

		var patch models.UserPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			gwerrors.Abort(c, gwerrors.BadRequest("malformed user patch"))
			return
		}

		if patch.Username != nil {
			err := h.userRepo.UpdateUsername(c.Request.Context(), userID, *patch.Username)
			if errors.Is(err, sql.ErrNoRows) {
				gwerrors.Abort(c, gwerrors.NotFound("user", userID))
				return
			}
			if err != nil {
				gwerrors.Abort(c, gwerrors.Database("user update", err))
				return
			}
		}

		if patch.Roles != nil {
			roles, err := h.rbacRepo.ResolveRoleRefs(c.Request.Context(), patch.Roles, nil)
			if err != nil {
				abortResolveError(c, err)
				return
			}
			if err := h.rbacRepo.ReconcileUserRoles(c.Request.Context(), userID, roles); err != nil {
				gwerrors.Abort(c, gwerrors.Database("user role reconciliation", err))
				return
			}
		}

		h.respondWithUser(c, userID)
	}
}

func (h *UserHandlers) respondWithUser(c *gin.Context, userID string) {
	user, err := h.userRepo.GetUserWithRoles(c.Request.Context(), userID)
	if err != nil {
		gwerrors.Abort(c, gwerrors.Database("user lookup", err))
		return
	}
	if user == nil {
		gwerrors.Abort(c, gwerrors.NotFound("user", userID))
		return
	}
	c.JSON(http.StatusOK, user)
}
