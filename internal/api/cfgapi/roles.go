// roles.go implements role administration under /cfg/v1/api-roles.
package cfgapi

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	"github.com/apigateway/apigateway/internal/db/models"
	"github.com/apigateway/apigateway/internal/db/repositories"
	"github.com/apigateway/apigateway/internal/gwerrors"
)

// uniqueViolation is the Postgres error code raised when an insert collides
// with a unique index, here the one on roles (namespace, name).
const uniqueViolation = "23505"

// RoleHandlers manages the namespaced roles of the authorization graph.
type RoleHandlers struct {
	roleRepo *repositories.RoleRepository
}

// NewRoleHandlers creates the role management handlers.
func NewRoleHandlers(roleRepo *repositories.RoleRepository) *RoleHandlers {
	return &RoleHandlers{roleRepo: roleRepo}
}

// roleRequest names a role for creation or rename.
type roleRequest struct {
	Namespace string `json:"namespace" binding:"required"`
	Name      string `json:"name" binding:"required"`
}

// List returns all roles ordered by namespace then name.
// GET /cfg/v1/api-roles/
func (h *RoleHandlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, err := h.roleRepo.ListRoles(c.Request.Context())
		if err != nil {
			gwerrors.Abort(c, gwerrors.Database("role list", err))
			return
		}
		c.JSON(http.StatusOK, roles)
	}
}

// Create adds a role. Duplicate (namespace, name) pairs fail on the unique
// index rather than silently duplicating.
// POST /cfg/v1/api-roles/
func (h *RoleHandlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req roleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			gwerrors.Abort(c, gwerrors.BadRequest("namespace and name are required"))
			return
		}

		role := &models.Role{Namespace: req.Namespace, Name: req.Name}
		if err := h.roleRepo.CreateRole(c.Request.Context(), role); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
				gwerrors.Abort(c, gwerrors.BadRequest("role "+role.Qualified()+" already exists"))
				return
			}
			gwerrors.Abort(c, gwerrors.Database("role create", err))
			return
		}
		c.JSON(http.StatusCreated, role)
	}
}

// Update renames a role in place. The id is stable, so existing
// authorization and membership edges follow the rename with no churn.
// PUT /cfg/v1/api-roles/{role_id}
func (h *RoleHandlers) Update() gin.HandlerFunc {
	return func(c *gin.Context) {
		roleID := c.Param("role_id")

		var req roleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			gwerrors.Abort(c, gwerrors.BadRequest("namespace and name are required"))
			return
		}

		role, err := h.roleRepo.RenameRole(c.Request.Context(), roleID, req.Namespace, req.Name)
		if errors.Is(err, sql.ErrNoRows) {
			gwerrors.Abort(c, gwerrors.NotFound("role", roleID))
			return
		}
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
				gwerrors.Abort(c, gwerrors.BadRequest("role "+req.Namespace+models.RoleNamespaceDelimiter+req.Name+" already exists"))
				return
			}
			gwerrors.Abort(c, gwerrors.Database("role update", err))
			return
		}
		c.JSON(http.StatusOK, role)
	}
}

// Delete removes a role. Its authorization and membership edges cascade with
// the row; issued tokens still carrying the role expire on their own.
// DELETE /cfg/v1/api-roles/{role_id}
func (h *RoleHandlers) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		roleID := c.Param("role_id")

		err := h.roleRepo.DeleteRole(c.Request.Context(), roleID)
		if errors.Is(err, sql.ErrNoRows) {
			gwerrors.Abort(c, gwerrors.NotFound("role", roleID))
			return
		}
		if err != nil {
			gwerrors.Abort(c, gwerrors.Database("role delete", err))
			return
		}
		c.Status(http.StatusNoContent)
	}
}
