// Package cfgapi implements the /cfg/v1 management surface: API service
// registration, role administration, and gateway user accounts. Every route
// sits behind the auth middleware plus a scope guard; the handlers here only
// see requests whose token already carries an adequate gateway scope.
package cfgapi

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apigateway/apigateway/internal/db/models"
	"github.com/apigateway/apigateway/internal/db/repositories"
	"github.com/apigateway/apigateway/internal/gwerrors"
)

// ServiceHandlers manages registered backend services and their
// authorization edges.
type ServiceHandlers struct {
	serviceRepo *repositories.ServiceRepository
	rbacRepo    *repositories.RBACRepository
}

// NewServiceHandlers creates the service management handlers.
func NewServiceHandlers(serviceRepo *repositories.ServiceRepository, rbacRepo *repositories.RBACRepository) *ServiceHandlers {
	return &ServiceHandlers{
		serviceRepo: serviceRepo,
		rbacRepo:    rbacRepo,
	}
}

// abortResolveError maps role resolution failures: a dangling by-id
// reference or an incomplete one is the caller's mistake, anything else is a
// storage fault.
func abortResolveError(c *gin.Context, err error) {
	if errors.Is(err, repositories.ErrRoleRefNotFound) || errors.Is(err, repositories.ErrRoleRefInvalid) {
		gwerrors.Abort(c, gwerrors.BadRequest(err.Error()))
		return
	}
	gwerrors.Abort(c, gwerrors.Database("role resolution", err))
}

// serviceCreateRequest registers a backend service. Roles may be referenced
// by id or by (namespace, name); RoleNamespaces expands to namespace-member
// wildcard roles.
type serviceCreateRequest struct {
	APIName        string           `json:"api_name" binding:"required"`
	Version        string           `json:"version" binding:"required"`
	ForwardURL     string           `json:"forward_url" binding:"required"`
	Active         *bool            `json:"active"`
	Environment    string           `json:"environment"`
	Roles          []models.RoleRef `json:"roles"`
	RoleNamespaces []string         `json:"role_namespaces"`
}

// List returns every registered service with its full authorized-role set.
// GET /cfg/v1/api-services/
func (h *ServiceHandlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		services, err := h.serviceRepo.ListServicesWithRoles(c.Request.Context())
		if err != nil {
			gwerrors.Abort(c, gwerrors.Database("service list", err))
			return
		}
		c.JSON(http.StatusOK, services)
	}
}

// Detail looks up one service by its (api_name, version) pair.
// GET /cfg/v1/api-services/{api_name}/{version}
func (h *ServiceHandlers) Detail() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiName := c.Param("api_name")
		version := c.Param("version")

		service, err := h.serviceRepo.GetActiveServiceWithRoles(c.Request.Context(), apiName, version)
		if err != nil {
			gwerrors.Abort(c, gwerrors.Database("service lookup", err))
			return
		}
		if service == nil {
			gwerrors.Abort(c, gwerrors.NotFound("service", apiName+"/"+version))
			return
		}
		c.JSON(http.StatusOK, service)
	}
}

// Create registers a new backend service and grants its initial role set.
// POST /cfg/v1/api-services/
func (h *ServiceHandlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req serviceCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			gwerrors.Abort(c, gwerrors.BadRequest("api_name, version and forward_url are required"))
			return
		}

		service := &models.Service{
			APIName:     req.APIName,
			Version:     req.Version,
			ForwardURL:  req.ForwardURL,
			Active:      req.Active == nil || *req.Active,
			Environment: req.Environment,
		}
		if err := h.serviceRepo.CreateService(c.Request.Context(), service); err != nil {
			gwerrors.Abort(c, gwerrors.Database("service create", err))
			return
		}

		roles, err := h.rbacRepo.ResolveRoleRefs(c.Request.Context(), req.Roles, req.RoleNamespaces)
		if err != nil {
			abortResolveError(c, err)
			return
		}
		if err := h.rbacRepo.ReconcileServiceRoles(c.Request.Context(), service.ID, roles); err != nil {
			gwerrors.Abort(c, gwerrors.Database("service role grant", err))
			return
		}

		c.JSON(http.StatusCreated, models.ServiceWithRoles{Service: *service, Roles: roles})
	}
}

// Patch applies a partial update. A patch carrying roles or role_namespaces
// replaces the service's authorization edges by symmetric-difference
// reconciliation; a patch without them leaves the edge set alone.
// PATCH /cfg/v1/api-services/{service_id}
func (h *ServiceHandlers) Patch() gin.HandlerFunc {
	return func(c *gin.Context) {
		serviceID := c.Param("service_id")

		var patch models.ServicePatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			gwerrors.Abort(c, gwerrors.BadRequest("malformed service patch"))
			return
		}

		if patch.HasFieldChanges() {
			err := h.serviceRepo.UpdateServiceFields(c.Request.Context(), serviceID, &patch)
			if errors.Is(err, sql.ErrNoRows) {
				gwerrors.Abort(c, gwerrors.NotFound("service", serviceID))
				return
			}
			if err != nil {
				gwerrors.Abort(c, gwerrors.Database("service update", err))
				return
			}
		}

		if patch.HasRoleChanges() {
			roles, err := h.rbacRepo.ResolveRoleRefs(c.Request.Context(), patch.Roles, patch.RoleNamespaces)
			if err != nil {
				abortResolveError(c, err)
				return
			}
			if err := h.rbacRepo.ReconcileServiceRoles(c.Request.Context(), serviceID, roles); err != nil {
				gwerrors.Abort(c, gwerrors.Database("service role reconciliation", err))
				return
			}
		}

		service, err := h.serviceRepo.GetServiceByID(c.Request.Context(), serviceID)
		if err != nil {
			gwerrors.Abort(c, gwerrors.Database("service lookup", err))
			return
		}
		if service == nil {
			gwerrors.Abort(c, gwerrors.NotFound("service", serviceID))
			return
		}
		roles, err := h.rbacRepo.RolesForService(c.Request.Context(), serviceID)
		if err != nil {
			gwerrors.Abort(c, gwerrors.Database("service role lookup", err))
			return
		}

		c.JSON(http.StatusOK, models.ServiceWithRoles{Service: *service, Roles: roles})
	}
}

// Delete unregisters a service. Authorization edges cascade with the row, so
// nothing keeps authorizing against a gone service.
// DELETE /cfg/v1/api-services/{service_id}
func (h *ServiceHandlers) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		serviceID := c.Param("service_id")

		err := h.serviceRepo.DeleteService(c.Request.Context(), serviceID)
		if errors.Is(err, sql.ErrNoRows) {
			gwerrors.Abort(c, gwerrors.NotFound("service", serviceID))
			return
		}
		if err != nil {
			gwerrors.Abort(c, gwerrors.Database("service delete", err))
			return
		}
		c.Status(http.StatusNoContent)
	}
}
