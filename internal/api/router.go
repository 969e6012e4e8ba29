// Package api wires together all HTTP routes for the gateway.
//
// Route grouping philosophy:
//   - /auth/v1 is the credential surface. Login and the password reset flow
//     are unauthenticated by nature; set-password requires a valid token.
//   - /cfg/v1 is the management surface. Every route requires a valid token
//     plus a gateway scope; gateway::admin passes every guard.
//   - Everything else is a candidate forward and falls through to the
//     reverse proxy, which resolves /<api_name>/<version>/<rest> against the
//     registered services and authorizes the token against the service's
//     role set.
//
// Unknown subpaths of /auth and /cfg render the 404 envelope directly. They
// are never handed to the forwarder, so a typo in a management URL cannot
// end up probing a backend that happens to be registered under "cfg".
package api

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/apigateway/apigateway/internal/api/authapi"
	"github.com/apigateway/apigateway/internal/api/cfgapi"
	"github.com/apigateway/apigateway/internal/auth"
	"github.com/apigateway/apigateway/internal/config"
	"github.com/apigateway/apigateway/internal/db/repositories"
	"github.com/apigateway/apigateway/internal/gwerrors"
	"github.com/apigateway/apigateway/internal/middleware"
	"github.com/apigateway/apigateway/internal/proxy"
)

// reservedPrefixes are path roots owned by the gateway itself. Requests
// under them never reach the forwarder, matched route or not.
var reservedPrefixes = []string{"/auth", "/cfg"}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg *config.Config, db *sql.DB) *gin.Engine {
	router := gin.New()

	// sqlx wrapper over the shared handle for the struct-scanned repositories.
	sqlxDB := sqlx.NewDb(db, "postgres")

	userRepo := repositories.NewUserRepository(db)
	serviceRepo := repositories.NewServiceRepository(db)
	roleRepo := repositories.NewRoleRepository(sqlxDB)
	rbacRepo := repositories.NewRBACRepository(sqlxDB)
	resetRepo := repositories.NewResetRepository(sqlxDB)

	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", healthCheckHandler(db))

	authHandlers := authapi.NewHandlers(userRepo, resetRepo)
	authGroup := router.Group("/auth/v1")
	{
		authGroup.POST("/login", authHandlers.Login())
		authGroup.PATCH("/set-password", middleware.AuthMiddleware(), authHandlers.SetPassword())
		authGroup.POST("/request-password-reset", authHandlers.RequestPasswordReset())
		authGroup.PATCH("/reset-password/:request_id", authHandlers.ResetPassword())
	}

	serviceHandlers := cfgapi.NewServiceHandlers(serviceRepo, rbacRepo)
	roleHandlers := cfgapi.NewRoleHandlers(roleRepo)
	userHandlers := cfgapi.NewUserHandlers(userRepo, rbacRepo)

	readServices := middleware.RequireScope(auth.ScopeServicesReadonly)
	readUsers := middleware.RequireScope(auth.ScopeUserReadonly)
	adminOnly := middleware.RequireScope()

	cfgGroup := router.Group("/cfg/v1", middleware.AuthMiddleware())
	{
		services := cfgGroup.Group("/api-services")
		{
			services.GET("/", readServices, serviceHandlers.List())
			services.POST("/", adminOnly, serviceHandlers.Create())
			services.GET("/:api_name/:version", readServices, serviceHandlers.Detail())
			services.PATCH("/:service_id", adminOnly, serviceHandlers.Patch())
			services.DELETE("/:service_id", adminOnly, serviceHandlers.Delete())
		}

		roles := cfgGroup.Group("/api-roles")
		{
			roles.GET("/", readServices, roleHandlers.List())
			roles.POST("/", adminOnly, roleHandlers.Create())
			roles.PUT("/:role_id", adminOnly, roleHandlers.Update())
			roles.DELETE("/:role_id", adminOnly, roleHandlers.Delete())
		}

		users := cfgGroup.Group("/users")
		{
			users.GET("/", adminOnly, userHandlers.List())
			users.POST("/", adminOnly, userHandlers.Register())
			// "current" must be registered before the id route so Gin's
			// static node wins over the :user_id parameter.
			users.GET("/current", userHandlers.Current())
			users.GET("/:user_id", readUsers, userHandlers.Detail())
			users.PATCH("/:user_id", adminOnly, userHandlers.Patch())
		}
	}

	forwarder := proxy.NewForwarder(serviceRepo, cfg.Proxy)
	router.NoRoute(func(c *gin.Context) {
		for _, prefix := range reservedPrefixes {
			path := c.Request.URL.Path
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				gwerrors.Abort(c, gwerrors.NotFound("resource", path))
				return
			}
		}
		forwarder.Handle(c)
	})

	return router
}

// healthCheckHandler reports process liveness and database reachability.
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
