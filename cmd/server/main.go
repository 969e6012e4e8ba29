// Package main is the entry point for the gateway server binary. It
// dispatches three subcommands, serve, migrate, and version, via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place
// without requiring a cobra dependency. The serve command runs auto-migration
// on startup so freshly deployed containers never need a separate migration
// step.
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apigateway/apigateway/internal/api"
	"github.com/apigateway/apigateway/internal/auth"
	"github.com/apigateway/apigateway/internal/config"
	"github.com/apigateway/apigateway/internal/db"
	"github.com/apigateway/apigateway/internal/db/models"
	"github.com/apigateway/apigateway/internal/db/repositories"
	"github.com/apigateway/apigateway/internal/jobs"
	"github.com/apigateway/apigateway/internal/safego"
	"github.com/apigateway/apigateway/internal/telemetry"
)

const version = "0.1.0"

// bootstrapAdminUsername is the account created on a completely empty user
// table so the management surface is reachable at all on first boot.
const bootstrapAdminUsername = "admin"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "version":
		fmt.Printf("API Gateway v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise the structured logger as early as possible so all
	// subsequent log output uses the configured format and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Fails in production when GWY_JWT_SECRET is not set.
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	slog.Info("JWT secret validated")

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(database)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		slog.Warn("failed to read migration version", "error", err)
	} else {
		slog.Info("database schema up to date", "version", schemaVersion, "dirty", dirty)
	}

	if err := bootstrapAdmin(database); err != nil {
		slog.Warn("bootstrap admin handling failed", "error", err)
	}

	pruneCtx, cancelPruner := context.WithCancel(context.Background())
	defer cancelPruner()
	pruner := jobs.NewResetPruner(
		repositories.NewResetRepository(sqlx.NewDb(database, "postgres")),
		&cfg.Maintenance,
	)
	safego.Go(func() { pruner.Start(pruneCtx) })

	// Prometheus scrapes a dedicated port so metrics never ride the public
	// ingress path through the forwarder.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	router := api.NewRouter(cfg, database)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting gateway", "addr", cfg.Server.GetAddress(), "base_url", cfg.Server.BaseURL, "tls", cfg.Security.TLS.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gateway")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("gateway stopped gracefully")
	return nil
}

// bootstrapAdmin creates the initial admin account when the user table is
// empty. Without it a fresh deployment has no way to obtain a token for the
// management surface. The generated password is printed to the logs once;
// only its bcrypt hash is stored.
func bootstrapAdmin(database *sql.DB) error {
	ctx := context.Background()
	userRepo := repositories.NewUserRepository(database)
	rbacRepo := repositories.NewRBACRepository(sqlx.NewDb(database, "postgres"))

	count, err := userRepo.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	passwordBytes := make([]byte, 24)
	if _, err := rand.Read(passwordBytes); err != nil {
		return fmt.Errorf("failed to generate admin password: %w", err)
	}
	password := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(passwordBytes)

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	user := &models.User{Username: bootstrapAdminUsername, PasswordHash: hash}
	if err := userRepo.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	roles, err := rbacRepo.ResolveRoleRefs(ctx, []models.RoleRef{{Namespace: "gateway", Name: "admin"}}, nil)
	if err != nil {
		return fmt.Errorf("failed to resolve admin role: %w", err)
	}
	if err := rbacRepo.ReconcileUserRoles(ctx, user.ID, roles); err != nil {
		return fmt.Errorf("failed to grant admin role: %w", err)
	}

	separator := strings.Repeat("=", 66)
	log.Println("")
	log.Println(separator)
	log.Println("  INITIAL ADMIN ACCOUNT CREATED")
	log.Println("")
	log.Printf("  Username: %s", bootstrapAdminUsername)
	log.Printf("  Password: %s", password)
	log.Println("")
	log.Println("  Log in via POST /auth/v1/login and change this password")
	log.Println("  immediately via PATCH /auth/v1/set-password.")
	log.Println(separator)
	log.Println("")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", schemaVersion, dirty)
	return nil
}

