// Package repositories implements the data access layer (repository pattern)
// for the gateway. Each repository type encapsulates all database queries for
// one domain entity. Handlers and the forwarder never issue SQL directly — all
// storage access goes through this layer, which keeps query logic testable in
// isolation and keeps the graph semantics (edges, uniqueness) in one place.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apigateway/apigateway/internal/db/models"
)

// ServiceRepository handles API service records and their resolution on the
// forwarding path.
type ServiceRepository struct {
	db *sql.DB
}

// NewServiceRepository creates a new ServiceRepository
func NewServiceRepository(db *sql.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

// CreateService inserts a new service record. The (api_name, version) unique
// index rejects duplicates.
func (r *ServiceRepository) CreateService(ctx context.Context, service *models.Service) error {
	service.ID = uuid.New().String()
	service.CreatedAt = time.Now()
	service.UpdatedAt = service.CreatedAt

	query := `
		INSERT INTO services (id, api_name, version, forward_url, active, environment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		service.ID,
		service.APIName,
		service.Version,
		service.ForwardURL,
		service.Active,
		service.Environment,
		service.CreatedAt,
		service.UpdatedAt,
	)

	return err
}

// GetServiceByID retrieves a service by ID. Returns nil, nil when absent.
func (r *ServiceRepository) GetServiceByID(ctx context.Context, serviceID string) (*models.Service, error) {
	query := `
		SELECT id, api_name, version, forward_url, active, environment, created_at, updated_at
		FROM services
		WHERE id = $1
	`

	service := &models.Service{}
	err := r.db.QueryRowContext(ctx, query, serviceID).Scan(
		&service.ID,
		&service.APIName,
		&service.Version,
		&service.ForwardURL,
		&service.Active,
		&service.Environment,
		&service.CreatedAt,
		&service.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return service, nil
}

// GetActiveServiceWithRoles resolves the unique active service for an
// (api_name, version) pair together with its full authorized-role set. The
// role set comes from one join against the authorization edges, not a lookup
// per role. Returns nil, nil when no active service matches — callers must not
// distinguish "inactive" from "never registered".
func (r *ServiceRepository) GetActiveServiceWithRoles(ctx context.Context, apiName, version string) (*models.ServiceWithRoles, error) {
	query := `
		SELECT id, api_name, version, forward_url, active, environment, created_at, updated_at
		FROM services
		WHERE active = TRUE AND api_name = $1 AND version = $2
	`

	result := &models.ServiceWithRoles{}
	err := r.db.QueryRowContext(ctx, query, apiName, version).Scan(
		&result.ID,
		&result.APIName,
		&result.Version,
		&result.ForwardURL,
		&result.Active,
		&result.Environment,
		&result.CreatedAt,
		&result.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	roles, err := r.rolesForService(ctx, result.ID)
	if err != nil {
		return nil, err
	}
	result.Roles = roles

	return result, nil
}

// rolesForService loads the roles holding an authorization edge to a service.
func (r *ServiceRepository) rolesForService(ctx context.Context, serviceID string) ([]models.Role, error) {
	query := `
		SELECT ro.id, ro.namespace, ro.name, ro.created_at, ro.updated_at
		FROM roles ro
		JOIN service_roles sr ON sr.role_id = ro.id
		WHERE sr.service_id = $1
		ORDER BY ro.namespace, ro.name
	`

	rows, err := r.db.QueryContext(ctx, query, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []models.Role{}
	for rows.Next() {
		var role models.Role
		if err := rows.Scan(&role.ID, &role.Namespace, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// ListServicesWithRoles returns every service with its authorized-role set.
// Two queries total regardless of service count: one for the services, one
// join over all authorization edges.
func (r *ServiceRepository) ListServicesWithRoles(ctx context.Context) ([]models.ServiceWithRoles, error) {
	query := `
		SELECT id, api_name, version, forward_url, active, environment, created_at, updated_at
		FROM services
		ORDER BY api_name, version
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := []models.ServiceWithRoles{}
	index := map[string]int{}
	for rows.Next() {
		var svc models.ServiceWithRoles
		if err := rows.Scan(
			&svc.ID, &svc.APIName, &svc.Version, &svc.ForwardURL,
			&svc.Active, &svc.Environment, &svc.CreatedAt, &svc.UpdatedAt,
		); err != nil {
			return nil, err
		}
		svc.Roles = []models.Role{}
		index[svc.ID] = len(services)
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edgeQuery := `
		SELECT sr.service_id, ro.id, ro.namespace, ro.name, ro.created_at, ro.updated_at
		FROM service_roles sr
		JOIN roles ro ON ro.id = sr.role_id
		ORDER BY ro.namespace, ro.name
	`

	edgeRows, err := r.db.QueryContext(ctx, edgeQuery)
	if err != nil {
		return nil, err
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var serviceID string
		var role models.Role
		if err := edgeRows.Scan(&serviceID, &role.ID, &role.Namespace, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if i, ok := index[serviceID]; ok {
			services[i].Roles = append(services[i].Roles, role)
		}
	}

	return services, edgeRows.Err()
}

// UpdateServiceFields applies the non-nil scalar fields of a patch to a
// service row. The role fields of the patch are reconciled separately by the
// RBACRepository; this function never touches edges.
func (r *ServiceRepository) UpdateServiceFields(ctx context.Context, serviceID string, patch *models.ServicePatch) error {
	set := []string{}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.APIName != nil {
		set = append(set, "api_name = "+arg(*patch.APIName))
	}
	if patch.Version != nil {
		set = append(set, "version = "+arg(*patch.Version))
	}
	if patch.ForwardURL != nil {
		set = append(set, "forward_url = "+arg(*patch.ForwardURL))
	}
	if patch.Active != nil {
		set = append(set, "active = "+arg(*patch.Active))
	}
	if patch.Environment != nil {
		set = append(set, "environment = "+arg(*patch.Environment))
	}

	set = append(set, "updated_at = "+arg(time.Now()))
	query := "UPDATE services SET " + strings.Join(set, ", ") + " WHERE id = " + arg(serviceID)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteService removes a service. Its authorization edges go with it
// (ON DELETE CASCADE), so the service never lingers in the graph edge tables.
func (r *ServiceRepository) DeleteService(ctx context.Context, serviceID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM services WHERE id = $1`, serviceID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
