// role_repository.go implements RoleRepository: CRUD for namespaced roles.
// Edge manipulation lives in rbac_repository.go; this file only touches the
// roles table itself.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/apigateway/apigateway/internal/db/models"
)

// RoleRepository handles role records.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new RoleRepository
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// ListRoles returns all roles ordered by qualified name.
func (r *RoleRepository) ListRoles(ctx context.Context) ([]models.Role, error) {
	roles := []models.Role{}
	err := r.db.SelectContext(ctx, &roles,
		`SELECT id, namespace, name, created_at, updated_at FROM roles ORDER BY namespace, name`)
	return roles, err
}

// GetRoleByID retrieves a role by ID. Returns nil, nil when absent.
func (r *RoleRepository) GetRoleByID(ctx context.Context, roleID string) (*models.Role, error) {
	var role models.Role
	err := r.db.GetContext(ctx, &role,
		`SELECT id, namespace, name, created_at, updated_at FROM roles WHERE id = $1`, roleID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// FindRole looks a role up by its (namespace, name) pair. Returns nil, nil
// when absent.
func (r *RoleRepository) FindRole(ctx context.Context, namespace, name string) (*models.Role, error) {
	var role models.Role
	err := r.db.GetContext(ctx, &role,
		`SELECT id, namespace, name, created_at, updated_at FROM roles WHERE namespace = $1 AND name = $2`,
		namespace, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// CreateRole inserts a new role. A duplicate (namespace, name) fails on the
// unique index — creation is idempotent only through find-then-create, never
// by silently reusing a clashing row.
func (r *RoleRepository) CreateRole(ctx context.Context, role *models.Role) error {
	role.ID = uuid.New().String()
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (id, namespace, name, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		role.ID, role.Namespace, role.Name, role.CreatedAt, role.UpdatedAt,
	)
	return err
}

// RenameRole updates a role's namespace and name in place. The id is stable,
// so existing authorization and membership edges are untouched — a rename
// needs no reconciliation.
func (r *RoleRepository) RenameRole(ctx context.Context, roleID, namespace, name string) (*models.Role, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE roles SET namespace = $1, name = $2, updated_at = $3 WHERE id = $4`,
		namespace, name, time.Now(), roleID,
	)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}
	return r.GetRoleByID(ctx, roleID)
}

// DeleteRole removes a role. Its authorization and membership edges cascade
// away with it, so no service or user retains a dangling grant.
func (r *RoleRepository) DeleteRole(ctx context.Context, roleID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
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
