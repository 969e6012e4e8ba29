// rbac_repository.go implements RBACRepository: resolution of role
// references and reconciliation of the authorization graph's edges. Services
// are linked to the roles that may call them through service_roles, users to
// the roles they hold through user_roles. Reconciliation computes the
// symmetric difference between the stored edge set and the desired one and
// applies only the delta, inside a single transaction.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/apigateway/apigateway/internal/db/models"
)

// ErrRoleRefNotFound marks a role reference whose id matched no stored role.
// Only by-id references can fail this way; (namespace, name) pairs are
// created on demand.
var ErrRoleRefNotFound = errors.New("referenced role not found")

// ErrRoleRefInvalid marks a role reference carrying neither an id nor a
// complete (namespace, name) pair. Rejected before any lookup so a malformed
// payload can never mint a degenerate role.
var ErrRoleRefInvalid = errors.New("role reference must carry an id or a namespace and name")

// RBACRepository manages the role edges of services and users.
type RBACRepository struct {
	db *sqlx.DB
}

// NewRBACRepository creates a new RBACRepository
func NewRBACRepository(db *sqlx.DB) *RBACRepository {
	return &RBACRepository{db: db}
}

// ResolveRoleRefs maps role references and namespace wildcards to concrete
// role rows, creating any that do not exist yet. A reference with an ID must
// match an existing role; one with only a (namespace, name) pair is found or
// created. Each namespace in namespaces resolves to that namespace's member
// sentinel role. The result preserves input order with duplicates removed.
func (r *RBACRepository) ResolveRoleRefs(ctx context.Context, refs []models.RoleRef, namespaces []string) ([]models.Role, error) {
	seen := make(map[string]bool)
	resolved := make([]models.Role, 0, len(refs)+len(namespaces))

	appendRole := func(role models.Role) {
		if !seen[role.ID] {
			seen[role.ID] = true
			resolved = append(resolved, role)
		}
	}

	for _, ref := range refs {
		if ref.ID != "" {
			role, err := r.getRole(ctx, ref.ID)
			if err != nil {
				return nil, err
			}
			if role == nil {
				return nil, fmt.Errorf("%w: %s", ErrRoleRefNotFound, ref.ID)
			}
			appendRole(*role)
			continue
		}
		if ref.Namespace == "" || ref.Name == "" {
			return nil, ErrRoleRefInvalid
		}
		role, err := r.findOrCreateRole(ctx, ref.Namespace, ref.Name)
		if err != nil {
			return nil, err
		}
		appendRole(*role)
	}

	for _, ns := range namespaces {
		if ns == "" {
			return nil, ErrRoleRefInvalid
		}
		role, err := r.findOrCreateRole(ctx, ns, models.NamespaceMemberRole)
		if err != nil {
			return nil, err
		}
		appendRole(*role)
	}

	return resolved, nil
}

// ReconcileServiceRoles makes the set of roles authorized to call a service
// equal to desired, touching only the edges that differ.
func (r *RBACRepository) ReconcileServiceRoles(ctx context.Context, serviceID string, desired []models.Role) error {
	return r.reconcileEdges(ctx, "service_roles", "service_id", serviceID, desired)
}

// ReconcileUserRoles makes the set of roles a user holds equal to desired,
// touching only the edges that differ.
func (r *RBACRepository) ReconcileUserRoles(ctx context.Context, userID string, desired []models.Role) error {
	return r.reconcileEdges(ctx, "user_roles", "user_id", userID, desired)
}

// RolesForUser returns the roles a user currently holds.
func (r *RBACRepository) RolesForUser(ctx context.Context, userID string) ([]models.Role, error) {
	roles := []models.Role{}
	err := r.db.SelectContext(ctx, &roles,
		`SELECT r.id, r.namespace, r.name, r.created_at, r.updated_at
		 FROM roles r
		 JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id = $1
		 ORDER BY r.namespace, r.name`, userID)
	return roles, err
}

// RolesForService returns the roles authorized to call a service.
func (r *RBACRepository) RolesForService(ctx context.Context, serviceID string) ([]models.Role, error) {
	roles := []models.Role{}
	err := r.db.SelectContext(ctx, &roles,
		`SELECT r.id, r.namespace, r.name, r.created_at, r.updated_at
		 FROM roles r
		 JOIN service_roles sr ON sr.role_id = r.id
		 WHERE sr.service_id = $1
		 ORDER BY r.namespace, r.name`, serviceID)
	return roles, err
}

func (r *RBACRepository) getRole(ctx context.Context, roleID string) (*models.Role, error) {
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

// findOrCreateRole returns the role with the given (namespace, name),
// inserting it first when missing. A concurrent insert loses the race on the
// unique index; the loser re-reads the winner's row.
func (r *RBACRepository) findOrCreateRole(ctx context.Context, namespace, name string) (*models.Role, error) {
	var role models.Role
	err := r.db.GetContext(ctx, &role,
		`SELECT id, namespace, name, created_at, updated_at FROM roles WHERE namespace = $1 AND name = $2`,
		namespace, name)
	if err == nil {
		return &role, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	now := time.Now()
	created := models.Role{
		ID:        uuid.New().String(),
		Namespace: namespace,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO roles (id, namespace, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (namespace, name) DO NOTHING`,
		created.ID, created.Namespace, created.Name, created.CreatedAt, created.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = r.db.GetContext(ctx, &role,
		`SELECT id, namespace, name, created_at, updated_at FROM roles WHERE namespace = $1 AND name = $2`,
		namespace, name)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// reconcileEdges diffs the stored role_id set for owner against desired and
// applies the delta in one transaction. Re-running with the same input is a
// no-op.
func (r *RBACRepository) reconcileEdges(ctx context.Context, table, ownerColumn, ownerID string, desired []models.Role) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	existing := []string{}
	query := fmt.Sprintf(`SELECT role_id FROM %s WHERE %s = $1`, table, ownerColumn)
	if err := tx.SelectContext(ctx, &existing, query, ownerID); err != nil {
		return err
	}

	existingSet := make(map[string]bool, len(existing))
	for _, id := range existing {
		existingSet[id] = true
	}
	desiredSet := make(map[string]bool, len(desired))
	for _, role := range desired {
		desiredSet[role.ID] = true
	}

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND role_id = $2`, table, ownerColumn)
	for _, id := range existing {
		if !desiredSet[id] {
			if _, err := tx.ExecContext(ctx, deleteQuery, ownerID, id); err != nil {
				return err
			}
		}
	}

	insertQuery := fmt.Sprintf(`INSERT INTO %s (role_id, %s) VALUES ($1, $2)`, table, ownerColumn)
	for _, role := range desired {
		if !existingSet[role.ID] {
			if _, err := tx.ExecContext(ctx, insertQuery, role.ID, ownerID); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}
