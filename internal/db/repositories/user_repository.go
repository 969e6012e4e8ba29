// user_repository.go implements UserRepository: gateway account storage,
// credential lookups, and the login/last-login bookkeeping.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/apigateway/apigateway/internal/db/models"
)

// UserRepository handles user database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser creates a new user. The username unique constraint rejects
// duplicates.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	query := `
		INSERT INTO users (id, username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)

	return err
}

const userColumns = `id, username, password_hash, created_at, updated_at, last_login, password_reset_at`

func scanUser(row interface{ Scan(...interface{}) error }, user *models.User) error {
	return row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLogin,
		&user.PasswordResetAt,
	)
}

// GetUserByID retrieves a user by ID. Returns nil, nil when absent.
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user := &models.User{}
	err := scanUser(r.db.QueryRowContext(ctx, query, userID), user)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetUserByUsername retrieves a user by username. Returns nil, nil when
// absent; the caller is responsible for collapsing that into the single
// invalid-credentials error on the login path.
func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	user := &models.User{}
	err := scanUser(r.db.QueryRowContext(ctx, query, username), user)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetUserWithRoles retrieves a user together with the roles holding a
// membership edge to it. Returns nil, nil when the user is absent.
func (r *UserRepository) GetUserWithRoles(ctx context.Context, userID string) (*models.UserWithRoles, error) {
	user, err := r.GetUserByID(ctx, userID)
	if err != nil || user == nil {
		return nil, err
	}
	return r.attachRoles(ctx, user)
}

// GetUserWithRolesByUsername is the login-path variant of GetUserWithRoles.
func (r *UserRepository) GetUserWithRolesByUsername(ctx context.Context, username string) (*models.UserWithRoles, error) {
	user, err := r.GetUserByUsername(ctx, username)
	if err != nil || user == nil {
		return nil, err
	}
	return r.attachRoles(ctx, user)
}

func (r *UserRepository) attachRoles(ctx context.Context, user *models.User) (*models.UserWithRoles, error) {
	query := `
		SELECT ro.id, ro.namespace, ro.name, ro.created_at, ro.updated_at
		FROM roles ro
		JOIN user_roles ur ON ur.role_id = ro.id
		WHERE ur.user_id = $1
		ORDER BY ro.namespace, ro.name
	`

	rows, err := r.db.QueryContext(ctx, query, user.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := &models.UserWithRoles{User: *user, Roles: []models.Role{}}
	for rows.Next() {
		var role models.Role
		if err := rows.Scan(&role.ID, &role.Namespace, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		result.Roles = append(result.Roles, role)
	}

	return result, rows.Err()
}

// ListUsersWithRoles returns every user with their membership role set.
// Two queries total — one for users, one join over all membership edges.
func (r *UserRepository) ListUsersWithRoles(ctx context.Context) ([]models.UserWithRoles, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY username`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.UserWithRoles{}
	index := map[string]int{}
	for rows.Next() {
		var user models.User
		if err := scanUser(rows, &user); err != nil {
			return nil, err
		}
		index[user.ID] = len(users)
		users = append(users, models.UserWithRoles{User: user, Roles: []models.Role{}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edgeQuery := `
		SELECT ur.user_id, ro.id, ro.namespace, ro.name, ro.created_at, ro.updated_at
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		ORDER BY ro.namespace, ro.name
	`

	edgeRows, err := r.db.QueryContext(ctx, edgeQuery)
	if err != nil {
		return nil, err
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var userID string
		var role models.Role
		if err := edgeRows.Scan(&userID, &role.ID, &role.Namespace, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if i, ok := index[userID]; ok {
			users[i].Roles = append(users[i].Roles, role)
		}
	}

	return users, edgeRows.Err()
}

// CountUsers returns the number of gateway accounts. Used at startup to
// decide whether the bootstrap admin account is needed.
func (r *UserRepository) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// SetLastLogin stamps the login timestamp. Purely informational: token
// issuance does not depend on it succeeding atomically.
func (r *UserRepository) SetLastLogin(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login = $1, updated_at = $1 WHERE id = $2`,
		time.Now(), userID,
	)
	return err
}

// SetPassword stores a new password hash for a user.
func (r *UserRepository) SetPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		passwordHash, time.Now(), userID,
	)
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

// UpdateUsername applies a username change. Membership edges are reconciled
// separately by the RBACRepository.
func (r *UserRepository) UpdateUsername(ctx context.Context, userID, username string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET username = $1, updated_at = $2 WHERE id = $3`,
		username, time.Now(), userID,
	)
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
