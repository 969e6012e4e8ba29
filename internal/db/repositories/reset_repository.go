// reset_repository.go implements ResetRepository: issuance and one-time
// redemption of password reset requests. Redemption applies its three
// effects (store the new hash, stamp password_reset_at, mark the request
// used) in a single transaction so a failure leaves no partial state.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/apigateway/apigateway/internal/db/models"
)

// ResetRequestLifetime is how long a reset request stays redeemable.
const ResetRequestLifetime = 24 * time.Hour

var (
	// ErrResetNotFound is returned when no request exists for the given id.
	ErrResetNotFound = errors.New("password reset request not found")
	// ErrResetNotRedeemable is returned when the request was already used or
	// has expired.
	ErrResetNotRedeemable = errors.New("password reset request is no longer redeemable")
	// ErrResetUserMismatch is returned when the supplied username does not
	// own the request.
	ErrResetUserMismatch = errors.New("password reset request does not belong to user")
)

// ResetRepository handles password reset request records.
type ResetRepository struct {
	db *sqlx.DB
}

// NewResetRepository creates a new ResetRepository
func NewResetRepository(db *sqlx.DB) *ResetRepository {
	return &ResetRepository{db: db}
}

// CreateResetRequest issues a new reset request for a user, expiring after
// ResetRequestLifetime. Earlier requests for the same user stay valid until
// they are used or expire on their own.
func (r *ResetRepository) CreateResetRequest(ctx context.Context, userID string) (*models.PasswordResetRequest, error) {
	now := time.Now()
	request := models.PasswordResetRequest{
		ID:        uuid.New().String(),
		UserID:    userID,
		Used:      false,
		ExpiresAt: now.Add(ResetRequestLifetime).Unix(),
		UpdatedAt: now,
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_reset_requests (id, user_id, used, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		request.ID, request.UserID, request.Used, request.ExpiresAt, request.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// GetResetRequest retrieves a reset request by id. Returns nil, nil when
// absent.
func (r *ResetRepository) GetResetRequest(ctx context.Context, requestID string) (*models.PasswordResetRequest, error) {
	var request models.PasswordResetRequest
	err := r.db.GetContext(ctx, &request,
		`SELECT id, user_id, used, expires_at, updated_at FROM password_reset_requests WHERE id = $1`,
		requestID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// RedeemResetRequest consumes a reset request: the request must exist, still
// be redeemable, and belong to the user named by username. On success the
// user's password hash is replaced, password_reset_at is stamped, and the
// request is marked used, all in one transaction.
func (r *ResetRepository) RedeemResetRequest(ctx context.Context, requestID, username, passwordHash string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var request models.PasswordResetRequest
	err = tx.GetContext(ctx, &request,
		`SELECT id, user_id, used, expires_at, updated_at FROM password_reset_requests WHERE id = $1 FOR UPDATE`,
		requestID)
	if err == sql.ErrNoRows {
		return ErrResetNotFound
	}
	if err != nil {
		return err
	}
	if !request.Redeemable(time.Now()) {
		return ErrResetNotRedeemable
	}

	var ownerUsername string
	err = tx.GetContext(ctx, &ownerUsername,
		`SELECT username FROM users WHERE id = $1`, request.UserID)
	if err == sql.ErrNoRows {
		return ErrResetUserMismatch
	}
	if err != nil {
		return err
	}
	if ownerUsername != username {
		return ErrResetUserMismatch
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, password_reset_at = $2, updated_at = $3 WHERE id = $4`,
		passwordHash, now, now, request.UserID,
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE password_reset_requests SET used = TRUE, updated_at = $1 WHERE id = $2`,
		now, requestID,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// PruneExpired removes reset requests that can never be redeemed again:
// already-used requests and requests whose expiry has passed. Returns the
// number of rows removed.
func (r *ResetRepository) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM password_reset_requests WHERE used = TRUE OR expires_at < $1`,
		now.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
