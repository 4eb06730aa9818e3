package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/crm-identity/internal/domain"
)

// UserRepository defines persistence access for accounts.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	Update(ctx context.Context, user *domain.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context, filter UserFilter) ([]domain.User, error)

	// GetByActivationToken returns the user holding token if it is still live at now.
	GetByActivationToken(ctx context.Context, token string, now time.Time) (*domain.User, error)
	// ReissueActivationToken replaces the token of an account that has not
	// been activated yet. ErrConflict when the account is already activated.
	ReissueActivationToken(ctx context.Context, userID string, token domain.ActivationToken) error
	// ConsumeActivationToken sets the password, clears the token and activates
	// the account in one statement. ErrNotFound when the token is not live.
	ConsumeActivationToken(ctx context.Context, token, passwordHash string, now time.Time) (*domain.User, error)
}

// UserFilter defines query params for user listing.
type UserFilter struct {
	Search   string
	RoleCode string
	Status   *domain.UserStatus
	Limit    int
	Offset   int
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `
        u.id, u.email, u.name, u.password_hash, u.role_id, r.code, r.name, u.status,
        u.department, u.avatar_url, u.activation_token, u.activation_token_expires_at,
        u.created_at, u.updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user      domain.User
		token     *string
		expiresAt *time.Time
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.RoleID,
		&user.RoleCode,
		&user.RoleName,
		&user.Status,
		&user.Department,
		&user.AvatarURL,
		&token,
		&expiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, mapError(err)
	}
	if token != nil && expiresAt != nil {
		user.Activation = &domain.ActivationToken{Value: *token, ExpiresAt: *expiresAt}
	}
	return &user, nil
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (email, name, password_hash, role_id, status, department, activation_token, activation_token_expires_at)
        VALUES (LOWER($1), $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, email, created_at, updated_at`

	var (
		token     *string
		expiresAt *time.Time
	)
	if user.Activation != nil {
		token = &user.Activation.Value
		expiresAt = &user.Activation.ExpiresAt
	}
	err := r.pool.QueryRow(ctx, query,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.RoleID,
		user.Status,
		user.Department,
		token,
		expiresAt,
	).Scan(&user.ID, &user.Email, &user.CreatedAt, &user.UpdatedAt)
	return mapError(err)
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	const query = `
        UPDATE users SET name=$1, role_id=$2, status=$3, department=$4, avatar_url=$5, updated_at=NOW()
        WHERE id=$6
        RETURNING updated_at`

	err := r.pool.QueryRow(ctx, query,
		user.Name,
		user.RoleID,
		user.Status,
		user.Department,
		user.AvatarURL,
		user.ID,
	).Scan(&user.UpdatedAt)
	return mapError(err)
}

func (r *userRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE users SET password_hash=$1, updated_at=NOW() WHERE id=$2`, passwordHash, id)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT` + userColumns + `
        FROM users u JOIN roles r ON r.id = u.role_id
        WHERE u.id=$1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT` + userColumns + `
        FROM users u JOIN roles r ON r.id = u.role_id
        WHERE LOWER(u.email)=LOWER($1)`
	return scanUser(r.pool.QueryRow(ctx, query, strings.TrimSpace(email)))
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]domain.User, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(u.name ILIKE $%d OR u.email ILIKE $%d)", len(args), len(args)))
	}
	if filter.RoleCode != "" {
		args = append(args, filter.RoleCode)
		conditions = append(conditions, fmt.Sprintf("r.code = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("u.status = $%d", len(args)))
	}

	query := `SELECT` + userColumns + `
        FROM users u JOIN roles r ON r.id = u.role_id`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY u.created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (r *userRepository) GetByActivationToken(ctx context.Context, token string, now time.Time) (*domain.User, error) {
	query := `SELECT` + userColumns + `
        FROM users u JOIN roles r ON r.id = u.role_id
        WHERE u.activation_token=$1 AND u.activation_token_expires_at > $2`
	return scanUser(r.pool.QueryRow(ctx, query, token, now))
}

func (r *userRepository) ReissueActivationToken(ctx context.Context, userID string, token domain.ActivationToken) error {
	const query = `
        UPDATE users SET activation_token=$1, activation_token_expires_at=$2, updated_at=NOW()
        WHERE id=$3 AND activation_token IS NOT NULL`

	cmd, err := r.pool.Exec(ctx, query, token.Value, token.ExpiresAt, userID)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *userRepository) ConsumeActivationToken(ctx context.Context, token, passwordHash string, now time.Time) (*domain.User, error) {
	// The row lock taken by UPDATE serialises concurrent consumers; the second
	// one re-evaluates the WHERE clause against a NULL token and matches nothing.
	query := `
        WITH consumed AS (
            UPDATE users SET
                password_hash=$1,
                activation_token=NULL,
                activation_token_expires_at=NULL,
                status=CASE WHEN status='INACTIVE' THEN 'ACTIVE' ELSE status END,
                updated_at=NOW()
            WHERE activation_token=$2 AND activation_token_expires_at > $3 AND status <> 'SUSPENDED'
            RETURNING *
        )
        SELECT` + userColumns + `
        FROM consumed u JOIN roles r ON r.id = u.role_id`
	return scanUser(r.pool.QueryRow(ctx, query, passwordHash, token, now))
}
