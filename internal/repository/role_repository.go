package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/crm-identity/internal/domain"
)

// RoleRepository exposes role persistence.
type RoleRepository interface {
	List(ctx context.Context) ([]domain.Role, error)
	GetByID(ctx context.Context, id string) (*domain.Role, error)
	GetByCode(ctx context.Context, code string) (*domain.Role, error)
	Create(ctx context.Context, role *domain.Role) error
	Delete(ctx context.Context, id string) error
}

type roleRepository struct {
	pool *pgxpool.Pool
}

// NewRoleRepository constructs a Postgres-backed role repository.
func NewRoleRepository(pool *pgxpool.Pool) RoleRepository {
	return &roleRepository{pool: pool}
}

const roleSelect = `
        SELECT r.id, r.code, r.name, COALESCE(r.description, ''), r.is_system, r.created_at,
               (SELECT COUNT(*) FROM users u WHERE u.role_id = r.id),
               (SELECT COUNT(*) FROM role_permissions rp WHERE rp.role_id = r.id)
        FROM roles r`

func (r *roleRepository) List(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.pool.Query(ctx, roleSelect+` ORDER BY r.is_system DESC, r.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Code, &role.Name, &role.Description, &role.IsSystem,
			&role.CreatedAt, &role.UserCount, &role.PermissionCount); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *roleRepository) GetByID(ctx context.Context, id string) (*domain.Role, error) {
	var role domain.Role
	err := r.pool.QueryRow(ctx, roleSelect+` WHERE r.id=$1`, id).Scan(
		&role.ID, &role.Code, &role.Name, &role.Description, &role.IsSystem,
		&role.CreatedAt, &role.UserCount, &role.PermissionCount)
	if err != nil {
		return nil, mapError(err)
	}
	return &role, nil
}

func (r *roleRepository) GetByCode(ctx context.Context, code string) (*domain.Role, error) {
	var role domain.Role
	err := r.pool.QueryRow(ctx, roleSelect+` WHERE r.code=$1`, code).Scan(
		&role.ID, &role.Code, &role.Name, &role.Description, &role.IsSystem,
		&role.CreatedAt, &role.UserCount, &role.PermissionCount)
	if err != nil {
		return nil, mapError(err)
	}
	return &role, nil
}

func (r *roleRepository) Create(ctx context.Context, role *domain.Role) error {
	const query = `
        INSERT INTO roles (code, name, description, is_system)
        VALUES ($1, $2, NULLIF($3, ''), FALSE)
        RETURNING id, created_at`

	err := r.pool.QueryRow(ctx, query, role.Code, role.Name, role.Description).Scan(&role.ID, &role.CreatedAt)
	return mapError(err)
}

// Delete removes a non-system role. Roles still referenced by users surface
// as ErrConflict through the foreign key.
func (r *roleRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id=$1 AND is_system = FALSE`, id)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
