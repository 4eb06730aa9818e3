package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/crm-identity/internal/domain"
)

// PermissionRepository exposes the permission catalogue and role grants.
type PermissionRepository interface {
	List(ctx context.Context) ([]domain.Permission, error)
	// CodesForRole returns the permission codes granted to the role with the given code.
	CodesForRole(ctx context.Context, roleCode string) ([]string, error)
	// ReplaceForRole swaps the full grant set of a role and returns the codes
	// that matched the catalogue. Unknown codes are skipped.
	ReplaceForRole(ctx context.Context, roleID string, codes []string) ([]string, error)
}

type permissionRepository struct {
	pool *pgxpool.Pool
}

// NewPermissionRepository constructs a Postgres-backed permission repository.
func NewPermissionRepository(pool *pgxpool.Pool) PermissionRepository {
	return &permissionRepository{pool: pool}
}

func (r *permissionRepository) List(ctx context.Context) ([]domain.Permission, error) {
	const query = `
        SELECT id, code, resource, action, COALESCE(description, '')
        FROM permissions
        ORDER BY resource, action`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []domain.Permission
	for rows.Next() {
		var p domain.Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *permissionRepository) CodesForRole(ctx context.Context, roleCode string) ([]string, error) {
	const query = `
        SELECT p.code
        FROM role_permissions rp
        JOIN roles r ON r.id = rp.role_id
        JOIN permissions p ON p.id = rp.permission_id
        WHERE r.code = $1`

	rows, err := r.pool.Query(ctx, query, roleCode)
	if err != nil {
		return nil, err
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *permissionRepository) ReplaceForRole(ctx context.Context, roleID string, codes []string) ([]string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var locked string
	if err := tx.QueryRow(ctx, `SELECT id FROM roles WHERE id=$1 FOR UPDATE`, roleID).Scan(&locked); err != nil {
		return nil, mapError(err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id=$1`, roleID); err != nil {
		return nil, fmt.Errorf("clear role permissions: %w", err)
	}

	var applied []string
	if len(codes) > 0 {
		rows, err := tx.Query(ctx, `
            WITH inserted AS (
                INSERT INTO role_permissions (role_id, permission_id)
                SELECT $1, p.id FROM permissions p WHERE p.code = ANY($2)
                RETURNING permission_id
            )
            SELECT p.code FROM inserted i JOIN permissions p ON p.id = i.permission_id
            ORDER BY p.code`, roleID, codes)
		if err != nil {
			return nil, fmt.Errorf("insert role permissions: %w", err)
		}
		applied, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return applied, nil
}
