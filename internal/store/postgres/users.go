package postgres

import (
	"context"
	"database/sql"

	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/store"
)

const userColumns = `id, tenant_id, email, password_hash, first_name, last_name, role, is_active, last_login_at, created_at, updated_at`

func scanUser(row rowScanner) (domain.User, error) {
	var user domain.User
	var lastLogin sql.NullTime
	err := row.Scan(&user.ID, &user.TenantID, &user.Email, &user.PasswordHash, &user.FirstName,
		&user.LastName, &user.Role, &user.IsActive, &lastLogin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return domain.User{}, notFound(err)
	}
	user.LastLoginAt = timePtr(lastLogin)
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, email, password_hash, first_name, last_name, role, is_active, last_login_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, user.ID, user.TenantID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		user.Role, user.IsActive, nullTime(user.LastLoginAt), user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, store.ErrConflict
		}
		return domain.User{}, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, tenantID string, id string) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, tenantID string, email string) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE tenant_id = $1 AND lower(email) = lower($2)
	`, tenantID, email)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context, tenantID string) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.User) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET email = $3, password_hash = $4, first_name = $5, last_name = $6, role = $7,
			is_active = $8, last_login_at = $9, updated_at = $10
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+userColumns,
		user.TenantID, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		user.Role, user.IsActive, nullTime(user.LastLoginAt), user.UpdatedAt)
	updated, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, store.ErrConflict
		}
		return domain.User{}, err
	}
	return updated, nil
}

func (s *Store) DeleteUser(ctx context.Context, tenantID string, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
