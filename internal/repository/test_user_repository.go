package repository

import (
	"context"
	"database/sql"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type TestUserRepositoryInterface interface {
	ListTestUsers(ctx context.Context, activeOnly bool) ([]*model.TestUser, error)
	UpsertTestUser(ctx context.Context, u *model.TestUser) error
	SetTestUserActive(ctx context.Context, email string, active bool) error
	DeleteTestUser(ctx context.Context, email string) error
}

type TestUserRepository struct {
	DB *sql.DB
}

func (r *TestUserRepository) ListTestUsers(ctx context.Context, activeOnly bool) ([]*model.TestUser, error) {
	query := `SELECT email, name, school_code, active, created_at FROM test_users`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at, email`

	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*model.TestUser{}
	for rows.Next() {
		var u model.TestUser
		if err := rows.Scan(&u.Email, &u.Name, &u.SchoolCode, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (r *TestUserRepository) UpsertTestUser(ctx context.Context, u *model.TestUser) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	return r.DB.QueryRowContext(ctx, `
        INSERT INTO test_users (email, name, school_code, active, created_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (email) DO UPDATE SET name=EXCLUDED.name, school_code=EXCLUDED.school_code, active=EXCLUDED.active
        RETURNING created_at`,
		u.Email, u.Name, u.SchoolCode, u.Active).Scan(&u.CreatedAt)
}

func (r *TestUserRepository) SetTestUserActive(ctx context.Context, email string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE test_users SET active=$2 WHERE email=$1`, strings.ToLower(email), active)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewTestUserNotFound(email)
	}
	return nil
}

func (r *TestUserRepository) DeleteTestUser(ctx context.Context, email string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM test_users WHERE email=$1`, strings.ToLower(email))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewTestUserNotFound(email)
	}
	return nil
}

var _ TestUserRepositoryInterface = (*TestUserRepository)(nil)
