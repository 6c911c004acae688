package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// SchoolRepositoryInterface looks up school branding by code.
type SchoolRepositoryInterface interface {
	ListSchools(ctx context.Context) ([]*model.School, error)
	GetSchoolsByCode(ctx context.Context, codes []string) (map[string]*model.School, error)
	UpsertSchool(ctx context.Context, s *model.School) error
}

type SchoolRepository struct {
	DB *sql.DB
}

func (r *SchoolRepository) scanSchools(rows *sql.Rows) ([]*model.School, error) {
	defer rows.Close()
	schools := []*model.School{}
	for rows.Next() {
		var s model.School
		if err := rows.Scan(&s.SchoolCode, &s.SchoolName, &s.SchoolPage, &s.SchoolLogo); err != nil {
			return nil, err
		}
		schools = append(schools, &s)
	}
	return schools, rows.Err()
}

func (r *SchoolRepository) ListSchools(ctx context.Context) ([]*model.School, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT school_code, school_name, school_page, school_logo FROM schools ORDER BY school_code`)
	if err != nil {
		return nil, err
	}
	return r.scanSchools(rows)
}

func (r *SchoolRepository) GetSchoolsByCode(ctx context.Context, codes []string) (map[string]*model.School, error) {
	out := map[string]*model.School{}
	if len(codes) == 0 {
		return out, nil
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT school_code, school_name, school_page, school_logo FROM schools WHERE school_code = ANY($1)`,
		pq.Array(codes))
	if err != nil {
		return nil, err
	}
	schools, err := r.scanSchools(rows)
	if err != nil {
		return nil, err
	}
	for _, s := range schools {
		out[s.SchoolCode] = s
	}
	return out, nil
}

func (r *SchoolRepository) UpsertSchool(ctx context.Context, s *model.School) error {
	_, err := r.DB.ExecContext(ctx, `
        INSERT INTO schools (school_code, school_name, school_page, school_logo)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (school_code) DO UPDATE
        SET school_name=EXCLUDED.school_name, school_page=EXCLUDED.school_page, school_logo=EXCLUDED.school_logo`,
		s.SchoolCode, s.SchoolName, s.SchoolPage, s.SchoolLogo)
	return err
}

var _ SchoolRepositoryInterface = (*SchoolRepository)(nil)
