package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/transport"
)

// DirectoryService manages test users and the school directory.
type DirectoryService struct {
	Store *repository.Store
	Log   zerolog.Logger
}

func (s *DirectoryService) ListTestUsers(ctx context.Context, activeOnly bool) ([]*model.TestUser, error) {
	return s.Store.TestUsers.ListTestUsers(ctx, activeOnly)
}

func (s *DirectoryService) SaveTestUser(ctx context.Context, u *model.TestUser) (*model.TestUser, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" {
		return nil, appErrors.NewMissingRequiredField("email")
	}
	if err := transport.ValidateAddress(u.Email); err != nil {
		return nil, appErrors.NewInvalidInput("invalid email %q", u.Email)
	}
	u.Name = strings.TrimSpace(u.Name)
	u.SchoolCode = strings.ToUpper(strings.TrimSpace(u.SchoolCode))
	if err := s.Store.TestUsers.UpsertTestUser(ctx, u); err != nil {
		return nil, err
	}
	s.Log.Info().Str("email", u.Email).Bool("active", u.Active).Msg("test user saved")
	return u, nil
}

func (s *DirectoryService) SetTestUserActive(ctx context.Context, email string, active bool) error {
	return s.Store.TestUsers.SetTestUserActive(ctx, strings.ToLower(strings.TrimSpace(email)), active)
}

func (s *DirectoryService) DeleteTestUser(ctx context.Context, email string) error {
	return s.Store.TestUsers.DeleteTestUser(ctx, strings.ToLower(strings.TrimSpace(email)))
}

func (s *DirectoryService) ListSchools(ctx context.Context) ([]*model.School, error) {
	return s.Store.Schools.ListSchools(ctx)
}

func (s *DirectoryService) SaveSchool(ctx context.Context, sc *model.School) (*model.School, error) {
	sc.SchoolCode = strings.ToUpper(strings.TrimSpace(sc.SchoolCode))
	if sc.SchoolCode == "" {
		return nil, appErrors.NewMissingRequiredField("school_code")
	}
	sc.SchoolName = strings.TrimSpace(sc.SchoolName)
	if sc.SchoolName == "" {
		return nil, appErrors.NewMissingRequiredField("school_name")
	}
	if err := s.Store.Schools.UpsertSchool(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}
