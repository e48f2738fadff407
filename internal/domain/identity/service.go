package identity

import (
	"context"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/clinic/booking/pkg/apperr"
)

// Service is the user directory and patient profile store consumed by
// scheduling.
type Service struct {
	users    UserRepository
	profiles ProfileRepository
}

func NewService(users UserRepository, profiles ProfileRepository) *Service {
	return &Service{users: users, profiles: profiles}
}

func (s *Service) CreateUser(ctx context.Context, u *User) error {
	u.Email = strings.TrimSpace(u.Email)
	if !u.Role.Valid() {
		return apperr.Validation("role must be one of doctor, secretary, patient, admin")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return apperr.Validation("invalid email")
	}
	if u.Phone != nil && strings.TrimSpace(*u.Phone) == "" {
		u.Phone = nil
	}
	u.Active = true
	return s.users.Create(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// GetUserForActor enforces that only staff read other users.
func (s *Service) GetUserForActor(ctx context.Context, actor Actor, id uuid.UUID) (*User, error) {
	if !actor.Role.IsStaff() && !actor.Is(id) {
		return nil, apperr.Forbidden("cannot view another user")
	}
	return s.users.GetByID(ctx, id)
}

// GetDoctor returns the user only when it holds the doctor role.
func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != RoleDoctor || !u.Active {
		return nil, apperr.NotFound("doctor not found")
	}
	return u, nil
}

func (s *Service) FindDoctors(ctx context.Context) ([]*User, error) {
	return s.users.ListByRole(ctx, RoleDoctor)
}

// GetOrCreateProfile returns the patient profile of userID, creating it on
// first use. The user must hold the patient role.
func (s *Service) GetOrCreateProfile(ctx context.Context, userID uuid.UUID) (*PatientProfile, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Role != RolePatient {
		return nil, apperr.NotFound("patient not found")
	}
	return s.profiles.GetOrCreate(ctx, userID)
}

func (s *Service) GetProfileByUser(ctx context.Context, userID uuid.UUID) (*PatientProfile, error) {
	return s.profiles.GetByUserID(ctx, userID)
}

func (s *Service) GetProfile(ctx context.Context, id uuid.UUID) (*PatientProfile, error) {
	return s.profiles.GetByID(ctx, id)
}
