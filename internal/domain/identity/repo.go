package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListByRole(ctx context.Context, role Role) ([]*User, error)
}

type ProfileRepository interface {
	// GetOrCreate returns the profile for userID, inserting an empty one if
	// none exists. Concurrent callers observe the same row.
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*PatientProfile, error)
	GetByID(ctx context.Context, id uuid.UUID) (*PatientProfile, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*PatientProfile, error)
}
