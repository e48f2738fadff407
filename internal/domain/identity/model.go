package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleDoctor    Role = "doctor"
	RoleSecretary Role = "secretary"
	RolePatient   Role = "patient"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RoleSecretary, RolePatient, RoleAdmin:
		return true
	}
	return false
}

// IsFrontDesk reports whether the role manages every doctor's agenda.
func (r Role) IsFrontDesk() bool {
	return r == RoleSecretary || r == RoleAdmin
}

// IsStaff reports whether the role may author slots and change appointments.
func (r Role) IsStaff() bool {
	return r == RoleDoctor || r.IsFrontDesk()
}

type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Role      Role      `db:"role" json:"role"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	Email     string    `db:"email" json:"email"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// FullName falls back to the email when both name parts are empty.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// PatientProfile binds a patient user to clinical attributes. It is created
// lazily the first time a booking needs it.
type PatientProfile struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	BloodType *string   `db:"blood_type" json:"blood_type,omitempty"`
	Allergies *string   `db:"allergies" json:"allergies,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Actor is the authenticated user on whose behalf a service call runs.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func (a Actor) Is(id uuid.UUID) bool {
	return a.UserID == id
}
