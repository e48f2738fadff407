package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrSlotAlreadyReserved is wrapped in the conflict returned when a slot is
// consumed by a concurrent booking.
var ErrSlotAlreadyReserved = errors.New("slot already reserved")

type SlotRepository interface {
	Create(ctx context.Context, s *TimeSlot) error
	// CreateMany inserts slots, silently skipping (doctor, date, start)
	// duplicates, and returns the rows actually inserted.
	CreateMany(ctx context.Context, slots []*TimeSlot) ([]*TimeSlot, error)
	GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	Find(ctx context.Context, q SlotQuery) ([]*TimeSlot, error)
	// Reserve flips available from true to false atomically.
	Reserve(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	// Release marks the slot available and reports whether it exists.
	Release(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetByIDForUpdate locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error)
}
