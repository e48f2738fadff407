package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/domain/identity"
	"github.com/clinic/booking/internal/platform/metrics"
	"github.com/clinic/booking/pkg/apperr"
)

// MaxSlotRange bounds slot listings and bulk generation, in days.
const MaxSlotRange = 92

// DoctorDirectory resolves doctors from the user directory.
type DoctorDirectory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// SlotRegistry owns the pool of bookable slots.
type SlotRegistry struct {
	slots   SlotRepository
	doctors DoctorDirectory
	loc     *time.Location
	now     func() time.Time
	logger  zerolog.Logger
}

func NewSlotRegistry(slots SlotRepository, doctors DoctorDirectory, loc *time.Location, logger zerolog.Logger) *SlotRegistry {
	return &SlotRegistry{slots: slots, doctors: doctors, loc: loc, now: time.Now, logger: logger}
}

func (r *SlotRegistry) today() Date {
	return DateOf(r.now().In(r.loc))
}

func requireStaff(actor identity.Actor, action string) error {
	if !actor.Role.IsStaff() {
		return apperr.Forbidden("only doctors and secretaries may " + action)
	}
	return nil
}

func (r *SlotRegistry) CreateSlot(ctx context.Context, actor identity.Actor, in SlotInput) (*TimeSlot, error) {
	if err := requireStaff(actor, "create time slots"); err != nil {
		return nil, err
	}
	if !in.Start.Before(in.End) {
		return nil, apperr.Validation("start time must be before end time")
	}
	if in.Date.Before(r.today()) {
		return nil, apperr.Validation("cannot create time slots in the past")
	}
	if _, err := r.doctors.GetDoctor(ctx, in.DoctorID); err != nil {
		return nil, err
	}

	slot := &TimeSlot{DoctorID: in.DoctorID, Date: in.Date, Start: in.Start, End: in.End}
	if err := r.slots.Create(ctx, slot); err != nil {
		return nil, err
	}
	metrics.SlotsCreated.Add(1)
	return slot, nil
}

// CreateSlots generates a grid of slots. Slots that already exist are
// counted as skipped rather than failing the batch.
func (r *SlotRegistry) CreateSlots(ctx context.Context, actor identity.Actor, in BulkSlotInput) (*BulkResult, error) {
	if err := requireStaff(actor, "create time slots"); err != nil {
		return nil, err
	}
	if in.To.Before(in.From) {
		return nil, apperr.Validation("end date must not be before start date")
	}
	if in.From.Before(r.today()) {
		return nil, apperr.Validation("cannot create time slots in the past")
	}
	if in.To.After(in.From.AddDays(MaxSlotRange - 1)) {
		return nil, apperr.Validation(fmt.Sprintf("date range may not exceed %d days", MaxSlotRange))
	}
	if !in.DayStart.Before(in.DayEnd) {
		return nil, apperr.Validation("day start must be before day end")
	}
	if in.Interval <= 0 {
		return nil, apperr.Validation("interval must be positive")
	}
	if _, err := r.doctors.GetDoctor(ctx, in.DoctorID); err != nil {
		return nil, err
	}

	var grid []*TimeSlot
	for day := in.From; !day.After(in.To); day = day.AddDays(1) {
		for m := in.DayStart.Minutes(); m+in.Interval <= in.DayEnd.Minutes(); m += in.Interval {
			grid = append(grid, &TimeSlot{
				DoctorID: in.DoctorID,
				Date:     day,
				Start:    ClockFromMinutes(m),
				End:      ClockFromMinutes(m + in.Interval),
			})
		}
	}
	if len(grid) == 0 {
		return &BulkResult{Created: []*TimeSlot{}}, nil
	}

	created, err := r.slots.CreateMany(ctx, grid)
	if err != nil {
		return nil, err
	}
	metrics.SlotsCreated.Add(float64(len(created)))

	r.logger.Info().
		Str("doctor_id", in.DoctorID.String()).
		Str("from", in.From.String()).
		Str("to", in.To.String()).
		Int("created", len(created)).
		Int("skipped", len(grid)-len(created)).
		Msg("bulk time slots generated")
	return &BulkResult{Created: created, Skipped: len(grid) - len(created)}, nil
}

// FindAvailable lists a doctor's slots ordered by date then start time.
// A zero From means today; a zero To means From.
func (r *SlotRegistry) FindAvailable(ctx context.Context, q SlotQuery) ([]*TimeSlot, error) {
	if q.DoctorID == uuid.Nil {
		return nil, apperr.Validation("doctor_id is required")
	}
	if q.From.IsZero() {
		q.From = r.today()
	}
	if q.To.IsZero() {
		q.To = q.From
	}
	if q.To.Before(q.From) {
		return nil, apperr.Validation("end_date must not be before start_date")
	}
	if q.To.After(q.From.AddDays(MaxSlotRange - 1)) {
		return nil, apperr.Validation(fmt.Sprintf("date range may not exceed %d days", MaxSlotRange))
	}
	if _, err := r.doctors.GetDoctor(ctx, q.DoctorID); err != nil {
		return nil, err
	}
	return r.slots.Find(ctx, q)
}

func (r *SlotRegistry) GetSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return r.slots.GetByID(ctx, id)
}

// Reserve consumes an available slot. Losing a race yields a conflict
// wrapping ErrSlotAlreadyReserved; it is never retried here.
func (r *SlotRegistry) Reserve(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	slot, err := r.slots.Reserve(ctx, id)
	if apperr.IsKind(err, apperr.KindConflict) {
		metrics.ReservationConflicts.Inc()
	}
	return slot, err
}

// Release makes a slot bookable again. A missing slot is logged and ignored.
func (r *SlotRegistry) Release(ctx context.Context, id uuid.UUID) error {
	found, err := r.slots.Release(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		r.logger.Warn().Str("slot_id", id.String()).Msg("release of missing time slot ignored")
	}
	return nil
}

// SetAvailability blocks or reopens a slot by hand. Both directions are
// idempotent: blocking a slot that is already taken returns it unchanged.
func (r *SlotRegistry) SetAvailability(ctx context.Context, actor identity.Actor, id uuid.UUID, available bool) (*TimeSlot, error) {
	if err := requireStaff(actor, "change time slots"); err != nil {
		return nil, err
	}
	if !available {
		slot, err := r.slots.Reserve(ctx, id)
		if errors.Is(err, ErrSlotAlreadyReserved) {
			return r.slots.GetByID(ctx, id)
		}
		return slot, err
	}
	if _, err := r.slots.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if err := r.Release(ctx, id); err != nil {
		return nil, err
	}
	return r.slots.GetByID(ctx, id)
}

// DeleteSlot removes a slot whether or not it backs an appointment; the
// appointment keeps its times and loses the slot reference.
func (r *SlotRegistry) DeleteSlot(ctx context.Context, actor identity.Actor, id uuid.UUID) error {
	if err := requireStaff(actor, "delete time slots"); err != nil {
		return err
	}
	if err := r.slots.Delete(ctx, id); err != nil {
		return err
	}
	r.logger.Info().Str("slot_id", id.String()).Str("by", actor.UserID.String()).Msg("time slot deleted")
	return nil
}
