package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinic/booking/internal/domain/identity"
)

// DefaultDuration is the length of an appointment booked at an explicit time.
const DefaultDuration = 30 * time.Minute

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	_, ok := transitions[s]
	return s.Valid() && !ok
}

// CanTransitionTo reports whether next is reachable from s. Re-applying the
// current status is always allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TimeSlot is a bookable interval of one doctor on one day.
type TimeSlot struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      Date      `json:"date"`
	Start     Clock     `json:"start_time"`
	End       Clock     `json:"end_time"`
	Available bool      `json:"is_available"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Interval returns the slot's start and end instants in loc.
func (s *TimeSlot) Interval(loc *time.Location) (time.Time, time.Time) {
	return s.Date.At(s.Start, loc), s.Date.At(s.End, loc)
}

type Appointment struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   *uuid.UUID `json:"patient_id,omitempty"`
	PatientName *string    `json:"patient_name,omitempty"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	SlotID      *uuid.UUID `json:"time_slot_id,omitempty"`
	Start       time.Time  `json:"start_time"`
	End         time.Time  `json:"end_time"`
	Status      Status     `json:"status"`
	Reason      string     `json:"reason"`
	Notes       string     `json:"notes"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsWalkIn reports whether the appointment has no linked patient profile.
func (a *Appointment) IsWalkIn() bool {
	return a.PatientID == nil
}

// BookingRequest is the raw booking input, as received on the wire.
type BookingRequest struct {
	DoctorID     string `json:"doctor_id"`
	PatientID    string `json:"patient_id,omitempty"`
	PatientName  string `json:"patient_name,omitempty"`
	Reason       string `json:"reason"`
	SlotRef      string `json:"time_slot_id,omitempty"`
	ExplicitTime string `json:"specific_time,omitempty"`
	Date         string `json:"date,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// Where a resolved booking took its times from.
const (
	SourceSlot         = "slot"
	SourceExplicit     = "explicit"
	SourceSlotExplicit = "slot_explicit"
)

// Resolution is the validated interval of a booking and the slot it consumes.
type Resolution struct {
	Start  time.Time
	End    time.Time
	SlotID *uuid.UUID
	Source string
}

type SlotInput struct {
	DoctorID uuid.UUID `json:"doctor_id" validate:"required"`
	Date     Date      `json:"date" validate:"required"`
	Start    Clock     `json:"start_time"`
	End      Clock     `json:"end_time"`
}

// BulkSlotInput generates slots every Interval minutes between DayStart and
// DayEnd for each day from From to To inclusive.
type BulkSlotInput struct {
	DoctorID uuid.UUID `json:"doctor_id" validate:"required"`
	From     Date      `json:"from" validate:"required"`
	To       Date      `json:"to" validate:"required"`
	DayStart Clock     `json:"day_start"`
	DayEnd   Clock     `json:"day_end"`
	Interval int       `json:"interval_minutes" validate:"min=5,max=240"`
}

type BulkResult struct {
	Created []*TimeSlot `json:"created"`
	Skipped int         `json:"skipped"`
}

type SlotQuery struct {
	DoctorID           uuid.UUID
	From               Date
	To                 Date
	IncludeUnavailable bool
}

// ListQuery carries the caller-supplied appointment filters. PatientID is a
// patient user id; Date narrows to one clinic-local day.
type ListQuery struct {
	DoctorID  string
	PatientID string
	Date      string
	From      *time.Time
	To        *time.Time
}

type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID // patient profile id
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

type AppointmentPatch struct {
	Status *Status `json:"status,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

// BookingNotice is everything the notifier needs about a new booking.
// Patient is nil for walk-ins.
type BookingNotice struct {
	Appointment *Appointment
	Doctor      *identity.User
	Patient     *identity.User
}

// NotifyResult reports what the notifier delivered. It never carries an error.
type NotifyResult struct {
	EmailSent bool `json:"email"`
	SMSSent   bool `json:"sms"`
	Realtime  bool `json:"realtime"`
	Queued    bool `json:"queued,omitempty"`
}

type BookingResult struct {
	Appointment  *Appointment `json:"appointment"`
	Notification NotifyResult `json:"notification"`
}

// CalendarEvent is the calendar-widget view of an appointment.
type CalendarEvent struct {
	ID            uuid.UUID      `json:"id"`
	Title         string         `json:"title"`
	Start         time.Time      `json:"start"`
	End           time.Time      `json:"end"`
	Status        Status         `json:"status"`
	ExtendedProps map[string]any `json:"extendedProps"`
}
