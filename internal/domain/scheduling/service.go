package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/domain/identity"
	"github.com/clinic/booking/internal/platform/db"
	"github.com/clinic/booking/internal/platform/metrics"
	"github.com/clinic/booking/pkg/apperr"
)

const defaultNotifyTimeout = 15 * time.Second

// UserDirectory resolves users and doctors.
type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// ProfileStore resolves patient profiles, creating them on first booking.
type ProfileStore interface {
	GetOrCreateProfile(ctx context.Context, userID uuid.UUID) (*identity.PatientProfile, error)
	GetProfileByUser(ctx context.Context, userID uuid.UUID) (*identity.PatientProfile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*identity.PatientProfile, error)
}

type Option func(*AppointmentService)

// WithNotifyTimeout bounds each post-commit notification.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *AppointmentService) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// AppointmentService books, reads, updates and deletes appointments.
type AppointmentService struct {
	slots         *SlotRegistry
	validator     *BookingValidator
	appointments  AppointmentRepository
	users         UserDirectory
	profiles      ProfileStore
	tx            db.TxRunner
	notifier      Notifier
	loc           *time.Location
	notifyTimeout time.Duration
	logger        zerolog.Logger
}

func NewAppointmentService(
	slots *SlotRegistry,
	appointments AppointmentRepository,
	users UserDirectory,
	profiles ProfileStore,
	tx db.TxRunner,
	notifier Notifier,
	logger zerolog.Logger,
	opts ...Option,
) *AppointmentService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	s := &AppointmentService{
		slots:         slots,
		validator:     NewBookingValidator(slots, slots.loc, logger),
		appointments:  appointments,
		users:         users,
		profiles:      profiles,
		tx:            tx,
		notifier:      notifier,
		loc:           slots.loc,
		notifyTimeout: defaultNotifyTimeout,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type bookingPatient struct {
	profile *identity.PatientProfile
	user    *identity.User
	name    *string
}

// Create books an appointment. The slot reservation and the insert commit
// together; notification runs afterwards and cannot undo the booking.
func (s *AppointmentService) Create(ctx context.Context, actor identity.Actor, req BookingRequest) (*BookingResult, error) {
	if !actor.Role.Valid() {
		return nil, apperr.Forbidden("unknown role")
	}
	if actor.Role == identity.RolePatient && !bookingForSelf(actor, req.PatientID) {
		return nil, apperr.Forbidden("patients can only book for themselves")
	}
	if err := req.CheckRequired(); err != nil {
		return nil, err
	}
	doctorID, err := uuid.Parse(strings.TrimSpace(req.DoctorID))
	if err != nil {
		return nil, apperr.Validation("invalid doctor_id")
	}
	doctor, err := s.users.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	patient, err := s.resolvePatient(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	res, err := s.validator.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	appt := &Appointment{
		DoctorID: doctorID,
		SlotID:   res.SlotID,
		Start:    res.Start,
		End:      res.End,
		Status:   StatusScheduled,
		Reason:   strings.TrimSpace(req.Reason),
		Notes:    strings.TrimSpace(req.Notes),
	}
	if patient.profile != nil {
		appt.PatientID = &patient.profile.ID
	} else {
		appt.PatientName = patient.name
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if res.SlotID != nil {
			if _, err := s.slots.Reserve(ctx, *res.SlotID); err != nil {
				return err
			}
		}
		return s.appointments.Create(ctx, appt)
	})
	if err != nil {
		return nil, err
	}
	metrics.BookingsTotal.WithLabelValues(res.Source).Inc()
	s.localize(appt)

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("source", res.Source).
		Str("by", actor.UserID.String()).
		Msg("appointment booked")

	result := s.notify(ctx, BookingNotice{Appointment: appt, Doctor: doctor, Patient: patient.user})
	return &BookingResult{Appointment: appt, Notification: result}, nil
}

func (s *AppointmentService) resolvePatient(ctx context.Context, actor identity.Actor, req BookingRequest) (*bookingPatient, error) {
	ref := strings.TrimSpace(req.PatientID)

	if actor.Role == identity.RolePatient {
		return s.loadPatient(ctx, actor.UserID)
	}

	if ref != "" {
		id, err := uuid.Parse(ref)
		if err != nil {
			return nil, apperr.Validation("invalid patient_id")
		}
		return s.loadPatient(ctx, id)
	}

	name := strings.TrimSpace(req.PatientName)
	if name != "" && actor.Role.IsFrontDesk() {
		return &bookingPatient{name: &name}, nil
	}
	return nil, apperr.Validation("patient selection is required")
}

func bookingForSelf(actor identity.Actor, patientRef string) bool {
	ref := strings.TrimSpace(patientRef)
	if ref == "" {
		return true
	}
	id, err := uuid.Parse(ref)
	return err == nil && actor.Is(id)
}

func (s *AppointmentService) loadPatient(ctx context.Context, userID uuid.UUID) (*bookingPatient, error) {
	profile, err := s.profiles.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &bookingPatient{profile: profile, user: user}, nil
}

func (s *AppointmentService) notify(ctx context.Context, notice BookingNotice) (result NotifyResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("appointment_id", notice.Appointment.ID.String()).
				Msg("notifier panicked")
			result = NotifyResult{}
		}
	}()
	return s.notifier.NotifyBooked(ctx, notice)
}

// List returns one page of the appointments visible to actor, ordered by
// start time, and the total number of matches. Filters that contradict the
// actor's own scope yield an empty page.
func (s *AppointmentService) List(ctx context.Context, actor identity.Actor, q ListQuery, limit, offset int) ([]*Appointment, int, error) {
	f := AppointmentFilter{From: q.From, To: q.To, Limit: limit, Offset: offset}

	var doctorID, patientUserID *uuid.UUID
	if ref := strings.TrimSpace(q.DoctorID); ref != "" {
		id, err := uuid.Parse(ref)
		if err != nil {
			return nil, 0, apperr.Validation("invalid doctor_id")
		}
		doctorID = &id
	}
	if ref := strings.TrimSpace(q.PatientID); ref != "" {
		id, err := uuid.Parse(ref)
		if err != nil {
			return nil, 0, apperr.Validation("invalid patient_id")
		}
		patientUserID = &id
	}
	if ref := strings.TrimSpace(q.Date); ref != "" {
		day, err := ParseDate(ref)
		if err != nil {
			return nil, 0, err
		}
		from := day.At(Clock{}, s.loc)
		to := day.AddDays(1).At(Clock{}, s.loc)
		f.From, f.To = &from, &to
	}

	switch {
	case actor.Role == identity.RoleDoctor:
		if doctorID != nil && !actor.Is(*doctorID) {
			return []*Appointment{}, 0, nil
		}
		doctorID = &actor.UserID
	case actor.Role == identity.RolePatient:
		if patientUserID != nil && !actor.Is(*patientUserID) {
			return []*Appointment{}, 0, nil
		}
		patientUserID = &actor.UserID
	case actor.Role.IsFrontDesk():
	default:
		return nil, 0, apperr.Forbidden("unknown role")
	}

	f.DoctorID = doctorID
	if patientUserID != nil {
		profile, err := s.profiles.GetProfileByUser(ctx, *patientUserID)
		if apperr.IsKind(err, apperr.KindNotFound) {
			return []*Appointment{}, 0, nil
		}
		if err != nil {
			return nil, 0, err
		}
		f.PatientID = &profile.ID
	}

	items, total, err := s.appointments.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*Appointment{}
	}
	for _, a := range items {
		s.localize(a)
	}
	return items, total, nil
}

func (s *AppointmentService) Get(ctx context.Context, actor identity.Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, actor, a); err != nil {
		return nil, err
	}
	s.localize(a)
	return a, nil
}

func (s *AppointmentService) authorizeView(ctx context.Context, actor identity.Actor, a *Appointment) error {
	switch {
	case actor.Role.IsFrontDesk():
		return nil
	case actor.Role == identity.RoleDoctor:
		if a.DoctorID != actor.UserID {
			return apperr.Forbidden("appointment belongs to another doctor")
		}
		return nil
	case actor.Role == identity.RolePatient:
		profile, err := s.profiles.GetProfileByUser(ctx, actor.UserID)
		if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
			return err
		}
		if profile == nil || a.PatientID == nil || *a.PatientID != profile.ID {
			return apperr.Forbidden("appointment belongs to another patient")
		}
		return nil
	}
	return apperr.Forbidden("unknown role")
}

// Update changes status and notes. Cancelling frees the booked slot in the
// same transaction.
func (s *AppointmentService) Update(ctx context.Context, actor identity.Actor, id uuid.UUID, patch AppointmentPatch) (*Appointment, error) {
	if err := requireStaff(actor, "modify appointments"); err != nil {
		return nil, err
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("invalid status %q", *patch.Status))
	}

	var updated *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeView(ctx, actor, a); err != nil {
			return err
		}

		release := false
		if next := patch.Status; next != nil && *next != a.Status {
			if !a.Status.CanTransitionTo(*next) {
				return apperr.Validation(fmt.Sprintf("cannot change status from %s to %s", a.Status, *next))
			}
			release = *next == StatusCancelled && a.SlotID != nil
			a.Status = *next
		}
		if patch.Notes != nil {
			a.Notes = strings.TrimSpace(*patch.Notes)
		}

		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		if release {
			if err := s.slots.Release(ctx, *a.SlotID); err != nil {
				return err
			}
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.localize(updated)
	return updated, nil
}

// Delete removes an appointment and frees its slot unless the appointment
// was already cancelled, in which case the slot may have been rebooked.
func (s *AppointmentService) Delete(ctx context.Context, actor identity.Actor, id uuid.UUID) error {
	if err := requireStaff(actor, "delete appointments"); err != nil {
		return err
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeView(ctx, actor, a); err != nil {
			return err
		}
		if err := s.appointments.Delete(ctx, id); err != nil {
			return err
		}
		if a.SlotID != nil && a.Status != StatusCancelled {
			return s.slots.Release(ctx, *a.SlotID)
		}
		return nil
	})
}

// Calendar renders the visible appointments as calendar events.
func (s *AppointmentService) Calendar(ctx context.Context, actor identity.Actor, q ListQuery) ([]CalendarEvent, error) {
	items, _, err := s.List(ctx, actor, q, calendarLimit, 0)
	if err != nil {
		return nil, err
	}
	events := make([]CalendarEvent, 0, len(items))
	for _, a := range items {
		events = append(events, toCalendarEvent(a))
	}
	return events, nil
}

const calendarLimit = 1000

func toCalendarEvent(a *Appointment) CalendarEvent {
	title := a.Reason
	if a.PatientName != nil {
		title = *a.PatientName + " - " + a.Reason
	}
	props := map[string]any{
		"doctor_id": a.DoctorID,
		"reason":    a.Reason,
		"notes":     a.Notes,
		"walk_in":   a.IsWalkIn(),
	}
	if a.PatientID != nil {
		props["patient_id"] = *a.PatientID
	}
	if a.PatientName != nil {
		props["patient_name"] = *a.PatientName
	}
	if a.SlotID != nil {
		props["time_slot_id"] = *a.SlotID
	}
	return CalendarEvent{
		ID:            a.ID,
		Title:         title,
		Start:         a.Start,
		End:           a.End,
		Status:        a.Status,
		ExtendedProps: props,
	}
}

func (s *AppointmentService) localize(a *Appointment) {
	a.Start = a.Start.In(s.loc)
	a.End = a.End.In(s.loc)
}
