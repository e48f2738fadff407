package scheduling

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/pkg/apperr"
)

// maxTextLen matches the VARCHAR(255) reason and patient_name columns.
const maxTextLen = 255

var (
	errMissingFields  = apperr.Validation("missing required fields")
	errDateRequired   = apperr.Validation("date required")
	errNoUsableTiming = apperr.Validation("either slot or specific time with date must be provided")
)

// SlotLookup reads a slot by id without side effects.
type SlotLookup interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
}

// BookingValidator turns a BookingRequest into the interval to book. It
// reads slots but never writes.
type BookingValidator struct {
	slots  SlotLookup
	loc    *time.Location
	logger zerolog.Logger
}

func NewBookingValidator(slots SlotLookup, loc *time.Location, logger zerolog.Logger) *BookingValidator {
	return &BookingValidator{slots: slots, loc: loc, logger: logger}
}

// IsPlaceholderSlotRef reports whether ref is a client-side placeholder that
// stands for "no slot".
func IsPlaceholderSlotRef(ref string) bool {
	ref = strings.ToLower(strings.TrimSpace(ref))
	switch ref {
	case "", "null", "nan", "undefined", "none":
		return true
	}
	return strings.HasPrefix(ref, "default-")
}

// CheckRequired enforces the presence of doctor, reason, and some timing input.
func (r BookingRequest) CheckRequired() error {
	if strings.TrimSpace(r.DoctorID) == "" || strings.TrimSpace(r.Reason) == "" {
		return errMissingFields
	}
	if strings.TrimSpace(r.SlotRef) == "" && strings.TrimSpace(r.ExplicitTime) == "" {
		return errMissingFields
	}
	if utf8.RuneCountInString(strings.TrimSpace(r.Reason)) > maxTextLen {
		return apperr.Validation("reason is too long")
	}
	if utf8.RuneCountInString(strings.TrimSpace(r.PatientName)) > maxTextLen {
		return apperr.Validation("patient_name is too long")
	}
	return nil
}

// Resolve applies, in order: required fields, slot binding, explicit time,
// slot time. An explicit time wins over the bound slot's own time.
func (v *BookingValidator) Resolve(ctx context.Context, req BookingRequest) (*Resolution, error) {
	if err := req.CheckRequired(); err != nil {
		return nil, err
	}
	doctorID, err := uuid.Parse(strings.TrimSpace(req.DoctorID))
	if err != nil {
		return nil, apperr.Validation("invalid doctor_id")
	}

	slot, err := v.bindSlot(ctx, req.SlotRef, doctorID)
	if err != nil {
		return nil, err
	}

	if explicit := req.ExplicitTime; strings.TrimSpace(explicit) != "" {
		res, err := v.resolveExplicit(explicit, req.Date, slot)
		if err == nil {
			return res, nil
		}
		if slot == nil {
			return nil, err
		}
		v.logger.Warn().Err(err).
			Str("specific_time", explicit).
			Str("slot_id", slot.ID.String()).
			Msg("unparseable specific time, using slot time")
	}

	if slot != nil {
		start, end := slot.Interval(v.loc)
		return &Resolution{Start: start, End: end, SlotID: &slot.ID, Source: SourceSlot}, nil
	}
	return nil, errNoUsableTiming
}

func (v *BookingValidator) bindSlot(ctx context.Context, ref string, doctorID uuid.UUID) (*TimeSlot, error) {
	if IsPlaceholderSlotRef(ref) {
		return nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, apperr.NotFound("time slot not found")
	}
	slot, err := v.slots.GetSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	if !slot.Available {
		return nil, apperr.Wrap(apperr.KindConflict, "slot unavailable", ErrSlotAlreadyReserved)
	}
	if slot.DoctorID != doctorID {
		return nil, apperr.Validation("doctor mismatch")
	}
	return slot, nil
}

func (v *BookingValidator) resolveExplicit(explicit, date string, slot *TimeSlot) (*Resolution, error) {
	clock, err := ParseClock(explicit)
	if err != nil {
		return nil, err
	}

	var day Date
	var slotID *uuid.UUID
	source := SourceExplicit
	if slot != nil {
		day, slotID, source = slot.Date, &slot.ID, SourceSlotExplicit
	} else {
		if strings.TrimSpace(date) == "" {
			return nil, errDateRequired
		}
		if day, err = ParseDate(date); err != nil {
			return nil, err
		}
	}

	start := day.At(clock, v.loc)
	return &Resolution{Start: start, End: start.Add(DefaultDuration), SlotID: slotID, Source: source}, nil
}
