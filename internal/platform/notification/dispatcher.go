package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/platform/metrics"
	"github.com/clinic/booking/internal/platform/websocket"
)

// EventAppointmentBooked is the realtime event type for a new booking.
const EventAppointmentBooked = "appointment.booked"

// ClinicInfo is rendered into every confirmation.
type ClinicInfo struct {
	Name    string
	Phone   string
	Address string
}

// Dispatcher sends the booking confirmation over every configured channel.
// A nil sender or publisher disables its channel.
type Dispatcher struct {
	email       EmailSender
	sms         SMSSender
	realtime    websocket.EventPublisher
	templates   *TemplateEngine
	clinic      ClinicInfo
	countryCode string
	loc         *time.Location
	logger      zerolog.Logger
}

type DispatcherConfig struct {
	Email       EmailSender
	SMS         SMSSender
	Realtime    websocket.EventPublisher
	Templates   *TemplateEngine
	Clinic      ClinicInfo
	CountryCode string
	Location    *time.Location
}

func NewDispatcher(cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.Templates == nil {
		cfg.Templates = NewTemplateEngine()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "212"
	}
	return &Dispatcher{
		email:       cfg.Email,
		sms:         cfg.SMS,
		realtime:    cfg.Realtime,
		templates:   cfg.Templates,
		clinic:      cfg.Clinic,
		countryCode: cfg.CountryCode,
		loc:         cfg.Location,
		logger:      logger.With().Str("component", "notification").Logger(),
	}
}

// NotifyBooked implements scheduling.Notifier. Walk-ins have no patient
// account, so they only produce the realtime event for staff.
func (d *Dispatcher) NotifyBooked(ctx context.Context, notice scheduling.BookingNotice) scheduling.NotifyResult {
	var res scheduling.NotifyResult
	if notice.Appointment == nil {
		return res
	}

	res.Realtime = d.publish(ctx, notice)

	if notice.Patient == nil {
		record(ChannelEmail, "skipped")
		record(ChannelSMS, "skipped")
		return res
	}

	data := d.templateData(notice)
	res.EmailSent = d.sendEmail(ctx, notice, data)
	res.SMSSent = d.sendSMS(ctx, notice, data)
	return res
}

func (d *Dispatcher) templateData(notice scheduling.BookingNotice) map[string]string {
	start := notice.Appointment.Start.In(d.loc)
	data := map[string]string{
		"date":           start.Format("2006-01-02"),
		"time":           start.Format("15:04"),
		"reason":         notice.Appointment.Reason,
		"clinic_name":    d.clinic.Name,
		"clinic_phone":   d.clinic.Phone,
		"clinic_address": d.clinic.Address,
	}
	if notice.Patient != nil {
		data["patient_name"] = notice.Patient.FullName()
	}
	if notice.Doctor != nil {
		data["doctor_name"] = notice.Doctor.FullName()
	}
	return data
}

func (d *Dispatcher) sendEmail(ctx context.Context, notice scheduling.BookingNotice, data map[string]string) bool {
	to := notice.Patient.Email
	if d.email == nil || to == "" {
		record(ChannelEmail, "skipped")
		return false
	}
	subject, body, err := d.templates.Render(TemplateBookedEmail, data)
	if err == nil {
		err = d.email.SendEmail(ctx, to, subject, body)
	}
	if err != nil {
		record(ChannelEmail, "failed")
		d.logger.Warn().Err(err).Str("appointment_id", notice.Appointment.ID.String()).Msg("confirmation email failed")
		return false
	}
	record(ChannelEmail, "sent")
	return true
}

func (d *Dispatcher) sendSMS(ctx context.Context, notice scheduling.BookingNotice, data map[string]string) bool {
	if d.sms == nil || notice.Patient.Phone == nil || *notice.Patient.Phone == "" {
		record(ChannelSMS, "skipped")
		return false
	}
	to, err := NormalizePhone(*notice.Patient.Phone, d.countryCode)
	if err == nil {
		var body string
		if _, body, err = d.templates.Render(TemplateBookedSMS, data); err == nil {
			err = d.sms.SendSMS(ctx, to, body)
		}
	}
	if err != nil {
		record(ChannelSMS, "failed")
		d.logger.Warn().Err(err).Str("appointment_id", notice.Appointment.ID.String()).Msg("confirmation sms failed")
		return false
	}
	record(ChannelSMS, "sent")
	return true
}

type bookedPayload struct {
	AppointmentID string    `json:"appointment_id"`
	DoctorID      string    `json:"doctor_id"`
	DoctorName    string    `json:"doctor_name,omitempty"`
	PatientName   string    `json:"patient_name,omitempty"`
	Start         time.Time `json:"start_time"`
	End           time.Time `json:"end_time"`
	Reason        string    `json:"reason"`
	WalkIn        bool      `json:"walk_in"`
}

// publish fans the event out to the doctor, the patient and the front desk.
// It succeeds when every topic accepted the event.
func (d *Dispatcher) publish(ctx context.Context, notice scheduling.BookingNotice) bool {
	if d.realtime == nil {
		record(ChannelRealtime, "skipped")
		return false
	}

	appt := notice.Appointment
	payload := bookedPayload{
		AppointmentID: appt.ID.String(),
		DoctorID:      appt.DoctorID.String(),
		Start:         appt.Start.In(d.loc),
		End:           appt.End.In(d.loc),
		Reason:        appt.Reason,
		WalkIn:        appt.IsWalkIn(),
	}
	if notice.Doctor != nil {
		payload.DoctorName = notice.Doctor.FullName()
	}
	switch {
	case notice.Patient != nil:
		payload.PatientName = notice.Patient.FullName()
	case appt.PatientName != nil:
		payload.PatientName = *appt.PatientName
	}
	data, err := json.Marshal(payload)
	if err != nil {
		record(ChannelRealtime, "failed")
		return false
	}

	topics := []string{websocket.UserTopic(appt.DoctorID.String()), websocket.ScheduleTopic}
	if notice.Patient != nil {
		topics = append(topics, websocket.UserTopic(notice.Patient.ID.String()))
	}

	ok := true
	now := time.Now().UTC()
	for _, topic := range topics {
		event := websocket.Event{Type: EventAppointmentBooked, Topic: topic, Timestamp: now, Data: data}
		if err := d.realtime.Publish(ctx, event); err != nil {
			ok = false
			d.logger.Warn().Err(err).Str("topic", topic).Msg("realtime publish failed")
		}
	}
	if ok {
		record(ChannelRealtime, "sent")
	} else {
		record(ChannelRealtime, "failed")
	}
	return ok
}

func record(ch Channel, status string) {
	metrics.NotificationsTotal.WithLabelValues(string(ch), status).Inc()
}
