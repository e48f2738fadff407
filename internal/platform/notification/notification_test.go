package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/booking/internal/domain/identity"
	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/platform/metrics"
	"github.com/clinic/booking/internal/platform/websocket"
)

type sentEmail struct{ to, subject, body string }

type mockEmail struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (m *mockEmail) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentEmail{to, subject, body})
	return nil
}

type mockSMS struct {
	mu   sync.Mutex
	to   []string
	body []string
	err  error
}

func (m *mockSMS) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.to = append(m.to, to)
	m.body = append(m.body, body)
	return nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, e websocket.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *mockPublisher) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Topic)
	}
	return out
}

var casablanca = time.FixedZone("Africa/Casablanca", 3600)

func testNotice(walkIn bool) scheduling.BookingNotice {
	phone := "0612345678"
	doctor := &identity.User{ID: uuid.New(), Role: identity.RoleDoctor, FirstName: "Amina", LastName: "Idrissi"}
	appt := &scheduling.Appointment{
		ID:       uuid.New(),
		DoctorID: doctor.ID,
		Start:    time.Date(2025, 3, 12, 13, 30, 0, 0, time.UTC),
		End:      time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC),
		Status:   scheduling.StatusScheduled,
		Reason:   "Checkup",
	}
	notice := scheduling.BookingNotice{Appointment: appt, Doctor: doctor}
	if walkIn {
		name := "Walk In"
		appt.PatientName = &name
		return notice
	}
	profileID := uuid.New()
	appt.PatientID = &profileID
	notice.Patient = &identity.User{
		ID: uuid.New(), Role: identity.RolePatient,
		FirstName: "Youssef", LastName: "Benali",
		Email: "youssef@example.com", Phone: &phone,
	}
	return notice
}

func newTestDispatcher(email EmailSender, sms SMSSender, pub websocket.EventPublisher) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Email:    email,
		SMS:      sms,
		Realtime: pub,
		Clinic:   ClinicInfo{Name: "Clinique Atlas", Phone: "+212522000000", Address: "12 Rue Atlas"},
		Location: casablanca,
	}, zerolog.Nop())
}

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render(TemplateBookedEmail, map[string]string{
		"patient_name": "Youssef",
		"doctor_name":  "Amina Idrissi",
		"date":         "2025-03-12",
		"time":         "14:30",
	})
	require.NoError(t, err)
	assert.Equal(t, "Appointment Confirmation", subject)
	assert.Contains(t, body, "Hello Youssef,")
	assert.Contains(t, body, "Dr. Amina Idrissi is confirmed for 2025-03-12 at 14:30")
	assert.Contains(t, body, "{{clinic_name}}", "missing keys are left as-is")

	_, _, err = e.Render("nope", nil)
	assert.Error(t, err)

	e.RegisterTemplate(Template{ID: "custom", Body: "hi {{x}}"})
	_, body, err = e.Render("custom", map[string]string{"x": "there"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", body)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"0612345678", "+212612345678", false},
		{"+33 6 12 34 56 78", "+33612345678", false},
		{"0033612345678", "+33612345678", false},
		{"612-345-678", "+212612345678", false},
		{"+1 650 253 0000", "+16502530000", false},
		{"06123", "", true},
		{"12", "", true},
		{"", "", true},
		{"phone", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := NormalizePhone(tt.raw, "212")
			if tt.wantErr {
				assert.Empty(t, got)
				assert.ErrorIs(t, err, ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDispatcher_AllChannels(t *testing.T) {
	email, sms, pub := &mockEmail{}, &mockSMS{}, &mockPublisher{}
	d := newTestDispatcher(email, sms, pub)
	notice := testNotice(false)

	res := d.NotifyBooked(context.Background(), notice)

	assert.True(t, res.EmailSent)
	assert.True(t, res.SMSSent)
	assert.True(t, res.Realtime)
	assert.False(t, res.Queued)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "youssef@example.com", email.sent[0].to)
	// 13:30 UTC rendered in clinic time
	assert.Contains(t, email.sent[0].body, "2025-03-12 at 14:30")
	assert.Contains(t, email.sent[0].body, "Clinique Atlas")

	require.Len(t, sms.to, 1)
	assert.Equal(t, "+212612345678", sms.to[0])

	assert.ElementsMatch(t, []string{
		websocket.UserTopic(notice.Doctor.ID.String()),
		websocket.UserTopic(notice.Patient.ID.String()),
		websocket.ScheduleTopic,
	}, pub.topics())
	for _, e := range pub.events {
		assert.Equal(t, EventAppointmentBooked, e.Type)
	}
}

func TestDispatcher_WalkInOnlyRealtime(t *testing.T) {
	email, sms, pub := &mockEmail{}, &mockSMS{}, &mockPublisher{}
	d := newTestDispatcher(email, sms, pub)
	notice := testNotice(true)

	skippedBefore := testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("email", "skipped"))
	res := d.NotifyBooked(context.Background(), notice)

	assert.False(t, res.EmailSent)
	assert.False(t, res.SMSSent)
	assert.True(t, res.Realtime)
	assert.Empty(t, email.sent)
	assert.Empty(t, sms.to)
	assert.ElementsMatch(t, []string{
		websocket.UserTopic(notice.Doctor.ID.String()),
		websocket.ScheduleTopic,
	}, pub.topics())
	assert.Equal(t, skippedBefore+1, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("email", "skipped")))
}

func TestDispatcher_FailuresDegradeToFlags(t *testing.T) {
	boom := errors.New("boom")
	d := newTestDispatcher(&mockEmail{err: boom}, &mockSMS{err: boom}, &mockPublisher{err: boom})

	failedBefore := testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("sms", "failed"))
	res := d.NotifyBooked(context.Background(), testNotice(false))

	assert.Equal(t, scheduling.NotifyResult{}, res)
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("sms", "failed")))
}

func TestDispatcher_NoTransports(t *testing.T) {
	d := newTestDispatcher(nil, nil, nil)
	res := d.NotifyBooked(context.Background(), testNotice(false))
	assert.Equal(t, scheduling.NotifyResult{}, res)

	assert.Equal(t, scheduling.NotifyResult{}, d.NotifyBooked(context.Background(), scheduling.BookingNotice{}))
}

func TestDispatcher_InvalidPhoneSkipsSMS(t *testing.T) {
	sms := &mockSMS{}
	d := newTestDispatcher(&mockEmail{}, sms, nil)
	notice := testNotice(false)
	bad := "12"
	notice.Patient.Phone = &bad

	res := d.NotifyBooked(context.Background(), notice)
	assert.True(t, res.EmailSent)
	assert.False(t, res.SMSSent)
	assert.Empty(t, sms.to)
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
	panic bool
}

func (c *countingNotifier) NotifyBooked(context.Context, scheduling.BookingNotice) scheduling.NotifyResult {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	if c.panic {
		panic("transport exploded")
	}
	return scheduling.NotifyResult{EmailSent: true}
}

func TestQueue_DeliversAndDrains(t *testing.T) {
	next := &countingNotifier{}
	q := NewQueue(next, 2, 10, time.Second, zerolog.Nop())

	for i := 0; i < 5; i++ {
		res := q.NotifyBooked(context.Background(), testNotice(false))
		assert.True(t, res.Queued)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))
	assert.Equal(t, 5, next.count)

	// closed queue drops
	assert.False(t, q.NotifyBooked(context.Background(), testNotice(false)).Queued)
	require.NoError(t, q.Close(ctx))
}

func TestQueue_SurvivesPanic(t *testing.T) {
	next := &countingNotifier{panic: true}
	q := NewQueue(next, 1, 4, 0, zerolog.Nop())

	q.NotifyBooked(context.Background(), testNotice(true))
	q.NotifyBooked(context.Background(), testNotice(true))

	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, 2, next.count)
}
