// Package notification delivers booking confirmations by email, SMS and the
// realtime hub.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelRealtime Channel = "realtime"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages. to is E.164.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Built-in template ids.
const (
	TemplateBookedEmail = "appointment-booked-email"
	TemplateBookedSMS   = "appointment-booked-sms"
)

// Template is a reusable message with {{key}} placeholders.
type Template struct {
	ID      string  `json:"id"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Channel Channel `json:"channel"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateBookedEmail,
			Subject: "Appointment Confirmation",
			Body: "Hello {{patient_name}},\n\n" +
				"Your appointment with Dr. {{doctor_name}} is confirmed for {{date}} at {{time}}.\n" +
				"Reason: {{reason}}\n\n" +
				"Clinic address: {{clinic_address}}\n" +
				"Clinic phone: {{clinic_phone}}\n\n" +
				"Thank you for choosing {{clinic_name}}.\n",
			Channel: ChannelEmail,
		},
		{
			ID: TemplateBookedSMS,
			Body: "Hello {{patient_name}}, your appointment with Dr. {{doctor_name}} is confirmed for " +
				"{{date}} at {{time}}. Please call {{clinic_phone}} if you need to reschedule.",
			Channel: ChannelSMS,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// runWithContext runs a blocking client call and gives up when ctx ends. The
// call itself keeps running in the background in that case.
func runWithContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
