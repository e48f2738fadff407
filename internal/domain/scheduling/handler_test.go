package scheduling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinic/booking/internal/domain/identity"
	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/internal/platform/validate"
)

func newTestServer(f *fixture) *echo.Echo {
	e := echo.New()
	e.Validator = validate.New()
	e.Use(auth.DevAuthMiddleware())
	NewHandler(f.registry, f.svc).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func do(e *echo.Echo, method, path, body string, u *identity.User) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(auth.DevUserHeader, u.ID.String())
	req.Header.Set(auth.DevRoleHeader, string(u.Role))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateSlot(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	day := DateOf(testNow).AddDays(1).String()

	body := `{"doctor_id":"` + f.doctor.ID.String() + `","date":"` + day + `","start_time":"09:00","end_time":"09:30"}`
	rec := do(e, http.MethodPost, "/api/v1/slots", body, f.doctor)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var slot TimeSlot
	if err := json.Unmarshal(rec.Body.Bytes(), &slot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if slot.Start.String() != "09:00" || !slot.Available || slot.Date.String() != day {
		t.Errorf("unexpected slot %+v", slot)
	}

	tests := []struct {
		name string
		body string
		user *identity.User
		want int
	}{
		{"patient", body, f.patient, http.StatusForbidden},
		{"duplicate", body, f.secretary, http.StatusConflict},
		{"bad time", strings.Replace(body, `"09:00"`, `"9:00"`, 1), f.doctor, http.StatusBadRequest},
		{"missing doctor", `{"date":"` + day + `","start_time":"10:00","end_time":"10:30"}`, f.doctor, http.StatusBadRequest},
		{"end before start", strings.Replace(body, `"09:30"`, `"08:30"`, 1), f.doctor, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/api/v1/slots", tt.body, tt.user)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_ListSlots(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	f.seedSlot(f.doctor, 0, "09:00", "09:30")
	f.seedSlot(f.doctor, 1, "09:00", "09:30")

	today := DateOf(testNow)
	path := "/api/v1/slots?doctor_id=" + f.doctor.ID.String() + "&start_date=" + today.String() + "&end_date=" + today.AddDays(1).String()
	rec := do(e, http.MethodGet, path, "", f.patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var slots []TimeSlot
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(slots) != 2 {
		t.Errorf("expected 2 slots, got %d", len(slots))
	}

	rec = do(e, http.MethodGet, "/api/v1/slots?doctor_id=nope", "", f.patient)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	rec = do(e, http.MethodGet, "/api/v1/slots?doctor_id="+f.doctor.ID.String()+"&date=10-03-2025", "", f.patient)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", rec.Code)
	}
}

func TestHandler_BookAndConflict(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	slot := f.seedSlot(f.doctor, 1, "09:00", "09:30")

	body := `{"doctor_id":"` + f.doctor.ID.String() + `","reason":"checkup","time_slot_id":"` + slot.ID.String() + `"}`
	rec := do(e, http.MethodPost, "/api/v1/appointments", body, f.patient)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Appointment  Appointment  `json:"appointment"`
		Notification NotifyResult `json:"notification"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Appointment.Status != StatusScheduled || !res.Notification.EmailSent {
		t.Errorf("unexpected response %+v", res)
	}

	other := f.dir.add(identity.RolePatient, "amina")
	rec = do(e, http.MethodPost, "/api/v1/appointments", body, other)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPost, "/api/v1/appointments", `{"doctor_id":"`+f.doctor.ID.String()+`"}`, f.patient)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_AppointmentLifecycle(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	a := book(t, f, actorOf(f.patient), BookingRequest{DoctorID: f.doctor.ID.String(), Reason: "a", ExplicitTime: "09:00", Date: "2025-06-11"})
	path := "/api/v1/appointments/" + a.ID.String()

	if rec := do(e, http.MethodGet, path, "", f.patient); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, path, "", f.other); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPatch, path, `{"status":"confirmed"}`, f.patient); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for patient update, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPatch, path, `{"status":"completed"}`, f.doctor); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid transition, got %d", rec.Code)
	}
	rec := do(e, http.MethodPatch, path, `{"status":"confirmed","notes":"fasting"}`, f.doctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/api/v1/appointments?date=2025-06-11&_count=10", "", f.secretary)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Data  []Appointment `json:"data"`
		Total int           `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 1 || page.Data[0].Notes != "fasting" {
		t.Errorf("unexpected page %+v", page)
	}

	rec = do(e, http.MethodGet, "/api/v1/appointments/calendar?start=2025-06-11&end=2025-06-12", "", f.doctor)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"extendedProps"`) {
		t.Errorf("unexpected calendar response %d: %s", rec.Code, rec.Body.String())
	}

	if rec := do(e, http.MethodDelete, path, "", f.secretary); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, path, "", f.secretary); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}
