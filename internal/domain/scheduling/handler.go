package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/booking/internal/domain/identity"
	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/pkg/apperr"
	"github.com/clinic/booking/pkg/pagination"
)

type Handler struct {
	slots *SlotRegistry
	appts *AppointmentService
}

func NewHandler(slots *SlotRegistry, appts *AppointmentService) *Handler {
	return &Handler{slots: slots, appts: appts}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/slots", h.ListSlots)
	api.GET("/slots/:id", h.GetSlot)

	staff := api.Group("", auth.RequireRole(string(identity.RoleDoctor), string(identity.RoleSecretary)))
	staff.POST("/slots", h.CreateSlot)
	staff.POST("/slots/bulk", h.CreateSlots)
	staff.PATCH("/slots/:id", h.SetSlotAvailability)
	staff.DELETE("/slots/:id", h.DeleteSlot)

	api.POST("/appointments", h.CreateAppointment)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/calendar", h.Calendar)
	api.GET("/appointments/:id", h.GetAppointment)
	staff.PATCH("/appointments/:id", h.UpdateAppointment)
	staff.DELETE("/appointments/:id", h.DeleteAppointment)
}

// -- Slots --

func (h *Handler) CreateSlot(c echo.Context) error {
	actor, err := identity.ActorFromContext(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	var in SlotInput
	if err := bindAndValidate(c, &in); err != nil {
		return err
	}
	slot, err := h.slots.CreateSlot(c.Request().Context(), actor, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, slot)
}

func (h *Handler) CreateSlots(c echo.Context) error {
	actor, err := identity.ActorFromContext(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	var in BulkSlotInput
	if err := bindAndValidate(c, &in); err != nil {
		return err
	}
	res, err := h.slots.CreateSlots(c.Request().Context(), actor, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListSlots(c echo.Context) error {
	var q SlotQuery
	if ref := c.QueryParam("doctor_id"); ref != "" {
		id, err := uuid.Parse(ref)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		q.DoctorID = id
	}

	start := c.QueryParam("start_date")
	if start == "" {
		start = c.QueryParam("date")
	}
	var err error
	if start != "" {
		if q.From, err = ParseDate(start); err != nil {
			return httpError(err)
		}
	}
	if end := c.QueryParam("end_date"); end != "" {
		if q.To, err = ParseDate(end); err != nil {
			return httpError(err)
		}
	}
	if v := c.QueryParam("include_unavailable"); v != "" {
		q.IncludeUnavailable, _ = strconv.ParseBool(v)
	}

	slots, err := h.slots.FindAvailable(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	if slots == nil {
		slots = []*TimeSlot{}
	}
	return c.JSON(http.StatusOK, slots)
}

func (h *Handler) GetSlot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	slot, err := h.slots.GetSlot(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, slot)
}

type availabilityRequest struct {
	Available *bool `json:"is_available" validate:"required"`
}

func (h *Handler) SetSlotAvailability(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := identity.ActorFromContext(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	var req availabilityRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	slot, err := h.slots.SetAvailability(c.Request().Context(), actor, id, *req.Available)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := identity.ActorFromContext(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if err := h.slots.DeleteSlot(c.Request().Context(), actor, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Appointments --

func (h *Handler) CreateAppointment(c echo.Context) error {
	actor, err := identity.ActorFromContext(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.appts.Create(c.Request().Context(), actor, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	actor, err := identity.ActorFromContext(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	items, total, err := h.appts.List(c.Request().Context(), actor, listQuery(c), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Calendar(c echo.Context) error {
	actor, err := identity.ActorFromContext(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	q := listQuery(c)
	if q.From, err = parseInstant(c.QueryParam("start"), h.appts.loc); err != nil {
		return httpError(err)
	}
	if q.To, err = parseInstant(c.QueryParam("end"), h.appts.loc); err != nil {
		return httpError(err)
	}
	events, err := h.appts.Calendar(c.Request().Context(), actor, q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, events)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := identity.ActorFromContext(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	a, err := h.appts.Get(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := identity.ActorFromContext(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	var patch AppointmentPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.appts.Update(c.Request().Context(), actor, id, patch)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := identity.ActorFromContext(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if err := h.appts.Delete(c.Request().Context(), actor, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func listQuery(c echo.Context) ListQuery {
	return ListQuery{
		DoctorID:  c.QueryParam("doctor_id"),
		PatientID: c.QueryParam("patient_id"),
		Date:      c.QueryParam("date"),
	}
}

// parseInstant accepts RFC 3339 or a bare date taken as clinic-local midnight.
func parseInstant(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	day, err := ParseDate(s)
	if err != nil {
		return nil, err
	}
	t := day.At(Clock{}, loc)
	return &t, nil
}

func bindAndValidate(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return httpError(ae)
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(v)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.Message(err)).SetInternal(err)
}
