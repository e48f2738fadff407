package identity

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/pkg/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/doctors", h.ListDoctors)
	api.GET("/users/:id", h.GetUser)
	api.POST("/users", h.CreateUser, auth.RequireRole(string(RoleAdmin)))
}

type createUserRequest struct {
	Role      Role    `json:"role" validate:"required,oneof=doctor secretary patient admin"`
	FirstName string  `json:"first_name" validate:"max=150"`
	LastName  string  `json:"last_name" validate:"max=150"`
	Email     string  `json:"email" validate:"required,email"`
	Phone     *string `json:"phone,omitempty"`
}

func (h *Handler) CreateUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	u := &User{Role: req.Role, FirstName: req.FirstName, LastName: req.LastName, Email: req.Email, Phone: req.Phone}
	if err := h.svc.CreateUser(c.Request().Context(), u); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := ActorFromContext(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	u, err := h.svc.GetUserForActor(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	doctors, err := h.svc.FindDoctors(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if doctors == nil {
		doctors = []*User{}
	}
	return c.JSON(http.StatusOK, doctors)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.Message(err)).SetInternal(err)
}
