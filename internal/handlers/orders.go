package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/chatrelay/chatrelay/internal/auth"
	"github.com/chatrelay/chatrelay/internal/order"
)

type OrderHandler struct {
	service *order.Service
	logger  *slog.Logger
}

func NewOrderHandler(log *slog.Logger, service *order.Service) *OrderHandler {
	return &OrderHandler{
		service: service,
		logger:  log.With(slog.String("handler", "orders")),
	}
}

func (h *OrderHandler) Register(e *echo.Echo) {
	group := e.Group("/api/orders")
	group.POST("", h.Create)
	group.GET("", h.List)
	group.GET("/:orderId", h.Get)
	group.PUT("/:orderId", h.Update)
	group.DELETE("/:orderId", h.Delete)
}

func (h *OrderHandler) Create(c echo.Context) error {
	session, err := auth.SessionFromContext(c)
	if err != nil {
		return err
	}
	var input order.CreateInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.service.Create(c.Request().Context(), session.UserID, input)
	if err != nil {
		return h.orderError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// List godoc
// @Summary List orders
// @Tags orders
// @Param status query string false "Order status, or all"
// @Param startDate query string false "Earliest creation date"
// @Param endDate query string false "Latest creation date"
// @Success 200 {array} order.Order
// @Router /api/orders [get]
func (h *OrderHandler) List(c echo.Context) error {
	orders, err := h.service.List(c.Request().Context(), order.Filter{
		Status:    order.Status(c.QueryParam("status")),
		StartDate: c.QueryParam("startDate"),
		EndDate:   c.QueryParam("endDate"),
	})
	if err != nil {
		return h.orderError(err)
	}
	return c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) Get(c echo.Context) error {
	o, err := h.service.Get(c.Request().Context(), strings.TrimSpace(c.Param("orderId")))
	if err != nil {
		return h.orderError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *OrderHandler) Update(c echo.Context) error {
	var input order.UpdateInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.service.Update(c.Request().Context(), strings.TrimSpace(c.Param("orderId")), input)
	if err != nil {
		return h.orderError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *OrderHandler) Delete(c echo.Context) error {
	if err := h.service.Delete(c.Request().Context(), strings.TrimSpace(c.Param("orderId"))); err != nil {
		return h.orderError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Order deleted successfully"})
}

func (h *OrderHandler) orderError(err error) error {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, order.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Order not found")
	case errors.Is(err, order.ErrInvalidDate), errors.As(err, &verrs):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("order request failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "order request failed")
	}
}
