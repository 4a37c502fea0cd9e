package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/auth"
	"github.com/chatrelay/chatrelay/internal/order"
)

func newOrderServer(t *testing.T) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth.SetSession(c, auth.Session{UserID: "Uop"})
			return next(c)
		}
	})
	NewOrderHandler(discardLogger(), order.NewService(discardLogger(), newDocs(t))).Register(e)
	return e
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestOrderCRUD(t *testing.T) {
	r := require.New(t)
	e := newOrderServer(t)

	rec := doJSON(e, http.MethodPost, "/api/orders", `{"customerName":"Amy","items":[{"name":"tea","quantity":1,"price":40}],"totalAmount":40}`)
	r.Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var created order.Order
	r.NoError(json.Unmarshal(rec.Body.Bytes(), &created))
	r.NotEmpty(created.ID)
	r.Equal("Uop", created.UserID)
	r.Equal(order.StatusUnprocessed, created.Status)
	r.True(strings.HasPrefix(created.OrderNumber, "ORD"))

	rec = doJSON(e, http.MethodGet, "/api/orders/"+created.ID, "")
	r.Equal(http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodPut, "/api/orders/"+created.ID, `{"status":"shipped"}`)
	r.Equal(http.StatusOK, rec.Code, rec.Body.String())
	var updated order.Order
	r.NoError(json.Unmarshal(rec.Body.Bytes(), &updated))
	r.Equal(order.StatusShipped, updated.Status)
	r.Equal("Amy", updated.CustomerName)

	rec = doJSON(e, http.MethodGet, "/api/orders?status=shipped", "")
	r.Equal(http.StatusOK, rec.Code)
	var listed []order.Order
	r.NoError(json.Unmarshal(rec.Body.Bytes(), &listed))
	r.Len(listed, 1)

	rec = doJSON(e, http.MethodGet, "/api/orders?status=cancelled", "")
	r.Equal(http.StatusOK, rec.Code)
	r.Equal("[]", strings.TrimSpace(rec.Body.String()))

	rec = doJSON(e, http.MethodDelete, "/api/orders/"+created.ID, "")
	r.Equal(http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/orders/"+created.ID, "")
	r.Equal(http.StatusNotFound, rec.Code)
}

func TestOrderValidationErrors(t *testing.T) {
	r := require.New(t)
	e := newOrderServer(t)

	rec := doJSON(e, http.MethodPost, "/api/orders", `{"items":[]}`)
	r.Equal(http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/orders", `{"customerName":"a","status":"lost"}`)
	r.Equal(http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/orders?startDate=yesterday", "")
	r.Equal(http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPut, "/api/orders/missing", `{"note":"x"}`)
	r.Equal(http.StatusNotFound, rec.Code)
}
