// internal/ordering/handler.go
package ordering

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"recordstore/internal/httpx"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the order endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.handlePlaceOrder)
		r.Get("/", h.handleListOrders)
		r.Get("/{id}", h.handleGetOrder)
	})
}

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var in PlaceOrderInput
	if err := httpx.Decode(w, r, &in); err != nil {
		httpx.Error(w, r, http.StatusBadRequest, err)
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), in)
	if err != nil {
		httpx.Error(w, r, statusFor(err), err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, r, statusFor(err), err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), r.URL.Query().Get("recordId"))
	if err != nil {
		httpx.Error(w, r, statusFor(err), err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
