package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const maxListLimit = 500

func (a *API) placeOrder(w http.ResponseWriter, r *http.Request) {
	logger := a.entry(r)

	var req placeOrderRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		writeError(w, logger, err, "Failed to place order")
		return
	}

	customer := domain.Customer{
		Name:       req.Customer.Name,
		Email:      req.Customer.Email,
		Address:    req.Customer.Address,
		City:       req.Customer.City,
		PostalCode: req.Customer.Zip,
	}
	lines := make([]domain.OrderLineRequest, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, domain.OrderLineRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := a.orders.PlaceOrder(r.Context(), customer, lines)
	if err != nil {
		writeError(w, logger.WithField("order_id", order.ID), err, "Failed to place order")
		return
	}

	w.Header().Set("Location", "/api/orders/"+order.ID)
	writeJSON(w, logger, http.StatusCreated, toOrderDTO(order))
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	logger := a.entry(r)

	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, logger, err, "Failed to list orders")
		return
	}

	views, err := a.orders.ListOrders(r.Context(), limit)
	if err != nil {
		writeError(w, logger, err, "Failed to list orders")
		return
	}

	result := make([]orderDTO, 0, len(views))
	for _, view := range views {
		result = append(result, toOrderViewDTO(view))
	}
	writeJSON(w, logger, http.StatusOK, result)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := a.entry(r).WithField("order_id", id)

	view, err := a.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, logger, err, "Failed to load order")
		return
	}
	writeJSON(w, logger, http.StatusOK, toOrderViewDTO(view))
}

func (a *API) orderTimeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := a.entry(r).WithField("order_id", id)

	events, err := a.orders.Timeline(r.Context(), id)
	if err != nil {
		writeError(w, logger, err, "Failed to load order timeline")
		return
	}

	result := make([]timelineEventDTO, 0, len(events))
	for _, e := range events {
		result = append(result, timelineEventDTO{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	writeJSON(w, logger, http.StatusOK, result)
}

func (a *API) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := a.entry(r).WithField("order_id", id)

	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, logger, err, "Failed to update order status")
		return
	}

	order, err := a.orders.UpdateOrderStatus(r.Context(), id, domain.OrderStatus(req.Status))
	if err != nil {
		writeError(w, logger, err, "Failed to update order status")
		return
	}
	writeJSON(w, logger, http.StatusOK, toOrderDTO(order))
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, domain.NewValidationError("limit", "must be a non-negative integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
