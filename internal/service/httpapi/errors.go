package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sony/gobreaker/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ReservationStatusHeader выставляется на 202, когда заказ сохранён без части резервов.
const ReservationStatusHeader = "X-Reservation-Status"

// internalErrorText скрывает от клиента детали непредвиденных ошибок.
const internalErrorText = "internal error"

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type fieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type validationErrorResponse struct {
	Message string          `json:"message"`
	Errors  []fieldErrorDTO `json:"errors,omitempty"`
}

type insufficientStockResponse struct {
	Message   string `json:"message"`
	ProductID string `json:"productId"`
	Available int64  `json:"available"`
	Requested int64  `json:"requested"`
}

type partialReservationResponse struct {
	Message     string          `json:"message"`
	Order       orderDTO        `json:"order"`
	FailedLines []failedLineDTO `json:"failedLines"`
}

// writeError переводит доменную ошибку в HTTP-ответ. failureMessage
// отдаётся клиенту при сбоях хранилища.
func writeError(w http.ResponseWriter, logger *log.Entry, err error, failureMessage string) {
	var (
		partial  *domain.PartialReservationError
		verr     *domain.ValidationError
		stockErr *domain.InsufficientStockError
		notFound *domain.ProductNotFoundError
		perr     *domain.PersistenceError
	)

	switch {
	case errors.As(err, &partial):
		failed := make([]failedLineDTO, 0, len(partial.FailedLines))
		for _, line := range partial.FailedLines {
			dto := failedLineDTO{Position: line.Position, ProductID: line.ProductID, Quantity: line.Quantity}
			if line.Err != nil {
				dto.Error = line.Err.Error()
			}
			failed = append(failed, dto)
		}
		w.Header().Set(ReservationStatusHeader, "partial")
		writeJSON(w, logger, http.StatusAccepted, partialReservationResponse{
			Message:     "Order placed, but stock could not be reserved for some items.",
			Order:       toOrderDTO(partial.Order),
			FailedLines: failed,
		})
	case errors.As(err, &verr):
		fields := make([]fieldErrorDTO, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			fields = append(fields, fieldErrorDTO{Field: f.Field, Message: f.Message})
		}
		message := verr.Error()
		if len(verr.Fields) == 1 && verr.Fields[0].Field == "status" {
			message = verr.Fields[0].Message
		}
		writeJSON(w, logger, http.StatusBadRequest, validationErrorResponse{Message: message, Errors: fields})
	case errors.As(err, &stockErr):
		writeJSON(w, logger, http.StatusBadRequest, insufficientStockResponse{
			Message:   stockErr.Error(),
			ProductID: stockErr.ProductID,
			Available: stockErr.Available,
			Requested: stockErr.Requested,
		})
	case errors.As(err, &notFound):
		writeJSON(w, logger, http.StatusNotFound, errorResponse{Message: notFound.Error()})
	case errors.Is(err, domain.ErrProductNotFound):
		writeJSON(w, logger, http.StatusNotFound, errorResponse{Message: "Product not found"})
	case errors.Is(err, domain.ErrOrderNotFound):
		writeJSON(w, logger, http.StatusNotFound, errorResponse{Message: "Order not found"})
	case errors.Is(err, domain.ErrProductAlreadyExists):
		writeJSON(w, logger, http.StatusConflict, errorResponse{Message: "Product already exists"})
	case errors.Is(err, domain.ErrOrderVersionConflict):
		writeJSON(w, logger, http.StatusConflict, errorResponse{Message: "Order was modified concurrently, retry the request"})
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		logger.WithError(err).Warn("catalog circuit breaker rejected request")
		writeJSON(w, logger, http.StatusServiceUnavailable, errorResponse{Message: "Catalog is temporarily unavailable"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, logger, http.StatusServiceUnavailable, errorResponse{Message: "Request was cancelled", Error: err.Error()})
	case errors.As(err, &perr):
		logger.WithError(err).Error("storage failure")
		writeJSON(w, logger, http.StatusInternalServerError, errorResponse{
			Message: failureMessage,
			Error:   perr.Op + ": " + domain.ErrPersistence.Error(),
		})
	default:
		logger.WithError(err).Error("unexpected error")
		writeJSON(w, logger, http.StatusInternalServerError, errorResponse{Message: failureMessage, Error: internalErrorText})
	}
}

func writeJSON(w http.ResponseWriter, logger *log.Entry, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Warn("failed to write response body")
	}
}
