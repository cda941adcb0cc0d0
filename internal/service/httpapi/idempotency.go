package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// IdempotencyKeyHeader - заголовок с ключом идемпотентности.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader выставляется на ответах, отданных из кеша.
	IdempotentReplayHeader = "Idempotent-Replay"
)

// idempotent кеширует ответ POST-запроса по Idempotency-Key. Повтор с тем же
// телом получает сохранённый ответ, с другим телом или во время обработки - 409.
func (a *API) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		if a.idempotency == nil || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		logger := a.entry(r).WithField("idempotency_key", key)

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, logger, domain.NewValidationError("body", "failed to read request body"), "Failed to place order")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		record, err := a.idempotency.CreateProcessing(key, requestHash(r.Method, r.URL.Path, body), a.now().Add(a.idempotencyTTL))
		if err != nil {
			a.replay(w, logger, err, record)
			return
		}

		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.statusCode()
		if status >= http.StatusInternalServerError {
			err = a.idempotency.MarkFailed(key, rec.body.Bytes(), status)
		} else {
			err = a.idempotency.MarkDone(key, rec.body.Bytes(), status)
		}
		if err != nil {
			logger.WithError(err).Warn("failed to store idempotent response")
		}
	})
}

func (a *API) replay(w http.ResponseWriter, logger *log.Entry, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeJSON(w, logger, http.StatusConflict, errorResponse{
			Message: "Idempotency key is already used with a different request payload",
		})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			if record.HTTPStatus == 0 {
				writeJSON(w, logger, http.StatusInternalServerError, errorResponse{Message: "Idempotency cache is empty"})
				return
			}
			logger.Info("replaying idempotent response")
			w.Header().Set(IdempotentReplayHeader, "true")
			if record.HTTPStatus == http.StatusAccepted {
				w.Header().Set(ReservationStatusHeader, "partial")
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(record.HTTPStatus)
			if _, err := w.Write(record.ResponseBody); err != nil {
				logger.WithError(err).Warn("failed to write replayed response")
			}
		case domain.IdempotencyStatusProcessing:
			writeJSON(w, logger, http.StatusConflict, errorResponse{
				Message: "Request with the same idempotency key is already processing",
			})
		default:
			writeJSON(w, logger, http.StatusInternalServerError, errorResponse{Message: "Unknown idempotency record status"})
		}
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		writeJSON(w, logger, http.StatusInternalServerError, errorResponse{Message: "Failed to initialize idempotent request"})
	}
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// responseRecorder пишет ответ клиенту и параллельно копит его для кеша.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

func (r *responseRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
