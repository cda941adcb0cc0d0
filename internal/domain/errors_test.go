package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "version conflict error", err: ErrOrderVersionConflict, want: true},
		{name: "wrapped version conflict error", err: fmt.Errorf("save: %w", ErrOrderVersionConflict), want: true},
		{name: "other error", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "idempotency already exists", err: ErrIdempotencyKeyAlreadyExists, want: true},
		{name: "idempotency hash mismatch", err: ErrIdempotencyHashMismatch, want: true},
		{name: "wrapped idempotency conflict", err: errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")), want: true},
		{name: "non idempotency error", err: ErrOrderVersionConflict, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIdempotencyConflict(tt.err); got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "validation", err: NewValidationError("items", "at least one item is required"), want: ErrValidation},
		{name: "product not found", err: &ProductNotFoundError{ProductID: "p-1"}, want: ErrProductNotFound},
		{name: "insufficient stock", err: &InsufficientStockError{ProductID: "p-1", Available: 2, Requested: 5}, want: ErrInsufficientStock},
		{name: "persistence", err: &PersistenceError{Op: "create order", Err: errors.New("conn reset")}, want: ErrPersistence},
		{name: "partial reservation", err: &PartialReservationError{Order: Order{ID: "o-1"}}, want: ErrPartialReservation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Fatalf("expected %v to match %v", tt.err, tt.want)
			}
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.want) {
				t.Fatalf("expected wrapped %v to match %v", wrapped, tt.want)
			}
		})
	}
}

func TestPersistenceError_KeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := &PersistenceError{Op: "create order", Err: cause}

	if !errors.Is(err, cause) {
		t.Fatal("persistence error must unwrap to its cause")
	}
	if err.Error() != "create order: persistence failed: connection refused" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestPartialReservationError_ExposesLineCauses(t *testing.T) {
	err := &PartialReservationError{
		Order: Order{ID: "order-7"},
		FailedLines: []FailedLine{
			{Position: 1, ProductID: "p-2", Quantity: 1, Err: &InsufficientStockError{ProductID: "p-2", Available: 0, Requested: 1}},
		},
	}

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatal("expected InsufficientStockError to be reachable through PartialReservationError")
	}
	if stockErr.ProductID != "p-2" || stockErr.Available != 0 || stockErr.Requested != 1 {
		t.Fatalf("unexpected stock error payload: %+v", stockErr)
	}
	if err.Error() != "order order-7 created but stock not reserved for products [p-2]" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestValidationError_Message(t *testing.T) {
	verr := &ValidationError{}
	if !verr.Empty() {
		t.Fatal("new validation error must be empty")
	}
	verr.Add("customer.name", "is required")
	verr.Add("items[0].quantity", "must be at least 1")

	want := "validation failed: customer.name: is required; items[0].quantity: must be at least 1"
	if verr.Error() != want {
		t.Fatalf("unexpected message: %s", verr.Error())
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(&ProductNotFoundError{ProductID: "x"}) {
		t.Fatal("product not found must be not found")
	}
	if !IsNotFound(fmt.Errorf("load: %w", ErrOrderNotFound)) {
		t.Fatal("order not found must be not found")
	}
	if IsNotFound(ErrInsufficientStock) {
		t.Fatal("insufficient stock is not a not-found error")
	}
}
