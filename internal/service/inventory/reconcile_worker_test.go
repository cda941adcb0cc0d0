package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type reconcileFixture struct {
	catalog  *memory.CatalogStore
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   *memory.OutboxRepository
}

func newReconcileFixture(t *testing.T, stock int64) *reconcileFixture {
	t.Helper()
	ctx := context.Background()

	f := &reconcileFixture{
		catalog:  memory.NewCatalogStore(),
		orders:   memory.NewOrderRepository(),
		timeline: memory.NewTimelineRepository(),
		outbox:   memory.NewOutboxRepository(),
	}
	if err := f.catalog.Create(ctx, domain.Product{ID: "p-1", Name: "Lamp", PriceMinor: 500, Stock: stock}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID: "order-1",
		Customer: domain.Customer{
			Name: "Ada", Email: "ada@example.com", Address: "1 Main St", City: "London", PostalCode: "N1",
		},
		Lines:      []domain.OrderLine{{Position: 0, ProductID: "p-1", Quantity: 2, UnitPriceMinor: 500}},
		TotalMinor: 1000,
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := f.orders.Create(ctx, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return f
}

func (f *reconcileFixture) worker(options ...Option) *ReconcileWorker {
	base := []Option{WithTimeline(f.timeline), WithOutbox(f.outbox), WithPollInterval(time.Millisecond)}
	return NewReconcileWorker(f.catalog, f.orders, append(base, options...)...)
}

func TestReconcileWorker_CompletesOrderWhenStockArrives(t *testing.T) {
	f := newReconcileFixture(t, 0)
	ctx := context.Background()
	line := domain.Reservation{OrderID: "order-1", Position: 0, ProductID: "p-1", Qty: 2}

	if _, err := f.catalog.ReserveLine(ctx, line); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock on first reserve, got %v", err)
	}

	worker := f.worker()
	res := worker.ProcessOnce(ctx)
	if res.Attempted != 1 || res.Reserved != 0 || len(res.Completed) != 0 {
		t.Fatalf("unexpected result without stock: %+v", res)
	}

	product, err := f.catalog.FindByID(ctx, "p-1")
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	product.Stock = 5
	if err := f.catalog.Update(ctx, product); err != nil {
		t.Fatalf("restock: %v", err)
	}

	res = worker.ProcessOnce(ctx)
	if res.Reserved != 1 || len(res.Completed) != 1 || res.Completed[0] != "order-1" {
		t.Fatalf("unexpected result after restock: %+v", res)
	}

	product, _ = f.catalog.FindByID(ctx, "p-1")
	if product.Stock != 3 {
		t.Fatalf("expected stock 3, got %d", product.Stock)
	}

	events, err := f.timeline.List("order-1")
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(events) != 1 || events[0].Type != domain.TimelineReservationCompleted {
		t.Fatalf("expected ReservationCompleted event, got %+v", events)
	}
	if got := len(f.outbox.Messages(domain.EventReservationCompleted)); got != 1 {
		t.Fatalf("expected 1 reservation.completed message, got %d", got)
	}

	res = worker.ProcessOnce(ctx)
	if res.Attempted != 0 {
		t.Fatalf("expected nothing to reconcile, got %+v", res)
	}
}

func (f *reconcileFixture) setOrderStatus(t *testing.T, status domain.OrderStatus) {
	t.Helper()
	ctx := context.Background()
	order, err := f.orders.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if _, err := f.orders.UpdateStatus(ctx, "order-1", status, order.Version); err != nil {
		t.Fatalf("update status: %v", err)
	}
}

func (f *reconcileFixture) restock(t *testing.T, stock int64) {
	t.Helper()
	ctx := context.Background()
	product, err := f.catalog.FindByID(ctx, "p-1")
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	product.Stock = stock
	if err := f.catalog.Update(ctx, product); err != nil {
		t.Fatalf("restock: %v", err)
	}
}

func TestReconcileWorker_AbandonsLinesOfClosedOrders(t *testing.T) {
	for _, status := range []domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusDelivered} {
		t.Run(string(status), func(t *testing.T) {
			f := newReconcileFixture(t, 0)
			ctx := context.Background()
			line := domain.Reservation{OrderID: "order-1", Position: 0, ProductID: "p-1", Qty: 2}

			if _, err := f.catalog.ReserveLine(ctx, line); !errors.Is(err, domain.ErrInsufficientStock) {
				t.Fatalf("expected insufficient stock, got %v", err)
			}
			f.setOrderStatus(t, status)
			f.restock(t, 5)

			worker := f.worker()
			res := worker.ProcessOnce(ctx)
			if res.Attempted != 0 || res.Reserved != 0 || res.Abandoned != 1 || len(res.Completed) != 0 {
				t.Fatalf("unexpected result: %+v", res)
			}

			product, _ := f.catalog.FindByID(ctx, "p-1")
			if product.Stock != 5 {
				t.Fatalf("closed order must not consume stock, got %d", product.Stock)
			}
			lines, _ := f.catalog.ListByOrder(ctx, "order-1")
			if len(lines) != 1 || lines[0].Status != domain.ReservationStatusAbandoned {
				t.Fatalf("expected abandoned line, got %+v", lines)
			}
			if got := len(f.outbox.Messages(domain.EventReservationCompleted)); got != 0 {
				t.Fatalf("closed order must not emit reservation.completed, got %d", got)
			}
			events, _ := f.timeline.List("order-1")
			if len(events) != 0 {
				t.Fatalf("unexpected timeline events: %+v", events)
			}

			res = worker.ProcessOnce(ctx)
			if res.Attempted != 0 || res.Abandoned != 0 {
				t.Fatalf("abandoned line must not be revisited, got %+v", res)
			}
		})
	}
}

func TestReconcileWorker_ReservesLinesOfShippedOrders(t *testing.T) {
	f := newReconcileFixture(t, 0)
	ctx := context.Background()
	line := domain.Reservation{OrderID: "order-1", Position: 0, ProductID: "p-1", Qty: 2}

	if _, err := f.catalog.ReserveLine(ctx, line); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	f.setOrderStatus(t, domain.OrderStatusShipped)
	f.restock(t, 2)

	res := f.worker().ProcessOnce(ctx)
	if res.Reserved != 1 || res.Abandoned != 0 || len(res.Completed) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestReconcileWorker_SkipsLinesOfMissingOrders(t *testing.T) {
	f := newReconcileFixture(t, 5)
	ctx := context.Background()
	orphan := domain.Reservation{OrderID: "ghost", Position: 0, ProductID: "p-1", Qty: 1}
	if err := f.catalog.RecordFailure(ctx, orphan, "timeout"); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	res := f.worker().ProcessOnce(ctx)
	if res.Attempted != 0 || res.Reserved != 0 {
		t.Fatalf("line without order must not be reserved, got %+v", res)
	}
	product, _ := f.catalog.FindByID(ctx, "p-1")
	if product.Stock != 5 {
		t.Fatalf("stock must stay 5, got %d", product.Stock)
	}
}

func TestReconcileWorker_SkipsExhaustedLines(t *testing.T) {
	f := newReconcileFixture(t, 10)
	ctx := context.Background()
	line := domain.Reservation{OrderID: "order-1", Position: 0, ProductID: "p-1", Qty: 2}

	for i := 0; i < 3; i++ {
		if err := f.catalog.RecordFailure(ctx, line, "timeout"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	res := f.worker(WithMaxAttempts(3)).ProcessOnce(ctx)
	if res.Attempted != 0 {
		t.Fatalf("exhausted line must not be retried, got %+v", res)
	}

	product, _ := f.catalog.FindByID(ctx, "p-1")
	if product.Stock != 10 {
		t.Fatalf("stock must stay untouched, got %d", product.Stock)
	}
}

func TestReconcileWorker_RespectsBatchSize(t *testing.T) {
	f := newReconcileFixture(t, 10)
	ctx := context.Background()

	for pos := 0; pos < 3; pos++ {
		r := domain.Reservation{OrderID: "order-1", Position: pos, ProductID: "p-1", Qty: 1}
		if err := f.catalog.RecordFailure(ctx, r, "timeout"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	worker := f.worker(WithBatchSize(2))
	res := worker.ProcessOnce(ctx)
	if res.Attempted != 2 || res.Reserved != 2 || len(res.Completed) != 0 {
		t.Fatalf("unexpected first batch: %+v", res)
	}

	res = worker.ProcessOnce(ctx)
	if res.Reserved != 1 || len(res.Completed) != 1 {
		t.Fatalf("unexpected second batch: %+v", res)
	}
}

func TestReconcileWorker_RunStopsOnCancel(t *testing.T) {
	f := newReconcileFixture(t, 10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.worker().Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
