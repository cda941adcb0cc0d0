package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func seedCatalog(t *testing.T, products ...domain.Product) *memory.CatalogStore {
	t.Helper()
	store := memory.NewCatalogStore()
	for _, p := range products {
		if err := store.Create(context.Background(), p); err != nil {
			t.Fatalf("seed %s: %v", p.ID, err)
		}
	}
	return store
}

func TestCatalogStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := seedCatalog(t,
		domain.Product{ID: "p-1", Name: "Mug", Category: "kitchen", PriceMinor: 1299, Stock: 3},
		domain.Product{ID: "p-2", Name: "Apron", Category: "kitchen", PriceMinor: 2500, Stock: 1},
		domain.Product{ID: "p-3", Name: "Poster", Category: "decor", PriceMinor: 900, Stock: 10},
	)

	if err := store.Create(ctx, domain.Product{ID: "p-1", Name: "Dup"}); !errors.Is(err, domain.ErrProductAlreadyExists) {
		t.Fatalf("expected ErrProductAlreadyExists, got %v", err)
	}

	kitchen, err := store.List(ctx, domain.ProductFilter{Category: "Kitchen"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(kitchen) != 2 || kitchen[0].Name != "Apron" {
		t.Fatalf("unexpected kitchen list: %+v", kitchen)
	}

	got, err := store.FindByID(ctx, "p-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	got.PriceMinor = 1499
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	updated, _ := store.FindByID(ctx, "p-1")
	if updated.PriceMinor != 1499 || !updated.CreatedAt.Equal(got.CreatedAt) {
		t.Fatalf("unexpected updated product: %+v", updated)
	}

	if err := store.Delete(ctx, "p-3"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	var notFound *domain.ProductNotFoundError
	if _, err := store.FindByID(ctx, "p-3"); !errors.As(err, &notFound) || notFound.ProductID != "p-3" {
		t.Fatalf("expected ProductNotFoundError, got %v", err)
	}
	if err := store.Delete(ctx, "p-3"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	byID, err := store.FindByIDs(ctx, []string{"p-1", "p-3"})
	if err != nil {
		t.Fatalf("find by ids failed: %v", err)
	}
	if len(byID) != 1 {
		t.Fatalf("expected only existing products, got %d", len(byID))
	}
}

func TestCatalogStore_DecrementStockIfAvailable(t *testing.T) {
	ctx := context.Background()
	store := seedCatalog(t, domain.Product{ID: "p-1", Name: "Mug", Stock: 2})

	ok, err := store.DecrementStockIfAvailable(ctx, "p-1", 3)
	if err != nil || ok {
		t.Fatalf("expected no decrement beyond stock, ok=%v err=%v", ok, err)
	}
	ok, err = store.DecrementStockIfAvailable(ctx, "p-1", 2)
	if err != nil || !ok {
		t.Fatalf("expected decrement, ok=%v err=%v", ok, err)
	}
	product, _ := store.FindByID(ctx, "p-1")
	if product.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", product.Stock)
	}
	ok, _ = store.DecrementStockIfAvailable(ctx, "missing", 1)
	if ok {
		t.Fatal("missing product must not be decremented")
	}
	if _, err := store.DecrementStockIfAvailable(ctx, "p-1", 0); err == nil {
		t.Fatal("expected error for non-positive qty")
	}
}

func TestCatalogStore_ReserveLineIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := seedCatalog(t, domain.Product{ID: "p-1", Name: "Mug", Stock: 5})
	line := domain.Reservation{OrderID: "order-1", Position: 0, ProductID: "p-1", Qty: 2}

	first, err := store.ReserveLine(ctx, line)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if !first.Reserved() || first.Attempts != 1 {
		t.Fatalf("unexpected reservation: %+v", first)
	}

	second, err := store.ReserveLine(ctx, line)
	if err != nil {
		t.Fatalf("repeat reserve failed: %v", err)
	}
	if second.Attempts != 1 {
		t.Fatalf("repeat reserve must not count as attempt, got %d", second.Attempts)
	}

	product, _ := store.FindByID(ctx, "p-1")
	if product.Stock != 3 {
		t.Fatalf("expected stock 3 after idempotent reserve, got %d", product.Stock)
	}
}

func TestCatalogStore_ReserveLineFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	store := seedCatalog(t, domain.Product{ID: "p-1", Name: "Mug", Stock: 1})

	_, err := store.ReserveLine(ctx, domain.Reservation{OrderID: "order-1", Position: 0, ProductID: "p-1", Qty: 2})
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.Available != 1 || stockErr.Requested != 2 {
		t.Fatalf("unexpected payload: %+v", stockErr)
	}

	_, err = store.ReserveLine(ctx, domain.Reservation{OrderID: "order-1", Position: 1, ProductID: "gone", Qty: 1})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	if err := store.RecordFailure(ctx, domain.Reservation{OrderID: "order-2", Position: 0, ProductID: "p-1", Qty: 1}, "db timeout"); err != nil {
		t.Fatalf("record failure failed: %v", err)
	}

	failed, err := store.ListFailed(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 3 {
		t.Fatalf("expected 3 failed reservations, got %d", len(failed))
	}

	byOrder, err := store.ListByOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("list by order failed: %v", err)
	}
	if len(byOrder) != 2 || byOrder[0].Position != 0 || byOrder[1].Position != 1 {
		t.Fatalf("unexpected reservations: %+v", byOrder)
	}

	product, _ := store.FindByID(ctx, "p-1")
	if product.Stock != 1 {
		t.Fatalf("failed reservations must not touch stock, got %d", product.Stock)
	}

	// После пополнения остатка повторная попытка проходит.
	product.Stock = 5
	if err := store.Update(ctx, product); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	retried, err := store.ReserveLine(ctx, domain.Reservation{OrderID: "order-1", Position: 0, ProductID: "p-1", Qty: 2})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !retried.Reserved() || retried.Attempts != 2 || retried.LastError != "" {
		t.Fatalf("unexpected retried reservation: %+v", retried)
	}
}

func TestCatalogStore_ConcurrentReserveNeverOversells(t *testing.T) {
	ctx := context.Background()
	const stock = 10
	const buyers = 64
	store := seedCatalog(t, domain.Product{ID: "p-1", Name: "Mug", Stock: stock})

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.ReserveLine(ctx, domain.Reservation{
				OrderID: "order", Position: i, ProductID: "p-1", Qty: 1,
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded.Load() != stock {
		t.Fatalf("expected %d successful reservations, got %d", stock, succeeded.Load())
	}
	if rejected.Load() != buyers-stock {
		t.Fatalf("expected %d rejections, got %d", buyers-stock, rejected.Load())
	}
	product, _ := store.FindByID(ctx, "p-1")
	if product.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", product.Stock)
	}
}

func TestCatalogStore_ListFailedSkipsExhaustedAndAbandoned(t *testing.T) {
	ctx := context.Background()
	store := seedCatalog(t, domain.Product{ID: "p-1", Name: "Mug", Stock: 0})

	fresh := domain.Reservation{OrderID: "order-1", Position: 0, ProductID: "p-1", Qty: 1}
	exhausted := domain.Reservation{OrderID: "order-2", Position: 0, ProductID: "p-1", Qty: 1}
	closed := domain.Reservation{OrderID: "order-3", Position: 0, ProductID: "p-1", Qty: 1}

	if err := store.RecordFailure(ctx, fresh, "timeout"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.RecordFailure(ctx, exhausted, "timeout"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	if err := store.RecordFailure(ctx, closed, "timeout"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := store.Abandon(ctx, closed, "order is cancelled"); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	retryable, err := store.ListFailed(ctx, 3, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(retryable) != 1 || retryable[0].OrderID != "order-1" {
		t.Fatalf("expected only order-1 to be retryable, got %+v", retryable)
	}

	all, err := store.ListFailed(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("abandoned line must not be listed, got %+v", all)
	}

	backlog, err := store.FailedBacklog(ctx, 3)
	if err != nil {
		t.Fatalf("failed backlog: %v", err)
	}
	if backlog.Retryable != 1 || backlog.Exhausted != 1 {
		t.Fatalf("unexpected backlog: %+v", backlog)
	}

	// abandoned позиция не списывает остаток даже после пополнения.
	product, _ := store.FindByID(ctx, "p-1")
	product.Stock = 5
	if err := store.Update(ctx, product); err != nil {
		t.Fatalf("restock: %v", err)
	}
	got, err := store.ReserveLine(ctx, closed)
	if err != nil {
		t.Fatalf("reserve abandoned line: %v", err)
	}
	if got.Status != domain.ReservationStatusAbandoned {
		t.Fatalf("abandoned line must stay abandoned, got %s", got.Status)
	}
	if err := store.RecordFailure(ctx, closed, "late failure"); err != nil {
		t.Fatalf("record failure on abandoned line: %v", err)
	}
	product, _ = store.FindByID(ctx, "p-1")
	if product.Stock != 5 {
		t.Fatalf("stock must stay 5, got %d", product.Stock)
	}
	lines, _ := store.ListByOrder(ctx, "order-3")
	if len(lines) != 1 || lines[0].Status != domain.ReservationStatusAbandoned {
		t.Fatalf("unexpected ledger for order-3: %+v", lines)
	}
}

func TestCatalogStore_AbandonKeepsReservedLine(t *testing.T) {
	ctx := context.Background()
	store := seedCatalog(t, domain.Product{ID: "p-1", Name: "Mug", Stock: 2})
	line := domain.Reservation{OrderID: "order-1", Position: 0, ProductID: "p-1", Qty: 2}

	if _, err := store.ReserveLine(ctx, line); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Abandon(ctx, line, "order is cancelled"); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	lines, _ := store.ListByOrder(ctx, "order-1")
	if len(lines) != 1 || !lines[0].Reserved() {
		t.Fatalf("reserved line must not be abandoned, got %+v", lines)
	}
}
