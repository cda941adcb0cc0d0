package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestCatalogRepository_PostgresCRUD(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCatalogRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleProduct("p-1", 1299, 3)))
	require.NoError(t, repo.Create(ctx, domain.Product{ID: "p-2", Name: "Apron", Category: "Kitchen", PriceMinor: 2500, Stock: 1}))
	require.ErrorIs(t, repo.Create(ctx, sampleProduct("p-1", 1, 1)), domain.ErrProductAlreadyExists)
	require.ErrorIs(t, repo.Create(ctx, sampleProduct("p-neg", 1, -1)), domain.ErrValidation)

	got, err := repo.FindByID(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, int64(1299), got.PriceMinor)

	kitchen, err := repo.List(ctx, domain.ProductFilter{Category: "kitchen"})
	require.NoError(t, err)
	require.Len(t, kitchen, 1)
	require.Equal(t, "p-2", kitchen[0].ID)

	got.PriceMinor = 1499
	require.NoError(t, repo.Update(ctx, got))
	updated, err := repo.FindByID(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, int64(1499), updated.PriceMinor)

	byIDs, err := repo.FindByIDs(ctx, []string{"p-1", "p-2", "missing"})
	require.NoError(t, err)
	require.Len(t, byIDs, 2)

	require.NoError(t, repo.Delete(ctx, "p-2"))
	var notFound *domain.ProductNotFoundError
	_, err = repo.FindByID(ctx, "p-2")
	require.True(t, errors.As(err, &notFound))
	require.ErrorIs(t, repo.Delete(ctx, "p-2"), domain.ErrProductNotFound)
	require.ErrorIs(t, repo.Update(ctx, sampleProduct("p-2", 1, 1)), domain.ErrProductNotFound)
}

func TestCatalogRepository_PostgresDecrementStockIfAvailable(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCatalogRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleProduct("p-1", 100, 2)))

	ok, err := repo.DecrementStockIfAvailable(ctx, "p-1", 3)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.DecrementStockIfAvailable(ctx, "p-1", 2)
	require.NoError(t, err)
	require.True(t, ok)

	product, err := repo.FindByID(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), product.Stock)
}

func TestCatalogRepository_PostgresReserveLine(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCatalogRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleProduct("p-1", 100, 3)))

	line := domain.Reservation{OrderID: "order-1", Position: 0, ProductID: "p-1", Qty: 2}
	reserved, err := repo.ReserveLine(ctx, line)
	require.NoError(t, err)
	require.True(t, reserved.Reserved())
	require.Equal(t, 1, reserved.Attempts)

	again, err := repo.ReserveLine(ctx, line)
	require.NoError(t, err)
	require.Equal(t, 1, again.Attempts)

	_, err = repo.ReserveLine(ctx, domain.Reservation{OrderID: "order-1", Position: 1, ProductID: "p-1", Qty: 2})
	var stockErr *domain.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, int64(1), stockErr.Available)
	require.Equal(t, int64(2), stockErr.Requested)

	_, err = repo.ReserveLine(ctx, domain.Reservation{OrderID: "order-1", Position: 2, ProductID: "gone", Qty: 1})
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	require.NoError(t, repo.RecordFailure(ctx, domain.Reservation{OrderID: "order-2", Position: 0, ProductID: "p-1", Qty: 1}, "timeout"))
	require.NoError(t, repo.RecordFailure(ctx, line, "late failure must not override reserved"))

	failed, err := repo.ListFailed(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, failed, 3)

	byOrder, err := repo.ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, byOrder, 3)
	require.Equal(t, domain.ReservationStatusReserved, byOrder[0].Status)
	require.Equal(t, domain.ReservationStatusFailed, byOrder[1].Status)

	product, err := repo.FindByID(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), product.Stock)
}

func TestCatalogRepository_PostgresFailedBacklogAndAbandon(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCatalogRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleProduct("p-1", 100, 0)))

	fresh := domain.Reservation{OrderID: "order-1", Position: 0, ProductID: "p-1", Qty: 1}
	exhausted := domain.Reservation{OrderID: "order-2", Position: 0, ProductID: "p-1", Qty: 1}
	closed := domain.Reservation{OrderID: "order-3", Position: 0, ProductID: "p-1", Qty: 1}

	_, err := repo.ReserveLine(ctx, fresh)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordFailure(ctx, exhausted, "timeout"))
	}
	require.NoError(t, repo.RecordFailure(ctx, closed, "timeout"))
	require.NoError(t, repo.Abandon(ctx, closed, "order is cancelled"))

	retryable, err := repo.ListFailed(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	require.Equal(t, "order-1", retryable[0].OrderID)

	limited, err := repo.ListFailed(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	backlog, err := repo.FailedBacklog(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationBacklog{Retryable: 1, Exhausted: 1}, backlog)

	product, err := repo.FindByID(ctx, "p-1")
	require.NoError(t, err)
	product.Stock = 5
	require.NoError(t, repo.Update(ctx, product))

	got, err := repo.ReserveLine(ctx, closed)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationStatusAbandoned, got.Status)
	require.NoError(t, repo.RecordFailure(ctx, closed, "late failure"))

	product, err = repo.FindByID(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, int64(5), product.Stock)

	byOrder, err := repo.ListByOrder(ctx, "order-3")
	require.NoError(t, err)
	require.Len(t, byOrder, 1)
	require.Equal(t, domain.ReservationStatusAbandoned, byOrder[0].Status)
}

func TestCatalogRepository_PostgresConcurrentReserveNeverOversells(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCatalogRepository(store)
	ctx := context.Background()

	const stock = 5
	const buyers = 20
	require.NoError(t, repo.Create(ctx, sampleProduct("p-hot", 100, stock)))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.ReserveLine(ctx, domain.Reservation{OrderID: "order-hot", Position: i, ProductID: "p-hot", Qty: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, stock, success)
	require.Equal(t, buyers-stock, rejected)

	product, err := repo.FindByID(ctx, "p-hot")
	require.NoError(t, err)
	require.Equal(t, int64(0), product.Stock)
}
