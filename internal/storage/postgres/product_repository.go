package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const productColumns = `id, name, description, category, image_url, price_minor, stock, created_at, updated_at`

// CatalogRepository - PostgreSQL-каталог товаров и журнал резервов остатка.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию ProductRepository и StockReserver.
func NewCatalogRepository(store *Store) *CatalogRepository {
	return &CatalogRepository{db: store.DB()}
}

func (r *CatalogRepository) Create(ctx context.Context, product domain.Product) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		product.ID, product.Name, product.Description, product.Category, product.ImageURL,
		product.PriceMinor, product.Stock, product.CreatedAt, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProductAlreadyExists
		}
		if isCheckViolation(err) {
			return domain.NewValidationError("product", "price and stock must be non-negative")
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *CatalogRepository) FindByID(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (r *CatalogRepository) FindByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

func (r *CatalogRepository) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var (
		clauses []string
		args    []any
	)
	if category := strings.TrimSpace(filter.Category); category != "" {
		args = append(args, strings.ToLower(category))
		clauses = append(clauses, fmt.Sprintf("lower(category) = $%d", len(args)))
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY name ASC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (r *CatalogRepository) Update(ctx context.Context, product domain.Product) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2,
		    description = $3,
		    category = $4,
		    image_url = $5,
		    price_minor = $6,
		    stock = $7,
		    updated_at = $8
		WHERE id = $1
	`,
		product.ID, product.Name, product.Description, product.Category, product.ImageURL,
		product.PriceMinor, product.Stock, time.Now().UTC(),
	)
	if err != nil {
		if isCheckViolation(err) {
			return domain.NewValidationError("product", "price and stock must be non-negative")
		}
		return fmt.Errorf("update product: %w", err)
	}
	return expectAffected(res, &domain.ProductNotFoundError{ProductID: product.ID})
}

func (r *CatalogRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return expectAffected(res, &domain.ProductNotFoundError{ProductID: id})
}

// DecrementStockIfAvailable выполняет условное списание одним UPDATE:
// строка меняется только при stock >= qty, поэтому остаток не уходит в минус.
func (r *CatalogRepository) DecrementStockIfAvailable(ctx context.Context, id string, qty int64) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("decrement %s: %w", id, domain.ErrReservationQtyInvalid)
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	return decrementStock(ctx, r.db, id, qty, time.Now().UTC())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func decrementStock(ctx context.Context, db execer, id string, qty int64, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = $3
		WHERE id = $1 AND stock >= $2
	`, id, qty, now)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// ReserveLine в одной транзакции блокирует строку резерва, списывает остаток
// условным UPDATE и фиксирует результат. Уже зарезервированная позиция
// возвращается без повторного списания.
func (r *CatalogRepository) ReserveLine(ctx context.Context, line domain.Reservation) (domain.Reservation, error) {
	if errs := line.Validate(); len(errs) > 0 {
		return domain.Reservation{}, fmt.Errorf("reserve line: %w", errs[0])
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	var (
		result  domain.Reservation
		outcome error
	)
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		// Строка резерва создаётся заранее, чтобы FOR UPDATE сериализовал
		// повторные попытки одной позиции.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_reservations (
				order_id, position, product_id, quantity, status, attempts, last_error, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,0,'',$6,$6)
			ON CONFLICT (order_id, position) DO NOTHING
		`, line.OrderID, line.Position, line.ProductID, line.Qty, string(domain.ReservationStatusFailed), now); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}

		current, err := scanReservation(tx.QueryRowContext(ctx, `
			SELECT order_id, position, product_id, quantity, status, attempts, last_error, created_at, updated_at
			FROM stock_reservations
			WHERE order_id = $1 AND position = $2
			FOR UPDATE
		`, line.OrderID, line.Position))
		if err != nil {
			return fmt.Errorf("lock reservation: %w", err)
		}
		if current.Status != domain.ReservationStatusFailed {
			result = current
			return nil
		}

		applied, err := decrementStock(ctx, tx, current.ProductID, current.Qty, now)
		if err != nil {
			return err
		}
		if applied {
			current.Status = domain.ReservationStatusReserved
			current.LastError = ""
		} else {
			available, found, lookupErr := currentStock(ctx, tx, current.ProductID)
			if lookupErr != nil {
				return lookupErr
			}
			if found {
				outcome = &domain.InsufficientStockError{
					ProductID: current.ProductID,
					Available: available,
					Requested: current.Qty,
				}
			} else {
				outcome = &domain.ProductNotFoundError{ProductID: current.ProductID}
			}
			current.Status = domain.ReservationStatusFailed
			current.LastError = outcome.Error()
		}

		current.Attempts++
		current.UpdatedAt = now
		if err := updateReservation(ctx, tx, current); err != nil {
			return err
		}
		result = current
		return nil
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return result, outcome
}

// currentStock уточняет, почему условное списание не применилось:
// товара нет или остатка не хватает.
func currentStock(ctx context.Context, tx *sql.Tx, productID string) (int64, bool, error) {
	var stock int64
	err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select stock: %w", err)
	}
	return stock, true, nil
}

func (r *CatalogRepository) RecordFailure(ctx context.Context, line domain.Reservation, reason string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stock_reservations (
			order_id, position, product_id, quantity, status, attempts, last_error, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,1,$6,$7,$7)
		ON CONFLICT (order_id, position) DO UPDATE
		SET attempts = stock_reservations.attempts + 1,
		    last_error = EXCLUDED.last_error,
		    updated_at = EXCLUDED.updated_at
		WHERE stock_reservations.status = EXCLUDED.status
	`,
		line.OrderID, line.Position, line.ProductID, line.Qty,
		string(domain.ReservationStatusFailed), reason, now,
	)
	if err != nil {
		return fmt.Errorf("record reservation failure: %w", err)
	}
	return nil
}

// Abandon закрывает failed-позицию; остальные статусы не меняются.
func (r *CatalogRepository) Abandon(ctx context.Context, line domain.Reservation, reason string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE stock_reservations
		SET status = $3, last_error = $4, updated_at = $5
		WHERE order_id = $1 AND position = $2 AND status = $6
	`,
		line.OrderID, line.Position,
		string(domain.ReservationStatusAbandoned), reason, time.Now().UTC(),
		string(domain.ReservationStatusFailed),
	); err != nil {
		return fmt.Errorf("abandon reservation: %w", err)
	}
	return nil
}

// ListFailed отбирает failed-позиции с оставшимися попытками; исчерпанные
// в выборку не попадают и не читаются на каждом цикле воркера.
func (r *CatalogRepository) ListFailed(ctx context.Context, maxAttempts, limit int) ([]domain.Reservation, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	return r.queryReservations(ctx, `
		SELECT order_id, position, product_id, quantity, status, attempts, last_error, created_at, updated_at
		FROM stock_reservations
		WHERE status = $1 AND ($2 <= 0 OR attempts < $2)
		ORDER BY created_at ASC, order_id ASC, position ASC
		LIMIT $3
	`, string(domain.ReservationStatusFailed), maxAttempts, sql.NullInt64{Int64: int64(limit), Valid: limit > 0})
}

func (r *CatalogRepository) FailedBacklog(ctx context.Context, maxAttempts int) (domain.ReservationBacklog, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var backlog domain.ReservationBacklog
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE $2 <= 0 OR attempts < $2),
			COUNT(*) FILTER (WHERE $2 > 0 AND attempts >= $2)
		FROM stock_reservations
		WHERE status = $1
	`, string(domain.ReservationStatusFailed), maxAttempts).Scan(&backlog.Retryable, &backlog.Exhausted)
	if err != nil {
		return domain.ReservationBacklog{}, fmt.Errorf("count failed reservations: %w", err)
	}
	return backlog, nil
}

func (r *CatalogRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	return r.queryReservations(ctx, `
		SELECT order_id, position, product_id, quantity, status, attempts, last_error, created_at, updated_at
		FROM stock_reservations
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
}

func (r *CatalogRepository) queryReservations(ctx context.Context, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Reservation, 0)
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		result = append(result, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return result, nil
}

func updateReservation(ctx context.Context, tx *sql.Tx, r domain.Reservation) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE stock_reservations
		SET status = $3, attempts = $4, last_error = $5, updated_at = $6
		WHERE order_id = $1 AND position = $2
	`, r.OrderID, r.Position, string(r.Status), r.Attempts, r.LastError, r.UpdatedAt); err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Category, &p.ImageURL,
		&p.PriceMinor, &p.Stock, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var (
		r      domain.Reservation
		status string
	)
	if err := row.Scan(
		&r.OrderID, &r.Position, &r.ProductID, &r.Qty, &status,
		&r.Attempts, &r.LastError, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return domain.Reservation{}, err
	}
	r.Status = domain.ReservationStatus(status)
	return r, nil
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var (
	_ domain.ProductRepository = (*CatalogRepository)(nil)
	_ domain.StockReserver     = (*CatalogRepository)(nil)
)
