package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/store"
)

const saleColumns = `id, tenant_id, sale_number, subtotal, tax, discount, total, status, payment_method, cashier_id, customer_name, notes, created_at, updated_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var cashierID sql.NullString
	err := row.Scan(&sale.ID, &sale.TenantID, &sale.SaleNumber, &sale.Subtotal, &sale.Tax, &sale.Discount,
		&sale.Total, &sale.Status, &sale.PaymentMethod, &cashierID, &sale.CustomerName, &sale.Notes,
		&sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return domain.Sale{}, notFound(err)
	}
	sale.CashierID = cashierID.String
	return sale, nil
}

// CreateSale applies every conditional decrement and inserts the sale inside
// one transaction. Products are locked in id order so two carts touching the
// same products cannot deadlock.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	if len(sale.Items) == 0 {
		return domain.Sale{}, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return domain.Sale{}, err
	}
	defer func() { _ = pgTx.Rollback() }()

	for _, line := range requiredStock(sale.Items) {
		if _, err := adjustStock(ctx, pgTx, sale.TenantID, line.productID, -line.quantity); err != nil {
			return domain.Sale{}, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, tenant_id, sale_number, subtotal, tax, discount, total, status,
			payment_method, cashier_id, customer_name, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.TenantID, sale.SaleNumber, sale.Subtotal.String(), sale.Tax.String(),
		sale.Discount.String(), sale.Total.String(), string(sale.Status), sale.PaymentMethod,
		nullIfEmpty(sale.CashierID), sale.CustomerName, sale.Notes, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Sale{}, store.ErrConflict
		}
		return domain.Sale{}, err
	}

	for i, item := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, product_name, quantity, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, i+1, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice.String(), item.Subtotal.String())
		if err != nil {
			return domain.Sale{}, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

type stockLine struct {
	productID string
	quantity  int
}

func requiredStock(items []domain.SaleItem) []stockLine {
	totals := make(map[string]int, len(items))
	for _, item := range items {
		totals[item.ProductID] += item.Quantity
	}
	lines := make([]stockLine, 0, len(totals))
	for productID, qty := range totals {
		lines = append(lines, stockLine{productID: productID, quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].productID < lines[j].productID
	})
	return lines
}

func (s *Store) GetSale(ctx context.Context, tenantID string, id string) (domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	sale, err := scanSale(row)
	if err != nil {
		return domain.Sale{}, err
	}
	items, err := s.saleItems(ctx, sale.ID)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Items = items
	return sale, nil
}

func (s *Store) saleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price, subtotal
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListSales(ctx context.Context, tenantID string, filter domain.SaleFilter) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE tenant_id = $1
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at <= $3)
			AND ($4 = '' OR status = $4)
			AND ($5 = '' OR status <> $5)
		ORDER BY created_at DESC, sale_number DESC
	`, tenantID, nullZeroTime(filter.From), nullZeroTime(filter.To), string(filter.Status), string(filter.ExcludeStatus))
	if err != nil {
		return nil, err
	}

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range sales {
		items, err := s.saleItems(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
	}
	return sales, nil
}

func (s *Store) CountSales(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sales WHERE tenant_id = $1`, tenantID).Scan(&count)
	return count, err
}

func (s *Store) CancelSale(ctx context.Context, tenantID string, id string, at time.Time) (domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return domain.Sale{}, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status domain.SaleStatus
	err = pgTx.QueryRowContext(ctx, `
		SELECT status
		FROM sales
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, id).Scan(&status)
	if err != nil {
		return domain.Sale{}, notFound(err)
	}
	switch status {
	case domain.SaleCancelled:
		return domain.Sale{}, store.ErrAlreadyCancelled
	case domain.SaleRefunded:
		return domain.Sale{}, store.ErrInvalidState
	}

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no
	`, id)
	if err != nil {
		return domain.Sale{}, err
	}
	items := make([]domain.SaleItem, 0, 8)
	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ProductID, &item.Quantity); err != nil {
			_ = itemRows.Close()
			return domain.Sale{}, err
		}
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return domain.Sale{}, err
	}
	_ = itemRows.Close()

	for _, line := range requiredStock(items) {
		_, err := adjustStock(ctx, pgTx, tenantID, line.productID, line.quantity)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET status = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id, string(domain.SaleCancelled), at)
	if err != nil {
		return domain.Sale{}, err
	}

	if err := pgTx.Commit(); err != nil {
		return domain.Sale{}, err
	}
	return s.GetSale(ctx, tenantID, id)
}

func nullZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
