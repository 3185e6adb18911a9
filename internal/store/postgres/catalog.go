package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/store"
)

const categoryColumns = `id, tenant_id, name, description, slug, parent_id, display_order, is_active, created_at, updated_at`

func scanCategory(row rowScanner) (domain.Category, error) {
	var c domain.Category
	var parentID sql.NullString
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Description, &c.Slug, &parentID,
		&c.DisplayOrder, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Category{}, notFound(err)
	}
	c.ParentID = stringPtr(parentID)
	return c, nil
}

func (s *Store) CreateCategory(ctx context.Context, c domain.Category) (domain.Category, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, tenant_id, name, description, slug, parent_id, display_order, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, c.ID, c.TenantID, c.Name, c.Description, c.Slug, nullString(c.ParentID), c.DisplayOrder,
		c.IsActive, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Category{}, store.ErrConflict
		}
		return domain.Category{}, err
	}
	return c, nil
}

func (s *Store) GetCategory(ctx context.Context, tenantID string, id string) (domain.Category, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanCategory(row)
}

func (s *Store) ListCategories(ctx context.Context, tenantID string, includeInactive bool) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE tenant_id = $1 AND ($2 OR is_active)
		ORDER BY display_order, name
	`, tenantID, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 32)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) UpdateCategory(ctx context.Context, c domain.Category) (domain.Category, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE categories
		SET name = $3, description = $4, slug = $5, parent_id = $6, display_order = $7,
			is_active = $8, updated_at = $9
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+categoryColumns,
		c.TenantID, c.ID, c.Name, c.Description, c.Slug, nullString(c.ParentID), c.DisplayOrder,
		c.IsActive, c.UpdatedAt)
	updated, err := scanCategory(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Category{}, store.ErrConflict
		}
		return domain.Category{}, err
	}
	return updated, nil
}

// DeleteCategory re-checks for children in the same statement so a child
// inserted after the caller's check still blocks the delete.
func (s *Store) DeleteCategory(ctx context.Context, tenantID string, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM categories c
		WHERE c.tenant_id = $1 AND c.id = $2
			AND NOT EXISTS (SELECT 1 FROM categories child WHERE child.tenant_id = $1 AND child.parent_id = $2)
	`, tenantID, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	if _, err := s.GetCategory(ctx, tenantID, id); err != nil {
		return err
	}
	return store.ErrHasChildren
}

func (s *Store) CountChildCategories(ctx context.Context, tenantID string, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM categories
		WHERE tenant_id = $1 AND parent_id = $2
	`, tenantID, id).Scan(&count)
	return count, err
}

const productColumns = `id, tenant_id, name, description, price, cost, sku, barcode, stock, status, category_id, tags, image_url, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var cost decimal.NullDecimal
	var categoryID sql.NullString
	var tags []byte
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &p.Price, &cost, &p.SKU, &p.Barcode,
		&p.Stock, &p.Status, &categoryID, &tags, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, notFound(err)
	}
	if cost.Valid {
		c := cost.Decimal
		p.Cost = &c
	}
	p.CategoryID = stringPtr(categoryID)
	p.Tags = []string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &p.Tags); err != nil {
			return domain.Product{}, err
		}
	}
	return p, nil
}

func encodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	raw, _ := json.Marshal(tags)
	return string(raw)
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func (s *Store) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	p.ReconcileStatus()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, name, description, price, cost, sku, barcode, stock, status, category_id, tags, image_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, p.ID, p.TenantID, p.Name, p.Description, p.Price.String(), nullDecimal(p.Cost), p.SKU,
		p.Barcode, p.Stock, string(p.Status), nullString(p.CategoryID), encodeTags(p.Tags),
		p.ImageURL, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, store.ErrConflict
		}
		return domain.Product{}, err
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, tenantID string, id string) (domain.Product, error) {
	return getProduct(ctx, s.db, tenantID, id)
}

func getProduct(ctx context.Context, q queryRower, tenantID string, id string) (domain.Product, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanProduct(row)
}

func (s *Store) ListProducts(ctx context.Context, tenantID string, filter domain.ProductFilter) ([]domain.Product, error) {
	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR category_id = $3)
		ORDER BY created_at DESC, id
	`, tenantID, string(filter.Status), filter.CategoryID)
}

func (s *Store) SearchProducts(ctx context.Context, tenantID string, query string) ([]domain.Product, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1
			AND (name ILIKE $2 OR description ILIKE $2 OR sku ILIKE $2 OR barcode ILIKE $2)
		ORDER BY created_at DESC, id
	`, tenantID, pattern)
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListProductCategoryIDs(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT category_id
		FROM products
		WHERE tenant_id = $1 AND category_id IS NOT NULL
		ORDER BY category_id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateProduct never writes stock. Status is reconciled against the stored
// stock inside the statement.
func (s *Store) UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $3, description = $4, price = $5, cost = $6, sku = $7, barcode = $8,
			status = CASE
				WHEN stock <= 0 THEN 'out_of_stock'
				WHEN $9 = 'out_of_stock' THEN 'active'
				ELSE $9
			END,
			category_id = $10, tags = $11, image_url = $12, updated_at = $13
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+productColumns,
		p.TenantID, p.ID, p.Name, p.Description, p.Price.String(), nullDecimal(p.Cost), p.SKU, p.Barcode,
		string(p.Status), nullString(p.CategoryID), encodeTags(p.Tags), p.ImageURL, p.UpdatedAt)
	updated, err := scanProduct(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, store.ErrConflict
		}
		return domain.Product{}, err
	}
	return updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, tenantID string, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) AdjustStock(ctx context.Context, tenantID string, productID string, delta int) (domain.Product, error) {
	return adjustStock(ctx, s.db, tenantID, productID, delta)
}

// adjustStock is the only statement that changes stock. The WHERE clause
// refuses to go below zero and the CASE recomputes status from the new value,
// so both happen in one row update.
func adjustStock(ctx context.Context, q queryRower, tenantID string, productID string, delta int) (domain.Product, error) {
	row := q.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $3,
			status = CASE
				WHEN stock + $3 <= 0 THEN 'out_of_stock'
				WHEN status = 'out_of_stock' THEN 'active'
				ELSE status
			END,
			updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND stock + $3 >= 0
		RETURNING `+productColumns,
		tenantID, productID, delta)
	product, err := scanProduct(row)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, err
	}

	current, lookupErr := getProduct(ctx, q, tenantID, productID)
	if lookupErr != nil {
		return domain.Product{}, lookupErr
	}
	return domain.Product{}, &store.InsufficientStockError{
		ProductID:   current.ID,
		ProductName: current.Name,
		Available:   current.Stock,
		Requested:   -delta,
	}
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
