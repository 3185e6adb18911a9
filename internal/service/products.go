package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/pricing"
	"multikasir/backend/internal/store"
	"multikasir/backend/internal/xid"
)

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Product{}, err
	}
	if err := checkMoney(req.Price, req.Cost); err != nil {
		return domain.Product{}, err
	}

	sku := normalizeSKU(req.SKU)
	if sku == "" {
		return domain.Product{}, invalid("sku is required")
	}
	categoryID, err := s.checkCategoryRef(ctx, actor.TenantID, req.CategoryID)
	if err != nil {
		return domain.Product{}, err
	}

	status := req.Status
	if status == "" {
		status = domain.ProductActive
	}
	now := s.clock()
	product := domain.Product{
		ID:          xid.New(""),
		TenantID:    actor.TenantID,
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Price:       pricing.Round(req.Price),
		Cost:        roundPtr(req.Cost),
		SKU:         sku,
		Barcode:     strings.TrimSpace(req.Barcode),
		Stock:       req.Stock,
		Status:      status,
		CategoryID:  categoryID,
		Tags:        normalizeTags(req.Tags),
		ImageURL:    strings.TrimSpace(req.ImageURL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Product{}, fmt.Errorf("product with sku %s %w", sku, store.ErrConflict)
		}
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID,
		zap.String("sku", created.SKU), zap.Int("stock", created.Stock), zap.String("price", created.Price.StringFixed(2)))
	return created, nil
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalid("unknown product status %q", filter.Status)
	}
	return s.repo.ListProducts(ctx, actor.TenantID, filter)
}

func (s *Service) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalid("search query is required")
	}
	return s.repo.SearchProducts(ctx, actor.TenantID, query)
}

// ProductCategories returns the categories referenced by at least one product.
// Ids whose category has since been deleted are skipped.
func (s *Service) ProductCategories(ctx context.Context) ([]domain.Category, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := s.repo.ListProductCategoryIDs(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}

	categories := make([]domain.Category, 0, len(ids))
	for _, id := range ids {
		c, err := s.repo.GetCategory(ctx, actor.TenantID, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, actor.TenantID, id)
	if err != nil {
		return domain.Product{}, notFound("product", id, err)
	}
	return product, nil
}

// UpdateProduct applies the non-nil fields. Stock is not updatable here and
// status is reconciled against the stored stock by the store.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, actor.TenantID, id)
	if err != nil {
		return domain.Product{}, notFound("product", id, err)
	}

	updated := existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Price != nil {
		if err := checkMoney(*req.Price, nil); err != nil {
			return domain.Product{}, err
		}
		updated.Price = pricing.Round(*req.Price)
	}
	if req.Cost != nil {
		if err := checkMoney(decimal.Zero, req.Cost); err != nil {
			return domain.Product{}, err
		}
		updated.Cost = roundPtr(req.Cost)
	}
	if req.SKU != nil {
		sku := normalizeSKU(*req.SKU)
		if sku == "" {
			return domain.Product{}, invalid("sku must not be blank")
		}
		updated.SKU = sku
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.Status != nil {
		updated.Status = *req.Status
	}
	if req.CategoryID != nil {
		categoryID, err := s.checkCategoryRef(ctx, actor.TenantID, req.CategoryID)
		if err != nil {
			return domain.Product{}, err
		}
		updated.CategoryID = categoryID
	}
	if req.Tags != nil {
		updated.Tags = normalizeTags(req.Tags)
	}
	if req.ImageURL != nil {
		updated.ImageURL = strings.TrimSpace(*req.ImageURL)
	}
	updated.UpdatedAt = s.clock()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Product{}, fmt.Errorf("product with sku %s %w", updated.SKU, store.ErrConflict)
		}
		return domain.Product{}, notFound("product", id, err)
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, zap.String("sku", saved.SKU))
	return saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, err := actorFrom(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, actor.TenantID, id); err != nil {
		return notFound("product", id, err)
	}
	s.logAudit(ctx, "product_delete", "product", id)
	return nil
}

// AdjustStock moves stock by a signed delta through the ledger. A delta that
// would take stock below zero is refused and leaves the product unchanged.
func (s *Service) AdjustStock(ctx context.Context, id string, req domain.StockAdjustRequest) (domain.Product, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Product{}, err
	}

	product, err := s.repo.AdjustStock(ctx, actor.TenantID, id, req.Quantity)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			s.metrics.StockRejected()
		}
		return domain.Product{}, notFound("product", id, err)
	}

	s.logAudit(ctx, "stock_adjust", "product", product.ID,
		zap.Int("delta", req.Quantity), zap.Int("stock", product.Stock), zap.String("status", string(product.Status)))
	return product, nil
}

func (s *Service) checkCategoryRef(ctx context.Context, tenantID string, categoryID *string) (*string, error) {
	id := trimmedID(categoryID)
	if id == "" {
		return nil, nil
	}
	if _, err := s.repo.GetCategory(ctx, tenantID, id); err != nil {
		return nil, notFound("category", id, err)
	}
	return &id, nil
}

func checkMoney(price decimal.Decimal, cost *decimal.Decimal) error {
	if price.IsNegative() {
		return invalid("price must not be negative")
	}
	if cost != nil && cost.IsNegative() {
		return invalid("cost must not be negative")
	}
	return nil
}

func roundPtr(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	rounded := pricing.Round(*d)
	return &rounded
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
