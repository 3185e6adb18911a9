package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"multikasir/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCircularReference = errors.New("circular category reference")
	ErrHasChildren       = errors.New("cannot delete category with subcategories")
	ErrAlreadyCancelled  = errors.New("sale is already cancelled")
	ErrInvalidState      = errors.New("invalid state")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
)

// InsufficientStockError names the product that could not cover a decrement.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d", e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type TenantStore interface {
	CreateTenant(ctx context.Context, tenant domain.Tenant) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	GetUser(ctx context.Context, tenantID string, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, tenantID string, email string) (domain.User, error)
	ListUsers(ctx context.Context, tenantID string) ([]domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) (domain.User, error)
	DeleteUser(ctx context.Context, tenantID string, id string) error
}

type CategoryStore interface {
	CreateCategory(ctx context.Context, category domain.Category) (domain.Category, error)
	GetCategory(ctx context.Context, tenantID string, id string) (domain.Category, error)
	// ListCategories orders by display order, then name.
	ListCategories(ctx context.Context, tenantID string, includeInactive bool) ([]domain.Category, error)
	UpdateCategory(ctx context.Context, category domain.Category) (domain.Category, error)
	DeleteCategory(ctx context.Context, tenantID string, id string) error
	CountChildCategories(ctx context.Context, tenantID string, id string) (int, error)
}

type ProductStore interface {
	CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	GetProduct(ctx context.Context, tenantID string, id string) (domain.Product, error)
	ListProducts(ctx context.Context, tenantID string, filter domain.ProductFilter) ([]domain.Product, error)
	// SearchProducts matches query case-insensitively against name, description, sku and barcode.
	SearchProducts(ctx context.Context, tenantID string, query string) ([]domain.Product, error)
	// ListProductCategoryIDs returns the distinct category ids referenced by the tenant's products.
	ListProductCategoryIDs(ctx context.Context, tenantID string) ([]string, error)
	// UpdateProduct writes every field except stock and reconciles status against the stored stock.
	UpdateProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	DeleteProduct(ctx context.Context, tenantID string, id string) error
	// AdjustStock applies delta and recomputes status in one atomic step. It fails with an
	// *InsufficientStockError when the result would be negative.
	AdjustStock(ctx context.Context, tenantID string, productID string, delta int) (domain.Product, error)
}

type SaleStore interface {
	// CreateSale decrements stock for every item and persists the sale as one unit.
	// Either every decrement and the sale are stored, or nothing is.
	CreateSale(ctx context.Context, sale domain.Sale) (domain.Sale, error)
	GetSale(ctx context.Context, tenantID string, id string) (domain.Sale, error)
	// ListSales returns the newest sales first.
	ListSales(ctx context.Context, tenantID string, filter domain.SaleFilter) ([]domain.Sale, error)
	CountSales(ctx context.Context, tenantID string) (int64, error)
	// CancelSale restores stock for every item and marks the sale cancelled as one unit.
	CancelSale(ctx context.Context, tenantID string, id string, at time.Time) (domain.Sale, error)
}

// SaleSequencer hands out per-tenant sale ordinals. Each call returns a value
// never returned before for that tenant.
type SaleSequencer interface {
	NextSaleSequence(ctx context.Context, tenantID string) (int64, error)
}

type Repository interface {
	TenantStore
	UserStore
	CategoryStore
	ProductStore
	SaleStore
	SaleSequencer
}
