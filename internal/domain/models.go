package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Money goes over the wire as JSON numbers, not decimal's default quoted strings.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	RoleSuperAdmin       = "super_admin"
	RoleTenantAdmin      = "tenant_admin"
	RoleStoreManager     = "store_manager"
	RoleCashier          = "cashier"
	RoleInventoryManager = "inventory_manager"
	RoleAccountant       = "accountant"
	RoleViewer           = "viewer"
)

// Actor is the authenticated caller resolved from a bearer token.
type Actor struct {
	UserID   string
	TenantID string
	Email    string
	Role     string
}

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type User struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenantId"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Role         string     `json:"role"`
	IsActive     bool       `json:"isActive"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type Category struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Slug         string    `json:"slug"`
	ParentID     *string   `json:"parentId"`
	DisplayOrder int       `json:"displayOrder"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Parent returns the parent id, or "" for a root category.
func (c Category) Parent() string {
	if c.ParentID == nil {
		return ""
	}
	return *c.ParentID
}

type CategoryNode struct {
	Category
	Children []*CategoryNode `json:"children"`
}

type ProductStatus string

const (
	ProductActive     ProductStatus = "active"
	ProductInactive   ProductStatus = "inactive"
	ProductOutOfStock ProductStatus = "out_of_stock"
)

func (s ProductStatus) Valid() bool {
	switch s {
	case ProductActive, ProductInactive, ProductOutOfStock:
		return true
	}
	return false
}

type Product struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenantId"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       decimal.Decimal  `json:"price"`
	Cost        *decimal.Decimal `json:"cost,omitempty"`
	SKU         string           `json:"sku"`
	Barcode     string           `json:"barcode,omitempty"`
	Stock       int              `json:"stock"`
	Status      ProductStatus    `json:"status"`
	CategoryID  *string          `json:"categoryId"`
	Tags        []string         `json:"tags"`
	ImageURL    string           `json:"imageUrl,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// ReconcileStatus keeps status == out_of_stock exactly when stock <= 0.
// An out_of_stock product that regains stock becomes active again;
// an inactive product with stock stays inactive.
func (p *Product) ReconcileStatus() {
	switch {
	case p.Stock <= 0:
		p.Status = ProductOutOfStock
	case p.Status == ProductOutOfStock:
		p.Status = ProductActive
	}
}

type SaleStatus string

const (
	SalePending   SaleStatus = "pending"
	SaleCompleted SaleStatus = "completed"
	SaleCancelled SaleStatus = "cancelled"
	SaleRefunded  SaleStatus = "refunded"
)

const (
	PaymentCash   = "cash"
	PaymentCard   = "card"
	PaymentMobile = "mobile"
	PaymentOther  = "other"
)

type SaleItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Sale struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenantId"`
	SaleNumber    string          `json:"saleNumber"`
	Items         []SaleItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	Status        SaleStatus      `json:"status"`
	PaymentMethod string          `json:"paymentMethod"`
	CashierID     string          `json:"cashierId,omitempty"`
	CustomerName  string          `json:"customerName,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type DailySummary struct {
	Date          string          `json:"date"`
	TotalSales    int             `json:"totalSales"`
	TotalRevenue  decimal.Decimal `json:"totalRevenue"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
	TotalTax      decimal.Decimal `json:"totalTax"`
	AverageSale   decimal.Decimal `json:"averageSale"`
}

type ProductFilter struct {
	Status     ProductStatus
	CategoryID string
}

// SaleFilter bounds are inclusive; zero values are unbounded.
type SaleFilter struct {
	From          time.Time
	To            time.Time
	Status        SaleStatus
	ExcludeStatus SaleStatus
}

type CategoryCreateRequest struct {
	Name         string  `json:"name" validate:"required,max=120"`
	Description  string  `json:"description" validate:"max=500"`
	ParentID     *string `json:"parentId"`
	DisplayOrder int     `json:"displayOrder" validate:"min=0"`
	IsActive     *bool   `json:"isActive"`
}

type CategoryUpdateRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=120"`
	Description  *string `json:"description" validate:"omitempty,max=500"`
	ParentID     *string `json:"parentId"`
	DisplayOrder *int    `json:"displayOrder" validate:"omitempty,min=0"`
	IsActive     *bool   `json:"isActive"`
}

type CategoryMoveRequest struct {
	ParentID *string `json:"parentId"`
}

type ProductCreateRequest struct {
	Name        string           `json:"name" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=2000"`
	Price       decimal.Decimal  `json:"price"`
	Cost        *decimal.Decimal `json:"cost"`
	SKU         string           `json:"sku" validate:"required,max=64"`
	Barcode     string           `json:"barcode" validate:"max=64"`
	Stock       int              `json:"stock" validate:"min=0"`
	Status      ProductStatus    `json:"status" validate:"omitempty,oneof=active inactive out_of_stock"`
	CategoryID  *string          `json:"categoryId"`
	Tags        []string         `json:"tags" validate:"max=20,dive,max=40"`
	ImageURL    string           `json:"imageUrl" validate:"omitempty,url"`
}

// ProductUpdateRequest has no stock field. Stock only moves through AdjustStock.
type ProductUpdateRequest struct {
	Name        *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string          `json:"description" validate:"omitempty,max=2000"`
	Price       *decimal.Decimal `json:"price"`
	Cost        *decimal.Decimal `json:"cost"`
	SKU         *string          `json:"sku" validate:"omitempty,min=1,max=64"`
	Barcode     *string          `json:"barcode" validate:"omitempty,max=64"`
	Status      *ProductStatus   `json:"status" validate:"omitempty,oneof=active inactive out_of_stock"`
	CategoryID  *string          `json:"categoryId"`
	Tags        []string         `json:"tags" validate:"omitempty,max=20,dive,max=40"`
	ImageURL    *string          `json:"imageUrl" validate:"omitempty,url"`
}

type StockAdjustRequest struct {
	Quantity int `json:"quantity" validate:"required"`
}

type SaleItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type SaleCreateRequest struct {
	Items         []SaleItemRequest `json:"items" validate:"required,min=1,max=200,dive"`
	PaymentMethod string            `json:"paymentMethod" validate:"required,oneof=cash card mobile other"`
	Discount      decimal.Decimal   `json:"discount"`
	Status        SaleStatus        `json:"status" validate:"omitempty,oneof=pending completed"`
	CustomerName  string            `json:"customerName" validate:"max=120"`
	Notes         string            `json:"notes" validate:"max=1000"`
}

type UserCreateRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"firstName" validate:"required,max=80"`
	LastName  string `json:"lastName" validate:"required,max=80"`
	Role      string `json:"role" validate:"omitempty,oneof=super_admin tenant_admin store_manager cashier inventory_manager accountant viewer"`
}

type UserUpdateRequest struct {
	Email     *string `json:"email" validate:"omitempty,email"`
	Password  *string `json:"password" validate:"omitempty,min=8,max=72"`
	FirstName *string `json:"firstName" validate:"omitempty,min=1,max=80"`
	LastName  *string `json:"lastName" validate:"omitempty,min=1,max=80"`
	Role      *string `json:"role" validate:"omitempty,oneof=super_admin tenant_admin store_manager cashier inventory_manager accountant viewer"`
	IsActive  *bool   `json:"isActive"`
}

type RegisterRequest struct {
	BusinessName string `json:"businessName" validate:"required,max=120"`
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	FirstName    string `json:"firstName" validate:"required,max=80"`
	LastName     string `json:"lastName" validate:"required,max=80"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	TenantID string `json:"tenantId" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    string `json:"expiresAt"`
	User         User   `json:"user"`
}
