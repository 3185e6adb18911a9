package memory

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"multikasir/backend/internal/category"
	"multikasir/backend/internal/domain"
)

const (
	DemoTenantID   = "demo"
	DemoAdminEmail = "admin@demo.local"
)

// NewSeeded returns a store holding one demo tenant with an admin account,
// a small category tree and a handful of products. It is only meant for
// local development without DATABASE_URL.
func NewSeeded(adminPassword string) (*Store, error) {
	s := New()
	now := time.Now().UTC()

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	s.tenants[DemoTenantID] = domain.Tenant{ID: DemoTenantID, Name: "Demo Store", CreatedAt: now}
	s.users["demo-admin"] = domain.User{
		ID:           "demo-admin",
		TenantID:     DemoTenantID,
		Email:        DemoAdminEmail,
		PasswordHash: string(hash),
		FirstName:    "Demo",
		LastName:     "Admin",
		Role:         domain.RoleTenantAdmin,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	categories := []struct {
		id     string
		name   string
		parent string
		order  int
	}{
		{"cat-grocery", "Grocery", "", 0},
		{"cat-beverage", "Beverage", "", 1},
		{"cat-noodles", "Instant Noodles", "cat-grocery", 0},
		{"cat-coffee", "Coffee", "cat-beverage", 0},
		{"cat-water", "Mineral Water", "cat-beverage", 1},
	}
	for _, c := range categories {
		entry := domain.Category{
			ID:           c.id,
			TenantID:     DemoTenantID,
			Name:         c.name,
			Slug:         category.Slugify(c.name),
			DisplayOrder: c.order,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if c.parent != "" {
			parent := c.parent
			entry.ParentID = &parent
		}
		s.categories[entry.ID] = entry
	}

	products := []struct {
		id       string
		sku      string
		name     string
		price    string
		stock    int
		category string
	}{
		{"prd-mie", "SKU-MIE-01", "Mie Goreng Instan", "0.35", 120, "cat-noodles"},
		{"prd-kopi", "SKU-KOPI-01", "Kopi Sachet", "0.26", 200, "cat-coffee"},
		{"prd-air", "SKU-AIR-01", "Air Mineral 600ml", "0.39", 80, "cat-water"},
		{"prd-gula", "SKU-GULA-01", "Gula 1kg", "1.74", 0, "cat-grocery"},
	}
	for _, p := range products {
		categoryID := p.category
		product := domain.Product{
			ID:         p.id,
			TenantID:   DemoTenantID,
			Name:       p.name,
			Price:      decimal.RequireFromString(p.price),
			SKU:        p.sku,
			Stock:      p.stock,
			Status:     domain.ProductActive,
			CategoryID: &categoryID,
			Tags:       []string{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		product.ReconcileStatus()
		s.products[product.ID] = product
	}

	return s, nil
}
