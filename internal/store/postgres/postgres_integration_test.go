package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"multikasir/backend/internal/domain"
)

func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("MULTIKASIR_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MULTIKASIR_TEST_DATABASE_URL to run postgres integration test")
	}

	migrator, err := OpenMigrator(databaseURL, nil)
	if err != nil {
		t.Fatalf("open migrator: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	_ = migrator.Close()

	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestCancelSaleRestocksInventory(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	tenantID := fmt.Sprintf("it-tenant-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, tenantID)
	})

	now := time.Now().UTC()
	if err := s.CreateTenant(ctx, domain.Tenant{ID: tenantID, Name: "Integration", CreatedAt: now}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	price := decimal.RequireFromString("6.00")
	if _, err := s.CreateProduct(ctx, domain.Product{
		ID: tenantID + "-p1", TenantID: tenantID, Name: "Produk IT", SKU: "SKU-IT",
		Price: price, Stock: 10, Status: domain.ProductActive, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	sale, err := s.CreateSale(ctx, domain.Sale{
		ID: tenantID + "-s1", TenantID: tenantID, SaleNumber: "SALE-IT-000001",
		Items: []domain.SaleItem{{
			ProductID: tenantID + "-p1", ProductName: "Produk IT", Quantity: 10,
			UnitPrice: price, Subtotal: decimal.RequireFromString("60.00"),
		}},
		Subtotal: decimal.RequireFromString("60.00"), Tax: decimal.RequireFromString("6.00"),
		Total: decimal.RequireFromString("66.00"), Status: domain.SaleCompleted,
		PaymentMethod: domain.PaymentCash, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	product, err := s.GetProduct(ctx, tenantID, tenantID+"-p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 0 || product.Status != domain.ProductOutOfStock {
		t.Fatalf("expected stock 0 out_of_stock after sale, got %d %s", product.Stock, product.Status)
	}

	cancelled, err := s.CancelSale(ctx, tenantID, sale.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("cancel sale: %v", err)
	}
	if cancelled.Status != domain.SaleCancelled {
		t.Fatalf("expected sale status cancelled, got %s", cancelled.Status)
	}

	product, err = s.GetProduct(ctx, tenantID, tenantID+"-p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 10 || product.Status != domain.ProductActive {
		t.Fatalf("expected stock 10 active after cancel, got %d %s", product.Stock, product.Status)
	}
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	tenantID := fmt.Sprintf("it-tenant-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, tenantID)
	})

	now := time.Now().UTC()
	if err := s.CreateTenant(ctx, domain.Tenant{ID: tenantID, Name: "Integration", CreatedAt: now}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if _, err := s.CreateProduct(ctx, domain.Product{
		ID: tenantID + "-p1", TenantID: tenantID, Name: "Race", SKU: "SKU-RACE",
		Price: decimal.RequireFromString("1.00"), Stock: 10, Status: domain.ProductActive,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AdjustStock(ctx, tenantID, tenantID+"-p1", -1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 successful decrements, got %d", succeeded)
	}
	product, err := s.GetProduct(ctx, tenantID, tenantID+"-p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 0 || product.Status != domain.ProductOutOfStock {
		t.Fatalf("expected stock 0 out_of_stock, got %d %s", product.Stock, product.Status)
	}
}
