package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/store"
)

func seedProduct(t *testing.T, s *Store, tenantID string, id string, stock int) domain.Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), domain.Product{
		ID:       id,
		TenantID: tenantID,
		Name:     "Product " + id,
		SKU:      "SKU-" + id,
		Price:    decimal.RequireFromString("2.50"),
		Stock:    stock,
		Status:   domain.ProductActive,
	})
	require.NoError(t, err)
	return p
}

func TestCreateProductRejectsDuplicateSKUPerTenant(t *testing.T) {
	s := New()
	seedProduct(t, s, "t1", "p1", 1)

	_, err := s.CreateProduct(context.Background(), domain.Product{ID: "p2", TenantID: "t1", SKU: "sku-p1"})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.CreateProduct(context.Background(), domain.Product{ID: "p3", TenantID: "t2", SKU: "SKU-p1"})
	assert.NoError(t, err)
}

func TestTenantIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "t1", "p1", 5)

	_, err := s.GetProduct(ctx, "t2", "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.AdjustStock(ctx, "t2", "p1", 3)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.DeleteProduct(ctx, "t2", "p1"), store.ErrNotFound)

	products, err := s.ListProducts(ctx, "t2", domain.ProductFilter{})
	require.NoError(t, err)
	assert.Empty(t, products)

	p, err := s.GetProduct(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
}

func TestAdjustStockKeepsStatusInSync(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "t1", "p1", 2)

	p, err := s.AdjustStock(ctx, "t1", "p1", -2)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, domain.ProductOutOfStock, p.Status)

	p, err = s.AdjustStock(ctx, "t1", "p1", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Stock)
	assert.Equal(t, domain.ProductActive, p.Status)

	_, err = s.AdjustStock(ctx, "t1", "p1", -5)
	var insufficient *store.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 4, insufficient.Available)

	p, err = s.GetProduct(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Stock)
}

func TestAdjustStockLeavesInactiveProductsInactive(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seedProduct(t, s, "t1", "p1", 3)
	p.Status = domain.ProductInactive
	_, err := s.UpdateProduct(ctx, p)
	require.NoError(t, err)

	updated, err := s.AdjustStock(ctx, "t1", "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ProductInactive, updated.Status)
}

func TestCreateSaleIsAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "t1", "p1", 10)
	seedProduct(t, s, "t1", "p2", 3)

	_, err := s.CreateSale(ctx, domain.Sale{
		TenantID:   "t1",
		SaleNumber: "SALE-20260101-000001",
		Items: []domain.SaleItem{
			{ProductID: "p1", Quantity: 4},
			{ProductID: "p2", Quantity: 5},
		},
		CreatedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	p1, _ := s.GetProduct(ctx, "t1", "p1")
	p2, _ := s.GetProduct(ctx, "t1", "p2")
	assert.Equal(t, 10, p1.Stock)
	assert.Equal(t, 3, p2.Stock)

	count, err := s.CountSales(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreateSaleCountsRepeatedProductLines(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "t1", "p1", 5)

	_, err := s.CreateSale(ctx, domain.Sale{
		TenantID:   "t1",
		SaleNumber: "SALE-20260101-000001",
		Items: []domain.SaleItem{
			{ProductID: "p1", Quantity: 3},
			{ProductID: "p1", Quantity: 3},
		},
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestCreateSaleRejectsDuplicateSaleNumber(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "t1", "p1", 5)
	sale := domain.Sale{
		TenantID:   "t1",
		SaleNumber: "SALE-20260101-000001",
		Items:      []domain.SaleItem{{ProductID: "p1", Quantity: 1}},
	}

	_, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	_, err = s.CreateSale(ctx, sale)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestCancelSaleRestoresStockOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "t1", "p1", 2)
	seedProduct(t, s, "t1", "p2", 5)

	sale, err := s.CreateSale(ctx, domain.Sale{
		TenantID:   "t1",
		SaleNumber: "SALE-20260101-000001",
		Status:     domain.SaleCompleted,
		Items: []domain.SaleItem{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
	})
	require.NoError(t, err)

	p1, _ := s.GetProduct(ctx, "t1", "p1")
	assert.Equal(t, domain.ProductOutOfStock, p1.Status)

	require.NoError(t, s.DeleteProduct(ctx, "t1", "p2"))

	cancelled, err := s.CancelSale(ctx, "t1", sale.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCancelled, cancelled.Status)

	p1, _ = s.GetProduct(ctx, "t1", "p1")
	assert.Equal(t, 2, p1.Stock)
	assert.Equal(t, domain.ProductActive, p1.Status)

	_, err = s.CancelSale(ctx, "t1", sale.ID, time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrAlreadyCancelled)

	p1, _ = s.GetProduct(ctx, "t1", "p1")
	assert.Equal(t, 2, p1.Stock)
}

func TestCancelSaleRejectsRefundedSale(t *testing.T) {
	s := New()
	s.sales["s1"] = domain.Sale{ID: "s1", TenantID: "t1", Status: domain.SaleRefunded}

	_, err := s.CancelSale(context.Background(), "t1", "s1", time.Now())
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestDeleteCategoryWithChildrenFails(t *testing.T) {
	s := New()
	ctx := context.Background()
	parentID := "root"
	_, err := s.CreateCategory(ctx, domain.Category{ID: "root", TenantID: "t1", Slug: "root"})
	require.NoError(t, err)
	_, err = s.CreateCategory(ctx, domain.Category{ID: "leaf", TenantID: "t1", Slug: "leaf", ParentID: &parentID})
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteCategory(ctx, "t1", "root"), store.ErrHasChildren)
	assert.NoError(t, s.DeleteCategory(ctx, "t1", "leaf"))
	assert.NoError(t, s.DeleteCategory(ctx, "t1", "root"))
}

func TestListCategoriesOrdersByDisplayOrderThenName(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, c := range []domain.Category{
		{ID: "c", TenantID: "t1", Name: "Zeta", Slug: "zeta", DisplayOrder: 0, IsActive: true},
		{ID: "b", TenantID: "t1", Name: "Beta", Slug: "beta", DisplayOrder: 1, IsActive: true},
		{ID: "a", TenantID: "t1", Name: "Alpha", Slug: "alpha", DisplayOrder: 1, IsActive: true},
		{ID: "d", TenantID: "t1", Name: "Hidden", Slug: "hidden", IsActive: false},
	} {
		_, err := s.CreateCategory(ctx, c)
		require.NoError(t, err)
	}

	active, err := s.ListCategories(ctx, "t1", false)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{active[0].ID, active[1].ID, active[2].ID})

	all, err := s.ListCategories(ctx, "t1", true)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSearchProductsMatchesNameAndSKU(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "t1", "coffee", 1)
	seedProduct(t, s, "t1", "tea", 1)

	found, err := s.SearchProducts(ctx, "t1", "COFF")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "coffee", found[0].ID)

	found, err = s.SearchProducts(ctx, "t1", "sku-tea")
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestNextSaleSequenceIsPerTenantAndUnique(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.NextSaleSequence(ctx, "t1")
			if err == nil {
				seen.Store(n, true)
			}
		}()
	}
	wg.Wait()

	count := 0
	seen.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, 50, count)

	n, err := s.NextSaleSequence(ctx, "t2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
