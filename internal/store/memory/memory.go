package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/store"
	"multikasir/backend/internal/xid"
)

// Store keeps every tenant's data in maps guarded by one lock. Each mutating
// method runs entirely under the write lock, which gives the same
// all-or-nothing behaviour the postgres store gets from transactions.
type Store struct {
	mu         sync.RWMutex
	tenants    map[string]domain.Tenant
	users      map[string]domain.User
	categories map[string]domain.Category
	products   map[string]domain.Product
	sales      map[string]domain.Sale
	sequences  map[string]int64
}

func New() *Store {
	return &Store{
		tenants:    make(map[string]domain.Tenant),
		users:      make(map[string]domain.User),
		categories: make(map[string]domain.Category),
		products:   make(map[string]domain.Product),
		sales:      make(map[string]domain.Sale),
		sequences:  make(map[string]int64),
	}
}

func (s *Store) CreateTenant(_ context.Context, tenant domain.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tenant.ID == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.tenants[tenant.ID]; exists {
		return store.ErrConflict
	}
	s.tenants[tenant.ID] = tenant
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = xid.New("")
	}
	for _, existing := range s.users {
		if existing.TenantID == user.TenantID && strings.EqualFold(existing.Email, user.Email) {
			return domain.User{}, store.ErrConflict
		}
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *Store) GetUser(_ context.Context, tenantID string, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok || user.TenantID != tenantID {
		return domain.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, tenantID string, email string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.TenantID == tenantID && strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return domain.User{}, store.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context, tenantID string) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, 16)
	for _, user := range s.users {
		if user.TenantID == tenantID {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok || existing.TenantID != user.TenantID {
		return domain.User{}, store.ErrNotFound
	}
	for id, other := range s.users {
		if id != user.ID && other.TenantID == user.TenantID && strings.EqualFold(other.Email, user.Email) {
			return domain.User{}, store.ErrConflict
		}
	}
	user.CreatedAt = existing.CreatedAt
	s.users[user.ID] = user
	return user, nil
}

func (s *Store) DeleteUser(_ context.Context, tenantID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok || user.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category.ID == "" {
		category.ID = xid.New("")
	}
	if s.slugTaken(category.TenantID, category.Slug, category.ID) {
		return domain.Category{}, store.ErrConflict
	}
	s.categories[category.ID] = category
	return category, nil
}

func (s *Store) GetCategory(_ context.Context, tenantID string, id string) (domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, ok := s.categories[id]
	if !ok || category.TenantID != tenantID {
		return domain.Category{}, store.ErrNotFound
	}
	return category, nil
}

func (s *Store) ListCategories(_ context.Context, tenantID string, includeInactive bool) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, 32)
	for _, category := range s.categories {
		if category.TenantID != tenantID {
			continue
		}
		if !includeInactive && !category.IsActive {
			continue
		}
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool {
		if categories[i].DisplayOrder != categories[j].DisplayOrder {
			return categories[i].DisplayOrder < categories[j].DisplayOrder
		}
		return categories[i].Name < categories[j].Name
	})
	return categories, nil
}

func (s *Store) UpdateCategory(_ context.Context, category domain.Category) (domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.categories[category.ID]
	if !ok || existing.TenantID != category.TenantID {
		return domain.Category{}, store.ErrNotFound
	}
	if s.slugTaken(category.TenantID, category.Slug, category.ID) {
		return domain.Category{}, store.ErrConflict
	}
	category.CreatedAt = existing.CreatedAt
	s.categories[category.ID] = category
	return category, nil
}

func (s *Store) DeleteCategory(_ context.Context, tenantID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	category, ok := s.categories[id]
	if !ok || category.TenantID != tenantID {
		return store.ErrNotFound
	}
	if s.childCount(tenantID, id) > 0 {
		return store.ErrHasChildren
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) CountChildCategories(_ context.Context, tenantID string, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.childCount(tenantID, id), nil
}

func (s *Store) childCount(tenantID string, id string) int {
	count := 0
	for _, category := range s.categories {
		if category.TenantID == tenantID && category.Parent() == id {
			count++
		}
	}
	return count
}

func (s *Store) slugTaken(tenantID string, slug string, exceptID string) bool {
	for id, category := range s.categories {
		if id != exceptID && category.TenantID == tenantID && category.Slug == slug {
			return true
		}
	}
	return false
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("")
	}
	if s.skuTaken(product.TenantID, product.SKU, product.ID) {
		return domain.Product{}, store.ErrConflict
	}
	product.ReconcileStatus()
	s.products[product.ID] = product
	return cloneProduct(product), nil
}

func (s *Store) GetProduct(_ context.Context, tenantID string, id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok || product.TenantID != tenantID {
		return domain.Product{}, store.ErrNotFound
	}
	return cloneProduct(product), nil
}

func (s *Store) ListProducts(_ context.Context, tenantID string, filter domain.ProductFilter) ([]domain.Product, error) {
	return s.collectProducts(tenantID, func(p domain.Product) bool {
		if filter.Status != "" && p.Status != filter.Status {
			return false
		}
		if filter.CategoryID != "" && (p.CategoryID == nil || *p.CategoryID != filter.CategoryID) {
			return false
		}
		return true
	}), nil
}

func (s *Store) SearchProducts(_ context.Context, tenantID string, query string) ([]domain.Product, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	return s.collectProducts(tenantID, func(p domain.Product) bool {
		if needle == "" {
			return true
		}
		for _, field := range []string{p.Name, p.Description, p.SKU, p.Barcode} {
			if strings.Contains(strings.ToLower(field), needle) {
				return true
			}
		}
		return false
	}), nil
}

func (s *Store) collectProducts(tenantID string, keep func(domain.Product) bool) []domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, 64)
	for _, product := range s.products {
		if product.TenantID == tenantID && keep(product) {
			products = append(products, cloneProduct(product))
		}
	}
	sort.Slice(products, func(i, j int) bool {
		if !products[i].CreatedAt.Equal(products[j].CreatedAt) {
			return products[i].CreatedAt.After(products[j].CreatedAt)
		}
		return products[i].ID < products[j].ID
	})
	return products
}

func (s *Store) ListProductCategoryIDs(_ context.Context, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, product := range s.products {
		if product.TenantID == tenantID && product.CategoryID != nil && *product.CategoryID != "" {
			seen[*product.CategoryID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok || existing.TenantID != product.TenantID {
		return domain.Product{}, store.ErrNotFound
	}
	if s.skuTaken(product.TenantID, product.SKU, product.ID) {
		return domain.Product{}, store.ErrConflict
	}
	product.Stock = existing.Stock
	product.CreatedAt = existing.CreatedAt
	product.ReconcileStatus()
	s.products[product.ID] = product
	return cloneProduct(product), nil
}

func (s *Store) DeleteProduct(_ context.Context, tenantID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok || product.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, tenantID string, productID string, delta int) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, err := s.applyStock(tenantID, productID, delta, time.Now().UTC())
	if err != nil {
		return domain.Product{}, err
	}
	return cloneProduct(product), nil
}

// applyStock is the single stock mutation path. Callers hold the write lock.
func (s *Store) applyStock(tenantID string, productID string, delta int, at time.Time) (domain.Product, error) {
	product, ok := s.products[productID]
	if !ok || product.TenantID != tenantID {
		return domain.Product{}, store.ErrNotFound
	}
	if product.Stock+delta < 0 {
		return domain.Product{}, &store.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.Stock,
			Requested:   -delta,
		}
	}
	product.Stock += delta
	product.ReconcileStatus()
	product.UpdatedAt = at
	s.products[productID] = product
	return product, nil
}

func (s *Store) skuTaken(tenantID string, sku string, exceptID string) bool {
	for id, product := range s.products {
		if id != exceptID && product.TenantID == tenantID && strings.EqualFold(product.SKU, sku) {
			return true
		}
	}
	return false
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return domain.Sale{}, store.ErrInvalidInput
	}
	if sale.ID == "" {
		sale.ID = xid.New("")
	}
	for _, existing := range s.sales {
		if existing.TenantID == sale.TenantID && existing.SaleNumber == sale.SaleNumber {
			return domain.Sale{}, store.ErrConflict
		}
	}

	// Check the whole cart before touching any product.
	required := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		required[item.ProductID] += item.Quantity
	}
	for productID, qty := range required {
		product, ok := s.products[productID]
		if !ok || product.TenantID != sale.TenantID {
			return domain.Sale{}, store.ErrNotFound
		}
		if product.Stock < qty {
			return domain.Sale{}, &store.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
				Requested:   qty,
			}
		}
	}
	for productID, qty := range required {
		if _, err := s.applyStock(sale.TenantID, productID, -qty, sale.CreatedAt); err != nil {
			return domain.Sale{}, err
		}
	}

	sale.Items = slices.Clone(sale.Items)
	s.sales[sale.ID] = sale
	return cloneSale(sale), nil
}

func (s *Store) GetSale(_ context.Context, tenantID string, id string) (domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok || sale.TenantID != tenantID {
		return domain.Sale{}, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, tenantID string, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 64)
	for _, sale := range s.sales {
		if sale.TenantID != tenantID {
			continue
		}
		if !filter.From.IsZero() && sale.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && sale.CreatedAt.After(filter.To) {
			continue
		}
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if filter.ExcludeStatus != "" && sale.Status == filter.ExcludeStatus {
			continue
		}
		sales = append(sales, cloneSale(sale))
	}
	sort.Slice(sales, func(i, j int) bool {
		if !sales[i].CreatedAt.Equal(sales[j].CreatedAt) {
			return sales[i].CreatedAt.After(sales[j].CreatedAt)
		}
		return sales[i].SaleNumber > sales[j].SaleNumber
	})
	return sales, nil
}

func (s *Store) CountSales(_ context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, sale := range s.sales {
		if sale.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

func (s *Store) CancelSale(_ context.Context, tenantID string, id string, at time.Time) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok || sale.TenantID != tenantID {
		return domain.Sale{}, store.ErrNotFound
	}
	switch sale.Status {
	case domain.SaleCancelled:
		return domain.Sale{}, store.ErrAlreadyCancelled
	case domain.SaleRefunded:
		return domain.Sale{}, store.ErrInvalidState
	}

	for _, item := range sale.Items {
		if _, err := s.applyStock(tenantID, item.ProductID, item.Quantity, at); err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, err
		}
	}

	sale.Status = domain.SaleCancelled
	sale.UpdatedAt = at
	s.sales[id] = sale
	return cloneSale(sale), nil
}

func (s *Store) NextSaleSequence(_ context.Context, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[tenantID]++
	return s.sequences[tenantID], nil
}

func cloneProduct(p domain.Product) domain.Product {
	p.Tags = slices.Clone(p.Tags)
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p
}

func cloneSale(sale domain.Sale) domain.Sale {
	sale.Items = slices.Clone(sale.Items)
	return sale
}
