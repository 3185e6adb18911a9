package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/pricing"
	"multikasir/backend/internal/store"
	"multikasir/backend/internal/xid"
)

const saleNumberAttempts = 3

const dateLayout = "2006-01-02"

// CreateSale prices the cart from current product snapshots and commits every
// stock decrement together with the sale. A cart that cannot be fully covered
// leaves all stock untouched.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Sale{}, err
	}
	if req.Discount.IsNegative() {
		return domain.Sale{}, invalid("discount must not be negative")
	}

	lines := mergeSaleLines(req.Items)
	items := make([]domain.SaleItem, 0, len(lines))
	priced := make([]pricing.Line, 0, len(lines))
	for _, line := range lines {
		product, err := s.repo.GetProduct(ctx, actor.TenantID, line.ProductID)
		if err != nil {
			return domain.Sale{}, notFound("product", line.ProductID, err)
		}
		if product.Stock < line.Quantity {
			s.metrics.StockRejected()
			return domain.Sale{}, &store.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
				Requested:   line.Quantity,
			}
		}
		items = append(items, domain.SaleItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   product.Price,
		})
		priced = append(priced, pricing.Line{UnitPrice: product.Price, Quantity: line.Quantity})
	}

	totals, err := pricing.Compute(priced, req.Discount)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	for i := range items {
		items[i].Subtotal = totals.Lines[i]
	}

	status := req.Status
	if status == "" {
		status = domain.SaleCompleted
	}
	now := s.clock()
	sale := domain.Sale{
		TenantID:      actor.TenantID,
		Items:         items,
		Subtotal:      totals.Subtotal,
		Tax:           totals.Tax,
		Discount:      totals.Discount,
		Total:         totals.Total,
		Status:        status,
		PaymentMethod: req.PaymentMethod,
		CashierID:     actor.UserID,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		Notes:         strings.TrimSpace(req.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var created domain.Sale
	for attempt := 1; ; attempt++ {
		seq, err := s.sequencer.NextSaleSequence(ctx, actor.TenantID)
		if err != nil {
			return domain.Sale{}, fmt.Errorf("allocate sale number: %w", err)
		}
		sale.ID = xid.New("")
		sale.SaleNumber = formatSaleNumber(now, seq)

		created, err = s.repo.CreateSale(ctx, sale)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrInsufficientStock) {
			s.metrics.StockRejected()
		}
		if !errors.Is(err, store.ErrConflict) || attempt == saleNumberAttempts {
			return domain.Sale{}, notFound("product", "in cart", err)
		}
		s.metrics.SaleNumberRetried()
		s.logger.Warn("sale number taken, retrying",
			zap.String("tenant_id", actor.TenantID), zap.String("sale_number", sale.SaleNumber), zap.Int("attempt", attempt))
	}

	s.metrics.SaleCreated(created.PaymentMethod, created.Total.InexactFloat64())
	s.logAudit(ctx, "sale_create", "sale", created.ID,
		zap.String("sale_number", created.SaleNumber), zap.String("total", created.Total.StringFixed(2)),
		zap.Int("items", len(created.Items)))
	return created, nil
}

// mergeSaleLines folds repeated products into one line, keeping the position
// of the first occurrence.
func mergeSaleLines(reqs []domain.SaleItemRequest) []domain.SaleItemRequest {
	merged := make([]domain.SaleItemRequest, 0, len(reqs))
	index := make(map[string]int, len(reqs))
	for _, req := range reqs {
		id := strings.TrimSpace(req.ProductID)
		if i, ok := index[id]; ok {
			merged[i].Quantity += req.Quantity
			continue
		}
		index[id] = len(merged)
		merged = append(merged, domain.SaleItemRequest{ProductID: id, Quantity: req.Quantity})
	}
	return merged
}

func formatSaleNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("SALE-%s-%06d", at.UTC().Format("20060102"), seq)
}

// ListSales filters by an inclusive date range and status. Dates are either
// YYYY-MM-DD, read in the business location, or RFC 3339 timestamps. A bare
// end date covers the whole day.
func (s *Service) ListSales(ctx context.Context, startDate string, endDate string, status string) ([]domain.Sale, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	var filter domain.SaleFilter
	if startDate != "" {
		from, _, err := s.parseDate(startDate)
		if err != nil {
			return nil, invalid("startDate: %v", err)
		}
		filter.From = from
	}
	if endDate != "" {
		to, dateOnly, err := s.parseDate(endDate)
		if err != nil {
			return nil, invalid("endDate: %v", err)
		}
		if dateOnly {
			to = endOfDay(to)
		}
		filter.To = to
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, invalid("endDate is before startDate")
	}
	if status != "" {
		filter.Status = domain.SaleStatus(status)
		switch filter.Status {
		case domain.SalePending, domain.SaleCompleted, domain.SaleCancelled, domain.SaleRefunded:
		default:
			return nil, invalid("unknown sale status %q", status)
		}
	}
	return s.repo.ListSales(ctx, actor.TenantID, filter)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, actor.TenantID, id)
	if err != nil {
		return domain.Sale{}, notFound("sale", id, err)
	}
	return sale, nil
}

// CancelSale restores the stock of every line and marks the sale cancelled.
// Cancelling twice fails without restoring stock again.
func (s *Service) CancelSale(ctx context.Context, id string) (domain.Sale, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.CancelSale(ctx, actor.TenantID, id, s.clock())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyCancelled):
			return domain.Sale{}, err
		case errors.Is(err, store.ErrInvalidState):
			return domain.Sale{}, fmt.Errorf("%w: refunded sales cannot be cancelled", store.ErrInvalidState)
		}
		return domain.Sale{}, notFound("sale", id, err)
	}

	s.metrics.SaleCancelled()
	s.logAudit(ctx, "sale_cancel", "sale", sale.ID,
		zap.String("sale_number", sale.SaleNumber), zap.Int("items", len(sale.Items)))
	return sale, nil
}

// DailySummary reduces the non-cancelled sales of one business day. An empty
// date means today.
func (s *Service) DailySummary(ctx context.Context, date string) (domain.DailySummary, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.DailySummary{}, err
	}

	var day time.Time
	if date == "" {
		now := s.now().In(s.location)
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	} else {
		day, err = time.ParseInLocation(dateLayout, date, s.location)
		if err != nil {
			return domain.DailySummary{}, invalid("date must be YYYY-MM-DD")
		}
	}

	sales, err := s.repo.ListSales(ctx, actor.TenantID, domain.SaleFilter{
		From:          day,
		To:            endOfDay(day),
		ExcludeStatus: domain.SaleCancelled,
	})
	if err != nil {
		return domain.DailySummary{}, err
	}
	return summarize(day, sales), nil
}

func summarize(day time.Time, sales []domain.Sale) domain.DailySummary {
	summary := domain.DailySummary{
		Date:          day.Format(dateLayout),
		TotalSales:    len(sales),
		TotalRevenue:  decimal.Zero,
		TotalDiscount: decimal.Zero,
		TotalTax:      decimal.Zero,
		AverageSale:   decimal.Zero,
	}
	for _, sale := range sales {
		summary.TotalRevenue = summary.TotalRevenue.Add(sale.Total)
		summary.TotalDiscount = summary.TotalDiscount.Add(sale.Discount)
		summary.TotalTax = summary.TotalTax.Add(sale.Tax)
	}
	if summary.TotalSales > 0 {
		summary.AverageSale = pricing.Round(summary.TotalRevenue.Div(decimal.NewFromInt(int64(summary.TotalSales))))
	}
	return summary
}

func (s *Service) parseDate(value string) (time.Time, bool, error) {
	if t, err := time.ParseInLocation(dateLayout, value, s.location); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%q is neither YYYY-MM-DD nor RFC 3339", value)
	}
	return t, false, nil
}

// endOfDay is the last instant before the next midnight in day's location.
func endOfDay(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, day.Location()).Add(-time.Nanosecond)
}
