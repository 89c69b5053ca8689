package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"caixapos/backend/internal/domain"
	"caixapos/backend/internal/events"
	"caixapos/backend/internal/store"
)

// CommitSale turns a cart into a sale header, its line items and the stock
// movements they cause. Either all of it is persisted or none of it; storage
// errors are returned unchanged after rollback.
func (s *Service) CommitSale(ctx context.Context, req domain.CreateSaleRequest) (domain.CommitResult, error) {
	invoice := req.InvoiceNumber
	if strings.TrimSpace(invoice) == "" {
		generated, err := s.invoices.Next(ctx)
		if err != nil {
			return domain.CommitResult{}, err
		}
		invoice = generated
	}

	products, err := s.repo.GetProductsByIDs(ctx, referencedProductIDs(req.Items))
	if err != nil {
		return domain.CommitResult{}, err
	}

	items := make([]domain.SaleItem, len(req.Items))
	for i, line := range req.Items {
		var product *domain.Product
		if line.ProductID != nil {
			if p, ok := products[*line.ProductID]; ok {
				product = &p
			}
		}
		items[i] = PriceLine(line, product, s.taxRate)
	}
	totals := AggregateTotals(items, req.DiscountAmount, req.PaymentMethod, req.CashReceived)

	now := s.now().UTC()
	header := domain.Sale{
		InvoiceNumber:  invoice,
		CustomerID:     req.CustomerID,
		UserID:         req.UserID,
		Subtotal:       totals.Subtotal,
		TaxAmount:      totals.TaxAmount,
		DiscountAmount: totals.DiscountAmount,
		Total:          totals.Total,
		PaymentMethod:  req.PaymentMethod,
		CashReceived:   totals.CashReceived,
		ChangeGiven:    totals.ChangeGiven,
		Status:         domain.SaleStatusCompleted,
		Notes:          req.Notes,
		CreatedAt:      now,
		CompletedAt:    &now,
	}

	var saved *domain.Sale
	var outcomes []domain.LineOutcome
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		saved, err = tx.InsertSale(ctx, header)
		if err != nil {
			return err
		}

		outcomes = make([]domain.LineOutcome, 0, len(items))
		for i, item := range items {
			item.SaleID = saved.ID
			if _, err := tx.InsertSaleItem(ctx, item); err != nil {
				return err
			}
			if item.ProductID == nil {
				continue
			}

			outcome := domain.LineOutcome{Line: i, ProductID: item.ProductID}
			product, known := products[*item.ProductID]
			switch {
			case !known:
				outcome.Outcome = domain.LineSkippedUnknownProduct
			case !product.TrackStock:
				outcome.Outcome = domain.LineSkippedUntracked
			default:
				outcome.Outcome, err = s.adjustStockForLine(ctx, tx, *saved, item)
				if err != nil {
					return err
				}
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		s.metrics.SaleAborted()
		return domain.CommitResult{}, err
	}

	s.metrics.SaleCommitted(string(saved.PaymentMethod))
	for _, outcome := range outcomes {
		s.metrics.LineOutcome(string(outcome.Outcome))
	}
	s.logAudit(ctx, "sale_commit", "sale", fmt.Sprint(saved.ID), fmt.Sprintf("invoice=%s,total=%s,lines=%d", saved.InvoiceNumber, saved.Total, len(items)))
	s.publish(ctx, events.Event{
		Type:          events.SaleCompleted,
		SaleID:        saved.ID,
		InvoiceNumber: saved.InvoiceNumber,
		Payload: map[string]any{
			"total":          saved.Total.String(),
			"payment_method": saved.PaymentMethod,
			"line_outcomes":  outcomes,
		},
	})

	return domain.CommitResult{Sale: *saved, LineOutcomes: outcomes}, nil
}

// adjustStockForLine decrements the product and appends the matching "out"
// movement. A product that vanished since the batch lookup is skipped like an
// unknown one.
func (s *Service) adjustStockForLine(ctx context.Context, tx store.Tx, sale domain.Sale, item domain.SaleItem) (domain.LineOutcomeKind, error) {
	previous, next, err := tx.DecrementStock(ctx, *item.ProductID, item.Quantity, sale.CreatedAt)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LineSkippedUnknownProduct, nil
	}
	if err != nil {
		return "", err
	}

	reference := domain.ReferenceSale
	saleID := sale.ID
	_, err = tx.InsertStockMovement(ctx, domain.StockMovement{
		ProductID:        *item.ProductID,
		Type:             domain.MovementOut,
		Quantity:         item.Quantity,
		PreviousQuantity: previous,
		NewQuantity:      next,
		ReferenceType:    &reference,
		ReferenceID:      &saleID,
		CostPrice:        item.CostPrice,
		UserID:           sale.UserID,
		CreatedAt:        sale.CreatedAt,
	})
	if err != nil {
		return "", err
	}
	s.metrics.StockMovement(string(domain.MovementOut))
	return domain.LineAdjusted, nil
}

// CancelSale flags a sale as cancelled. Stock is left untouched; corrections
// go through RecordStockMovement.
func (s *Service) CancelSale(ctx context.Context, saleID int64, reason string) (domain.Sale, error) {
	sale, err := s.repo.UpdateSaleStatus(ctx, saleID, domain.SaleStatusCancelled, strings.TrimSpace(reason))
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_cancel", "sale", fmt.Sprint(sale.ID), reason)
	s.publish(ctx, events.Event{
		Type:          events.SaleCancelled,
		SaleID:        sale.ID,
		InvoiceNumber: sale.InvoiceNumber,
		Payload:       map[string]any{"reason": reason},
	})
	return *sale, nil
}

func (s *Service) GetSale(ctx context.Context, saleID int64) (domain.SaleDetail, error) {
	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	items, err := s.repo.ListSaleItems(ctx, saleID)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	return domain.SaleDetail{Sale: *sale, Items: items}, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) (domain.SaleListResponse, error) {
	filter.Page, filter.Limit, _ = domain.NormalizePage(filter.Page, filter.Limit)
	sales, total, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{
		Data:       sales,
		Pagination: domain.NewPagination(filter.Page, filter.Limit, total),
	}, nil
}

// DailySummary aggregates completed sales of one UTC day.
func (s *Service) DailySummary(ctx context.Context, date string) (domain.DailySummary, error) {
	from, to, err := dayRange(date, s.now())
	if err != nil {
		return domain.DailySummary{}, err
	}
	summary, err := s.repo.GetSalesSummary(ctx, from, to)
	if err != nil {
		return domain.DailySummary{}, err
	}
	summary.Date = from.Format("2006-01-02")
	return summary, nil
}

func (s *Service) Receipt(ctx context.Context, saleID int64) (domain.Receipt, error) {
	detail, err := s.GetSale(ctx, saleID)
	if err != nil {
		return domain.Receipt{}, err
	}
	return domain.Receipt{StoreName: s.storeName, Sale: detail.Sale, Items: detail.Items}, nil
}

func referencedProductIDs(lines []domain.SaleLine) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == nil {
			continue
		}
		if _, ok := seen[*line.ProductID]; ok {
			continue
		}
		seen[*line.ProductID] = struct{}{}
		ids = append(ids, *line.ProductID)
	}
	return ids
}
