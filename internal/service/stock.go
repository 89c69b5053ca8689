package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"caixapos/backend/internal/domain"
	"caixapos/backend/internal/store"
)

// ApplyMovement computes the stock level after a movement of the given type.
// "in" and "return" add, "out", "damage" and "transfer" subtract, and
// "adjustment" sets the quantity directly.
func ApplyMovement(movementType domain.MovementType, previous decimal.Decimal, qty decimal.Decimal) (decimal.Decimal, error) {
	switch movementType {
	case domain.MovementIn, domain.MovementReturn:
		return previous.Add(qty), nil
	case domain.MovementOut, domain.MovementDamage, domain.MovementTransfer:
		return previous.Sub(qty), nil
	case domain.MovementAdjustment:
		return qty, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown movement type %q", store.ErrInvalidInput, movementType)
	}
}

// RecordStockMovement books a manual inventory change against a locked product
// row and appends its ledger entry in the same transaction.
func (s *Service) RecordStockMovement(ctx context.Context, req domain.StockMovementRequest) (domain.StockMovement, error) {
	if req.ProductID < 1 || req.Quantity.IsNegative() {
		return domain.StockMovement{}, store.ErrInvalidInput
	}
	if req.Type != domain.MovementAdjustment && !req.Quantity.IsPositive() {
		return domain.StockMovement{}, store.ErrInvalidInput
	}
	if _, err := ApplyMovement(req.Type, decimal.Zero, req.Quantity); err != nil {
		return domain.StockMovement{}, err
	}

	now := s.now().UTC()
	var saved *domain.StockMovement
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		product, err := tx.LockProduct(ctx, req.ProductID)
		if err != nil {
			return err
		}

		next, err := ApplyMovement(req.Type, product.StockQuantity, req.Quantity)
		if err != nil {
			return err
		}
		if next.IsNegative() && !product.AllowNegativeStock {
			return fmt.Errorf("%w: product %d would drop to %s", store.ErrInsufficientStock, product.ID, next)
		}
		if err := tx.SetStockQuantity(ctx, product.ID, next, now); err != nil {
			return err
		}

		cost := req.CostPrice
		if cost == nil {
			snapshot := product.CostPrice
			cost = &snapshot
		}
		saved, err = tx.InsertStockMovement(ctx, domain.StockMovement{
			ProductID:        product.ID,
			Type:             req.Type,
			Quantity:         req.Quantity,
			PreviousQuantity: product.StockQuantity,
			NewQuantity:      next,
			CostPrice:        cost,
			Notes:            req.Notes,
			UserID:           req.UserID,
			CreatedAt:        now,
		})
		return err
	})
	if err != nil {
		return domain.StockMovement{}, err
	}

	s.metrics.StockMovement(string(saved.Type))
	s.logAudit(ctx, "stock_movement", "product", fmt.Sprint(saved.ProductID), fmt.Sprintf("type=%s,qty=%s,prev=%s,new=%s", saved.Type, saved.Quantity, saved.PreviousQuantity, saved.NewQuantity))
	return *saved, nil
}

func (s *Service) ListStockMovements(ctx context.Context, filter domain.StockMovementFilter) (domain.StockMovementListResponse, error) {
	filter.Page, filter.Limit, _ = domain.NormalizePage(filter.Page, filter.Limit)
	movements, total, err := s.repo.ListStockMovements(ctx, filter)
	if err != nil {
		return domain.StockMovementListResponse{}, err
	}
	return domain.StockMovementListResponse{
		Data:       movements,
		Pagination: domain.NewPagination(filter.Page, filter.Limit, total),
	}, nil
}
