package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"caixapos/backend/internal/domain"
	"caixapos/backend/internal/store"
)

type txStore struct {
	tx *sql.Tx
}

func (t *txStore) InsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	return insertProduct(ctx, t.tx, product)
}

func (t *txStore) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO sales (
			invoice_number, customer_id, user_id, subtotal, tax_amount, discount_amount, total,
			payment_method, cash_received, change_given, status, notes, created_at, completed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id
	`, sale.InvoiceNumber, sale.CustomerID, sale.UserID, sale.Subtotal, sale.TaxAmount, sale.DiscountAmount, sale.Total,
		sale.PaymentMethod, sale.CashReceived, sale.ChangeGiven, sale.Status, sale.Notes, sale.CreatedAt, nullTime(sale.CompletedAt),
	).Scan(&sale.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: invoice %s already exists", store.ErrConflict, sale.InvoiceNumber)
		}
		return nil, err
	}
	return &sale, nil
}

func (t *txStore) InsertSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO sale_items (
			sale_id, product_id, product_name, barcode, quantity, unit_price, discount_percent,
			discount_amount, tax_rate, tax_amount, subtotal, total, cost_price
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id
	`, item.SaleID, item.ProductID, item.ProductName, item.Barcode, item.Quantity, item.UnitPrice, item.DiscountPercent,
		item.DiscountAmount, item.TaxRate, item.TaxAmount, item.Subtotal, item.Total, item.CostPrice,
	).Scan(&item.ID)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DecrementStock is one guarded UPDATE, so two tills selling the last unit
// cannot both succeed.
func (t *txStore) DecrementStock(ctx context.Context, productID int64, qty decimal.Decimal, at time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var next decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = $3
		WHERE id = $1
			AND (allow_negative_stock OR stock_quantity >= $2)
		RETURNING stock_quantity
	`, productID, qty, at).Scan(&next)
	if err == nil {
		return next.Add(qty), next, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, decimal.Zero, err
	}

	var current decimal.Decimal
	err = t.tx.QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, decimal.Zero, store.ErrNotFound
	}
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return decimal.Zero, decimal.Zero, fmt.Errorf("%w: product %d has %s, needs %s", store.ErrInsufficientStock, productID, current, qty)
}

func (t *txStore) LockProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	product, err := scanProduct(t.tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (t *txStore) SetStockQuantity(ctx context.Context, productID int64, qty decimal.Decimal, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = $2, updated_at = $3
		WHERE id = $1
	`, productID, qty, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *txStore) InsertStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO stock_movements (
			product_id, type, quantity, previous_quantity, new_quantity, reference_type, reference_id,
			cost_price, notes, user_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`, movement.ProductID, movement.Type, movement.Quantity, movement.PreviousQuantity, movement.NewQuantity,
		movement.ReferenceType, movement.ReferenceID, movement.CostPrice, movement.Notes, movement.UserID, movement.CreatedAt,
	).Scan(&movement.ID)
	if err != nil {
		return nil, err
	}
	return &movement, nil
}
