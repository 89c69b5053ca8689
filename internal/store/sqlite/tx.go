package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"caixapos/backend/internal/domain"
	"caixapos/backend/internal/store"
)

type txStore struct {
	tx *sqlx.Tx
}

func (t *txStore) InsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	return insertProduct(ctx, t.tx, product)
}

func (t *txStore) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			invoice_number, customer_id, user_id, subtotal, tax_amount, discount_amount, total,
			payment_method, cash_received, change_given, status, notes, created_at, completed_at
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, sale.InvoiceNumber, sale.CustomerID, sale.UserID, sale.Subtotal, sale.TaxAmount, sale.DiscountAmount, sale.Total,
		sale.PaymentMethod, sale.CashReceived, sale.ChangeGiven, sale.Status, sale.Notes, sale.CreatedAt.UTC(), utcPtr(sale.CompletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: invoice %s already exists", store.ErrConflict, sale.InvoiceNumber)
		}
		return nil, err
	}
	sale.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (t *txStore) InsertSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO sale_items (
			sale_id, product_id, product_name, barcode, quantity, unit_price, discount_percent,
			discount_amount, tax_rate, tax_amount, subtotal, total, cost_price
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, item.SaleID, item.ProductID, item.ProductName, item.Barcode, item.Quantity, item.UnitPrice, item.DiscountPercent,
		item.DiscountAmount, item.TaxRate, item.TaxAmount, item.Subtotal, item.Total, item.CostPrice)
	if err != nil {
		return nil, err
	}
	item.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DecrementStock reads and writes on the transaction's connection. The pool
// holds a single connection so no other writer can interleave.
func (t *txStore) DecrementStock(ctx context.Context, productID int64, qty decimal.Decimal, at time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var row struct {
		Stock         decimal.Decimal `db:"stock_quantity"`
		AllowNegative bool            `db:"allow_negative_stock"`
	}
	err := t.tx.GetContext(ctx, &row, `SELECT stock_quantity, allow_negative_stock FROM products WHERE id = ?`, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, decimal.Zero, store.ErrNotFound
		}
		return decimal.Zero, decimal.Zero, err
	}
	if !row.AllowNegative && row.Stock.LessThan(qty) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: product %d has %s, needs %s", store.ErrInsufficientStock, productID, row.Stock, qty)
	}

	next := row.Stock.Sub(qty)
	if err := t.SetStockQuantity(ctx, productID, next, at); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return row.Stock, next, nil
}

func (t *txStore) LockProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	var product domain.Product
	err := t.tx.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = ?`, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeProduct(&product)
	return &product, nil
}

func (t *txStore) SetStockQuantity(ctx context.Context, productID int64, qty decimal.Decimal, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE products SET stock_quantity = ?, updated_at = ? WHERE id = ?`, qty, at.UTC(), productID)
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
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_movements (
			product_id, type, quantity, previous_quantity, new_quantity, reference_type, reference_id,
			cost_price, notes, user_id, created_at
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`, movement.ProductID, movement.Type, movement.Quantity, movement.PreviousQuantity, movement.NewQuantity,
		movement.ReferenceType, movement.ReferenceID, movement.CostPrice, movement.Notes, movement.UserID, movement.CreatedAt.UTC())
	if err != nil {
		return nil, err
	}
	movement.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &movement, nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
