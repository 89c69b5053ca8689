package memory

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"caixapos/backend/internal/domain"
	"caixapos/backend/internal/store"
)

type snapshot struct {
	products       map[int64]domain.Product
	sales          map[int64]domain.Sale
	saleByInvoice  map[string]int64
	saleItems      int
	movements      int
	nextProductID  int64
	nextSaleID     int64
	nextItemID     int64
	nextMovementID int64
}

// snapshot captures what a transaction may touch. Items and movements are
// append-only, so their lengths are enough to roll them back.
func (s *Store) snapshot() snapshot {
	return snapshot{
		products:       maps.Clone(s.products),
		sales:          maps.Clone(s.sales),
		saleByInvoice:  maps.Clone(s.saleByInvoice),
		saleItems:      len(s.saleItems),
		movements:      len(s.movements),
		nextProductID:  s.nextProductID,
		nextSaleID:     s.nextSaleID,
		nextItemID:     s.nextItemID,
		nextMovementID: s.nextMovementID,
	}
}

func (s *Store) restore(snap snapshot) {
	s.products = snap.products
	s.sales = snap.sales
	s.saleByInvoice = snap.saleByInvoice
	s.saleItems = s.saleItems[:snap.saleItems]
	s.movements = s.movements[:snap.movements]
	s.nextProductID = snap.nextProductID
	s.nextSaleID = snap.nextSaleID
	s.nextItemID = snap.nextItemID
	s.nextMovementID = snap.nextMovementID
}

// memTx runs with the store mutex already held by WithinTx.
type memTx struct {
	s *Store
}

func (t *memTx) InsertProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	return t.s.insertProduct(product)
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if strings.TrimSpace(sale.InvoiceNumber) == "" {
		return nil, fmt.Errorf("%w: invoice number required", store.ErrInvalidInput)
	}
	if _, exists := t.s.saleByInvoice[sale.InvoiceNumber]; exists {
		return nil, fmt.Errorf("%w: invoice %s already exists", store.ErrConflict, sale.InvoiceNumber)
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	t.s.nextSaleID++
	sale.ID = t.s.nextSaleID
	t.s.sales[sale.ID] = sale
	t.s.saleByInvoice[sale.InvoiceNumber] = sale.ID

	saved := sale
	return &saved, nil
}

func (t *memTx) InsertSaleItem(_ context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	if _, ok := t.s.sales[item.SaleID]; !ok {
		return nil, fmt.Errorf("%w: sale %d", store.ErrNotFound, item.SaleID)
	}
	t.s.nextItemID++
	item.ID = t.s.nextItemID
	t.s.saleItems = append(t.s.saleItems, item)

	saved := item
	return &saved, nil
}

func (t *memTx) DecrementStock(_ context.Context, productID int64, qty decimal.Decimal, at time.Time) (decimal.Decimal, decimal.Decimal, error) {
	product, ok := t.s.products[productID]
	if !ok {
		return decimal.Zero, decimal.Zero, store.ErrNotFound
	}
	if !product.AllowNegativeStock && product.StockQuantity.LessThan(qty) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: product %d has %s, needs %s", store.ErrInsufficientStock, productID, product.StockQuantity, qty)
	}
	previous := product.StockQuantity
	product.StockQuantity = previous.Sub(qty)
	product.UpdatedAt = at
	t.s.products[productID] = product
	return previous, product.StockQuantity, nil
}

func (t *memTx) LockProduct(_ context.Context, productID int64) (*domain.Product, error) {
	product, ok := t.s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (t *memTx) SetStockQuantity(_ context.Context, productID int64, qty decimal.Decimal, at time.Time) error {
	product, ok := t.s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	product.StockQuantity = qty
	product.UpdatedAt = at
	t.s.products[productID] = product
	return nil
}

func (t *memTx) InsertStockMovement(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if _, ok := t.s.products[movement.ProductID]; !ok {
		return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, movement.ProductID)
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	t.s.nextMovementID++
	movement.ID = t.s.nextMovementID
	t.s.movements = append(t.s.movements, movement)

	saved := movement
	return &saved, nil
}
