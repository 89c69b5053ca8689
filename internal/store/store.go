package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"caixapos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
)

// Tx is the set of writes that must land together. Implementations roll every
// one of them back when the function passed to WithinTx returns an error.
type Tx interface {
	InsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	InsertSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error)
	// DecrementStock subtracts qty in a single guarded statement. It returns
	// ErrNotFound when the product does not exist and ErrInsufficientStock when
	// the product forbids negative stock and holds less than qty. Products are
	// created with allow_negative_stock=false, so by default an oversell
	// aborts the whole sale (409 at the HTTP layer).
	DecrementStock(ctx context.Context, productID int64, qty decimal.Decimal, at time.Time) (previous decimal.Decimal, next decimal.Decimal, err error)
	// LockProduct reads a product and holds it until the transaction ends.
	LockProduct(ctx context.Context, productID int64) (*domain.Product, error)
	SetStockQuantity(ctx context.Context, productID int64, qty decimal.Decimal, at time.Time) error
	InsertStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error)
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)

	InvoiceNumberExists(ctx context.Context, invoiceNumber string) (bool, error)
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error)
	ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error)
	UpdateSaleStatus(ctx context.Context, id int64, status domain.SaleStatus, notes string) (*domain.Sale, error)
	GetSalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.DailySummary, error)

	ListStockMovements(ctx context.Context, filter domain.StockMovementFilter) ([]domain.StockMovement, int, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
