package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"caixapos/backend/internal/domain"
	"caixapos/backend/internal/migrations"
	"caixapos/backend/internal/store"
	"caixapos/backend/internal/xid"
)

const (
	productColumns  = `id, barcode, sku, name, cost_price, sale_price, stock_quantity, min_stock, unit, tax_rate, is_active, track_stock, allow_negative_stock, created_at, updated_at`
	saleColumns     = `id, invoice_number, customer_id, user_id, subtotal, tax_amount, discount_amount, total, payment_method, cash_received, change_given, status, notes, created_at, completed_at`
	saleItemColumns = `id, sale_id, product_id, product_name, barcode, quantity, unit_price, discount_percent, discount_amount, tax_rate, tax_amount, subtotal, total, cost_price`
	movementColumns = `id, product_id, type, quantity, previous_quantity, new_quantity, reference_type, reference_id, cost_price, notes, user_id, created_at`
)

// Store keeps everything in a single SQLite file. One connection serialises
// all writers, which is what makes the read-then-write stock step safe.
type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := migrations.Apply(ctx, db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for fixtures that need raw SQL.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 64)
	err := s.db.SelectContext(ctx, &products, `SELECT `+productColumns+` FROM products WHERE is_active = 1 ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	for i := range products {
		normalizeProduct(&products[i])
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	return insertProduct(ctx, s.db, product)
}

// insertProduct runs against the pool or an open transaction.
func insertProduct(ctx context.Context, db sqlx.ExecerContext, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = product.CreatedAt
	}
	product.CreatedAt = product.CreatedAt.UTC()
	product.UpdatedAt = product.UpdatedAt.UTC()

	res, err := db.ExecContext(ctx, `
		INSERT INTO products (
			barcode, sku, name, cost_price, sale_price, stock_quantity, min_stock, unit, tax_rate,
			is_active, track_stock, allow_negative_stock, created_at, updated_at
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, product.Barcode, product.SKU, product.Name, product.CostPrice, product.SalePrice, product.StockQuantity, product.MinStock,
		product.Unit, product.TaxRate, product.IsActive, product.TrackStock, product.AllowNegativeStock, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode or sku already registered", store.ErrConflict)
		}
		return nil, err
	}
	product.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeProduct(&product)
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(ids))
	if err := s.db.SelectContext(ctx, &products, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, p := range products {
		normalizeProduct(&p)
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) InvoiceNumberExists(ctx context.Context, invoiceNumber string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM sales WHERE invoice_number = ?)`, invoiceNumber)
	return exists, err
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.GetContext(ctx, &sale, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeSale(&sale)
	return &sale, nil
}

func (s *Store) ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error) {
	items := make([]domain.SaleItem, 0, 8)
	err := s.db.SelectContext(ctx, &items, `SELECT `+saleItemColumns+` FROM sale_items WHERE sale_id = ? ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.StartDate != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.EndDate.UTC())
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM sales`+clause, args...); err != nil {
		return nil, 0, err
	}

	_, limit, offset := domain.NormalizePage(filter.Page, filter.Limit)
	sales := make([]domain.Sale, 0, limit)
	err := s.db.SelectContext(ctx, &sales,
		`SELECT `+saleColumns+` FROM sales`+clause+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	for i := range sales {
		normalizeSale(&sales[i])
	}
	return sales, total, nil
}

func (s *Store) UpdateSaleStatus(ctx context.Context, id int64, status domain.SaleStatus, notes string) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sales SET status = ?, notes = ? WHERE id = ?`, status, notes, id)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetSaleByID(ctx, id)
}

func (s *Store) GetSalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.DailySummary, error) {
	var rows []domain.Sale
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE status = ? AND created_at >= ? AND created_at < ?
	`, domain.SaleStatusCompleted, from.UTC(), to.UTC())
	if err != nil {
		return domain.DailySummary{}, err
	}

	summary := domain.DailySummary{
		Subtotal:       decimal.Zero,
		DiscountAmount: decimal.Zero,
		TaxAmount:      decimal.Zero,
		TotalRevenue:   decimal.Zero,
		ByPayment:      []domain.PaymentSummary{},
	}
	byPayment := map[domain.PaymentMethod]*domain.PaymentSummary{}
	for _, sale := range rows {
		summary.Transactions++
		summary.Subtotal = summary.Subtotal.Add(sale.Subtotal)
		summary.DiscountAmount = summary.DiscountAmount.Add(sale.DiscountAmount)
		summary.TaxAmount = summary.TaxAmount.Add(sale.TaxAmount)
		summary.TotalRevenue = summary.TotalRevenue.Add(sale.Total)

		entry, ok := byPayment[sale.PaymentMethod]
		if !ok {
			entry = &domain.PaymentSummary{PaymentMethod: sale.PaymentMethod, Total: decimal.Zero}
			byPayment[sale.PaymentMethod] = entry
		}
		entry.Transactions++
		entry.Total = entry.Total.Add(sale.Total)
	}
	for _, entry := range byPayment {
		summary.ByPayment = append(summary.ByPayment, *entry)
	}
	sort.Slice(summary.ByPayment, func(i, j int) bool {
		return summary.ByPayment[i].PaymentMethod < summary.ByPayment[j].PaymentMethod
	})
	return summary, nil
}

func (s *Store) ListStockMovements(ctx context.Context, filter domain.StockMovementFilter) ([]domain.StockMovement, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if filter.ProductID != nil {
		where = append(where, "product_id = ?")
		args = append(args, *filter.ProductID)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM stock_movements`+clause, args...); err != nil {
		return nil, 0, err
	}

	_, limit, offset := domain.NormalizePage(filter.Page, filter.Limit)
	movements := make([]domain.StockMovement, 0, limit)
	err := s.db.SelectContext(ctx, &movements,
		`SELECT `+movementColumns+` FROM stock_movements`+clause+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	for i := range movements {
		movements[i].CreatedAt = movements[i].CreatedAt.UTC()
	}
	return movements, total, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt.UTC())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	logs := make([]domain.AuditLog, 0, limit)
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	for i := range logs {
		logs[i].CreatedAt = logs[i].CreatedAt.UTC()
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.Active = true

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
	`, user.Username, user.Password, user.Role, true, user.CreatedAt, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username %s", store.ErrConflict, user.Username)
		}
		return nil, err
	}
	user.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	err := s.db.SelectContext(ctx, &users, `SELECT id, username, password, role, active, created_at FROM app_users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].CreatedAt = users[i].CreatedAt.UTC()
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `UPDATE app_users SET password = ?, updated_at = ? WHERE username = ?`, password, time.Now().UTC(), username)
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

func normalizeProduct(p *domain.Product) {
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
}

func normalizeSale(s *domain.Sale) {
	s.CreatedAt = s.CreatedAt.UTC()
	if s.CompletedAt != nil {
		completed := s.CompletedAt.UTC()
		s.CompletedAt = &completed
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}
