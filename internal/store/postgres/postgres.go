package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

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

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := migrations.Apply(ctx, db, migrations.Postgres); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Barcode, &p.SKU, &p.Name, &p.CostPrice, &p.SalePrice, &p.StockQuantity, &p.MinStock,
		&p.Unit, &p.TaxRate, &p.IsActive, &p.TrackStock, &p.AllowNegativeStock, &p.CreatedAt, &p.UpdatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(&sale.ID, &sale.InvoiceNumber, &sale.CustomerID, &sale.UserID, &sale.Subtotal, &sale.TaxAmount,
		&sale.DiscountAmount, &sale.Total, &sale.PaymentMethod, &sale.CashReceived, &sale.ChangeGiven, &sale.Status,
		&sale.Notes, &sale.CreatedAt, &sale.CompletedAt)
	sale.CreatedAt = sale.CreatedAt.UTC()
	if sale.CompletedAt != nil {
		completed := sale.CompletedAt.UTC()
		sale.CompletedAt = &completed
	}
	return sale, err
}

func scanMovement(row rowScanner) (domain.StockMovement, error) {
	var m domain.StockMovement
	err := row.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.PreviousQuantity, &m.NewQuantity, &m.ReferenceType,
		&m.ReferenceID, &m.CostPrice, &m.Notes, &m.UserID, &m.CreatedAt)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE is_active = true
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	return insertProduct(ctx, s.db, product)
}

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertProduct(ctx context.Context, db queryRower, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = product.CreatedAt
	}

	err := db.QueryRowContext(ctx, `
		INSERT INTO products (
			barcode, sku, name, cost_price, sale_price, stock_quantity, min_stock, unit, tax_rate,
			is_active, track_stock, allow_negative_stock, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id
	`, product.Barcode, product.SKU, product.Name, product.CostPrice, product.SalePrice, product.StockQuantity, product.MinStock,
		product.Unit, product.TaxRate, product.IsActive, product.TrackStock, product.AllowNegativeStock, product.CreatedAt, product.UpdatedAt,
	).Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode or sku already registered", store.ErrConflict)
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) InvoiceNumberExists(ctx context.Context, invoiceNumber string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sales WHERE invoice_number = $1)`, invoiceNumber).Scan(&exists)
	return exists, err
}

// WithinTx runs fn under READ COMMITTED. Stock races are settled by the
// guarded UPDATE in DecrementStock, not by the isolation level.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(&txStore{tx: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+saleItemColumns+` FROM sale_items WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Barcode, &item.Quantity,
			&item.UnitPrice, &item.DiscountPercent, &item.DiscountAmount, &item.TaxRate, &item.TaxAmount, &item.Subtotal,
			&item.Total, &item.CostPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	_, limit, offset := domain.NormalizePage(filter.Page, filter.Limit)
	query := fmt.Sprintf(`SELECT %s FROM sales%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		saleColumns, clause, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return sales, total, nil
}

func (s *Store) UpdateSaleStatus(ctx context.Context, id int64, status domain.SaleStatus, notes string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		UPDATE sales
		SET status = $2, notes = $3
		WHERE id = $1
		RETURNING `+saleColumns, id, status, notes))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, COUNT(*), SUM(subtotal), SUM(discount_amount), SUM(tax_amount), SUM(total)
		FROM sales
		WHERE status = $1
			AND created_at >= $2
			AND created_at < $3
		GROUP BY payment_method
		ORDER BY payment_method
	`, domain.SaleStatusCompleted, from, to)
	if err != nil {
		return domain.DailySummary{}, err
	}
	defer rows.Close()

	summary := domain.DailySummary{
		Subtotal:       decimal.Zero,
		DiscountAmount: decimal.Zero,
		TaxAmount:      decimal.Zero,
		TotalRevenue:   decimal.Zero,
		ByPayment:      []domain.PaymentSummary{},
	}
	for rows.Next() {
		var entry domain.PaymentSummary
		var subtotal, discount, tax decimal.Decimal
		if err := rows.Scan(&entry.PaymentMethod, &entry.Transactions, &subtotal, &discount, &tax, &entry.Total); err != nil {
			return domain.DailySummary{}, err
		}
		summary.Transactions += entry.Transactions
		summary.Subtotal = summary.Subtotal.Add(subtotal)
		summary.DiscountAmount = summary.DiscountAmount.Add(discount)
		summary.TaxAmount = summary.TaxAmount.Add(tax)
		summary.TotalRevenue = summary.TotalRevenue.Add(entry.Total)
		summary.ByPayment = append(summary.ByPayment, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.DailySummary{}, err
	}
	return summary, nil
}

func (s *Store) ListStockMovements(ctx context.Context, filter domain.StockMovementFilter) ([]domain.StockMovement, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if filter.ProductID != nil {
		args = append(args, *filter.ProductID)
		where = append(where, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_movements`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	_, limit, offset := domain.NormalizePage(filter.Page, filter.Limit)
	query := fmt.Sprintf(`SELECT %s FROM stock_movements%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		movementColumns, clause, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
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
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
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
	user.Active = true

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
		RETURNING id
	`, user.Username, user.Password, user.Role, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username %s", store.ErrConflict, user.Username)
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
