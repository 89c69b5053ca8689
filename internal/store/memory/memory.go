package memory

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"caixapos/backend/internal/domain"
	"caixapos/backend/internal/store"
	"caixapos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[int64]domain.Product
	sales           map[int64]domain.Sale
	saleByInvoice   map[string]int64
	saleItems       []domain.SaleItem
	movements       []domain.StockMovement
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount

	nextProductID  int64
	nextSaleID     int64
	nextItemID     int64
	nextMovementID int64
	nextUserID     int64
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		id       int64
		username string
		password string
		role     string
	}{
		{1, "admin", adminPwd, "admin"},
		{2, "cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        u.id,
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store with no users and no catalogue.
func New() *Store {
	return &Store{
		products:        make(map[int64]domain.Product),
		sales:           make(map[int64]domain.Sale),
		saleByInvoice:   make(map[string]int64),
		saleItems:       make([]domain.SaleItem, 0, 64),
		movements:       make([]domain.StockMovement, 0, 64),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with the demo users and a small catalogue.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	s.nextUserID = int64(len(s.usersByUsername))

	now := time.Now().UTC()
	catalogue := []struct {
		barcode string
		name    string
		cost    string
		price   string
		stock   int64
		unit    string
	}{
		{"5601234000011", "Arroz 1kg", "55", "75", 120, "un"},
		{"5601234000028", "Acucar 1kg", "60", "85", 80, "un"},
		{"5601234000035", "Oleo Alimentar 1L", "110", "150", 60, "un"},
		{"5601234000042", "Farinha de Milho 5kg", "240", "320", 40, "un"},
		{"5601234000059", "Agua Mineral 1.5L", "25", "40", 200, "un"},
		{"5601234000066", "Sabao em Barra", "30", "45", 90, "un"},
		{"5601234000073", "Feijao Manteiga 1kg", "95", "130", 50, "kg"},
		{"5601234000080", "Pao de Forma", "45", "65", 30, "un"},
	}
	for _, c := range catalogue {
		barcode := c.barcode
		s.nextProductID++
		s.products[s.nextProductID] = domain.Product{
			ID:            s.nextProductID,
			Barcode:       &barcode,
			Name:          c.name,
			CostPrice:     decimal.RequireFromString(c.cost),
			SalePrice:     decimal.RequireFromString(c.price),
			StockQuantity: decimal.NewFromInt(c.stock),
			MinStock:      decimal.NewFromInt(5),
			Unit:          c.unit,
			IsActive:      true,
			TrackStock:    true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.IsActive {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return cmp.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertProduct(product)
}

// insertProduct expects s.mu to be held.
func (s *Store) insertProduct(product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.products {
		if product.Barcode != nil && existing.Barcode != nil && *existing.Barcode == *product.Barcode {
			return nil, fmt.Errorf("%w: barcode %s already registered", store.ErrConflict, *product.Barcode)
		}
		if product.SKU != nil && existing.SKU != nil && *existing.SKU == *product.SKU {
			return nil, fmt.Errorf("%w: sku %s already registered", store.ErrConflict, *product.SKU)
		}
	}

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = product.CreatedAt
	}
	s.nextProductID++
	product.ID = s.nextProductID
	s.products[product.ID] = product

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) InvoiceNumberExists(_ context.Context, invoiceNumber string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.saleByInvoice[invoiceNumber]
	return ok, nil
}

// WithinTx runs fn with the store locked. Any error restores the state
// captured before fn started.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) GetSaleByID(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) ListSaleItems(_ context.Context, saleID int64) ([]domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.SaleItem, 0, 8)
	for _, item := range s.saleItems {
		if item.SaleID == saleID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if filter.StartDate != nil && sale.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && sale.CreatedAt.After(*filter.EndDate) {
			continue
		}
		matched = append(matched, sale)
	}
	slices.SortFunc(matched, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	_, limit, offset := domain.NormalizePage(filter.Page, filter.Limit)
	return paginate(matched, offset, limit), len(matched), nil
}

func (s *Store) UpdateSaleStatus(_ context.Context, id int64, status domain.SaleStatus, notes string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.Status = status
	sale.Notes = notes
	s.sales[id] = sale
	return &sale, nil
}

func (s *Store) GetSalesSummary(_ context.Context, from time.Time, to time.Time) (domain.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.DailySummary{
		Subtotal:       decimal.Zero,
		DiscountAmount: decimal.Zero,
		TaxAmount:      decimal.Zero,
		TotalRevenue:   decimal.Zero,
		ByPayment:      []domain.PaymentSummary{},
	}
	byPayment := map[domain.PaymentMethod]*domain.PaymentSummary{}
	for _, sale := range s.sales {
		if sale.Status != domain.SaleStatusCompleted {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
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
	slices.SortFunc(summary.ByPayment, func(a, b domain.PaymentSummary) int {
		return strings.Compare(string(a.PaymentMethod), string(b.PaymentMethod))
	})
	return summary, nil
}

func (s *Store) ListStockMovements(_ context.Context, filter domain.StockMovementFilter) ([]domain.StockMovement, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.StockMovement, 0, 32)
	for _, m := range s.movements {
		if filter.ProductID != nil && m.ProductID != *filter.ProductID {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		matched = append(matched, m)
	}
	slices.SortFunc(matched, func(a, b domain.StockMovement) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	_, limit, offset := domain.NormalizePage(filter.Page, filter.Limit)
	return paginate(matched, offset, limit), len(matched), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return nil, fmt.Errorf("%w: username %s", store.ErrConflict, username)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.nextUserID++
	user.ID = s.nextUserID
	s.usersByUsername[user.Username] = user

	created := user
	return &created, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func paginate[T any](rows []T, offset int, limit int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}
