package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"caixapos/backend/internal/cache"
	"caixapos/backend/internal/domain"
	"caixapos/backend/internal/events"
	"caixapos/backend/internal/metrics"
	"caixapos/backend/internal/store"
	"caixapos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const defaultHoldTTL = 4 * time.Hour

var ErrForbidden = errors.New("admin role required")

type Options struct {
	// DefaultTaxRate applies to lines without their own rate. nil means 17%.
	DefaultTaxRate *decimal.Decimal
	HoldTTL        time.Duration
	StoreName      string
	Publisher      events.Publisher
	Metrics        *metrics.Metrics
	// InvoiceSuffix overrides the random four digit invoice suffix source.
	InvoiceSuffix func() int
	Now           func() time.Time
}

type Service struct {
	repo      store.Repository
	holds     cache.HeldSaleStore
	invoices  *InvoiceGenerator
	publisher events.Publisher
	metrics   *metrics.Metrics
	taxRate   decimal.Decimal
	holdTTL   time.Duration
	storeName string
	now       func() time.Time
}

func New(repo store.Repository, holds cache.HeldSaleStore, opts Options) *Service {
	if holds == nil {
		holds = cache.NewMemoryHeldSaleStore()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = defaultHoldTTL
	}
	taxRate := DefaultTaxRate
	if opts.DefaultTaxRate != nil {
		taxRate = *opts.DefaultTaxRate
	}
	if strings.TrimSpace(opts.StoreName) == "" {
		opts.StoreName = "caixapos"
	}

	invoices := NewInvoiceGenerator(repo, opts.InvoiceSuffix, opts.Now)
	invoices.onCollision = func(string) {
		opts.Metrics.InvoiceCollision()
	}

	return &Service{
		repo:      repo,
		holds:     holds,
		invoices:  invoices,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		taxRate:   taxRate,
		holdTTL:   opts.HoldTTL,
		storeName: opts.StoreName,
		now:       opts.Now,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

// CreateProduct registers a product and books its opening stock as an "in"
// movement so the ledger reconciles from the first unit.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, ErrForbidden
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.SalePrice.IsNegative() || req.CostPrice.IsNegative() || req.InitialStock.IsNegative() {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.Unit == "" {
		req.Unit = "un"
	}
	trackStock := true
	if req.TrackStock != nil {
		trackStock = *req.TrackStock
	}

	now := s.now().UTC()
	var created *domain.Product
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.InsertProduct(ctx, domain.Product{
			Barcode:            req.Barcode,
			SKU:                req.SKU,
			Name:               req.Name,
			CostPrice:          req.CostPrice,
			SalePrice:          req.SalePrice,
			StockQuantity:      req.InitialStock,
			MinStock:           req.MinStock,
			Unit:               req.Unit,
			TaxRate:            req.TaxRate,
			IsActive:           true,
			TrackStock:         trackStock,
			AllowNegativeStock: req.AllowNegativeStock,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
		if err != nil || !req.InitialStock.IsPositive() {
			return err
		}

		// Opening stock is booked as an "in" movement from zero.
		cost := req.CostPrice
		var userID *int64
		if actor.ID > 0 {
			userID = &actor.ID
		}
		_, err = tx.InsertStockMovement(ctx, domain.StockMovement{
			ProductID:        created.ID,
			Type:             domain.MovementIn,
			Quantity:         req.InitialStock,
			PreviousQuantity: decimal.Zero,
			NewQuantity:      req.InitialStock,
			CostPrice:        &cost,
			Notes:            "opening stock",
			UserID:           userID,
			CreatedAt:        now,
		})
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}
	if req.InitialStock.IsPositive() {
		s.metrics.StockMovement(string(domain.MovementIn))
	}

	s.logAudit(ctx, "product_create", "product", fmt.Sprint(created.ID), fmt.Sprintf("name=%s,price=%s,stock=%s", created.Name, created.SalePrice, req.InitialStock))
	return *created, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	from, to, err := dayRange(date, s.now())
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	event.EventID = xid.New("evt")
	event.CreatedAt = s.now().UTC()

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := s.publisher.Publish(publishCtx, event); err != nil {
		log.Printf("[service] WARN: failed to publish %s sale=%d: %v", event.Type, event.SaleID, err)
	}
}

// dayRange resolves a YYYY-MM-DD date (empty means today) into a UTC [from, to) window.
func dayRange(date string, now time.Time) (time.Time, time.Time, error) {
	day := now.UTC()
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.Add(24 * time.Hour), nil
}
