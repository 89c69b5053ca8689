package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"caixapos/backend/internal/domain"
	"caixapos/backend/internal/events"
	"caixapos/backend/internal/metrics"
	"caixapos/backend/internal/store"
	"caixapos/backend/internal/store/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

// failingRepo fails the nth stock movement written inside a transaction.
type failingRepo struct {
	*memory.Store
	failOnMovement int
}

func (r *failingRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.Store.WithinTx(ctx, func(tx store.Tx) error {
		return fn(&failingTx{Tx: tx, failOn: r.failOnMovement})
	})
}

type failingTx struct {
	store.Tx
	failOn int
	calls  int
}

var errMovementRejected = errors.New("movement rejected")

func (t *failingTx) InsertStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	t.calls++
	if t.calls == t.failOn {
		return nil, errMovementRejected
	}
	return t.Tx.InsertStockMovement(ctx, movement)
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func addProduct(t *testing.T, repo store.Repository, name string, stock int64, trackStock bool) domain.Product {
	t.Helper()
	barcode := "BC-" + name
	created, err := repo.CreateProduct(context.Background(), domain.Product{
		Barcode:       &barcode,
		Name:          name,
		CostPrice:     dec("30"),
		SalePrice:     dec("50"),
		StockQuantity: decimal.NewFromInt(stock),
		Unit:          "un",
		IsActive:      true,
		TrackStock:    trackStock,
	})
	if err != nil {
		t.Fatalf("create product %s: %v", name, err)
	}
	return *created
}

func saleLine(productID int64, qty string, price string) domain.SaleLine {
	id := productID
	return domain.SaleLine{ProductID: &id, Quantity: dec(qty), UnitPrice: dec(price)}
}

func TestCommitSaleWorkedExample(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{})
	barcode := "123"
	created, err := repo.CreateProduct(context.Background(), domain.Product{
		Barcode:       &barcode,
		Name:          "Arroz",
		CostPrice:     dec("30"),
		SalePrice:     dec("50"),
		StockQuantity: dec("10"),
		IsActive:      true,
		TrackStock:    true,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	cash := dec("150")
	result, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
		Items:         []domain.SaleLine{saleLine(created.ID, "2", "50")},
		PaymentMethod: domain.PaymentCash,
		CashReceived:  &cash,
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}

	sale := result.Sale
	if !sale.Subtotal.Equal(dec("100")) || !sale.TaxAmount.Equal(dec("17")) || !sale.Total.Equal(dec("117")) {
		t.Fatalf("expected 100 + 17 = 117, got %s + %s = %s", sale.Subtotal, sale.TaxAmount, sale.Total)
	}
	if sale.ChangeGiven == nil || !sale.ChangeGiven.Equal(dec("33")) {
		t.Fatalf("expected change 33, got %v", sale.ChangeGiven)
	}
	if sale.Status != domain.SaleStatusCompleted || sale.CompletedAt == nil {
		t.Fatalf("expected completed sale, got %s", sale.Status)
	}
	if !invoicePattern.MatchString(sale.InvoiceNumber) {
		t.Fatalf("unexpected invoice number %s", sale.InvoiceNumber)
	}

	detail, err := svc.GetSale(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if len(detail.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(detail.Items))
	}
	item := detail.Items[0]
	if item.ProductName != "Arroz" || item.Barcode == nil || *item.Barcode != "123" || !item.CostPrice.Equal(dec("30")) {
		t.Fatalf("unexpected item snapshot %+v", item)
	}

	product, _ := repo.GetProductByID(context.Background(), created.ID)
	if !product.StockQuantity.Equal(dec("8")) {
		t.Fatalf("expected stock 8, got %s", product.StockQuantity)
	}

	movements, err := svc.ListStockMovements(context.Background(), domain.StockMovementFilter{ProductID: &created.ID})
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	if movements.Pagination.Total != 1 {
		t.Fatalf("expected one movement, got %d", movements.Pagination.Total)
	}
	m := movements.Data[0]
	if m.Type != domain.MovementOut || !m.PreviousQuantity.Equal(dec("10")) || !m.NewQuantity.Equal(dec("8")) {
		t.Fatalf("unexpected movement %+v", m)
	}
	if *m.ReferenceType != domain.ReferenceSale || *m.ReferenceID != sale.ID {
		t.Fatalf("expected movement to reference sale %d", sale.ID)
	}
	if len(result.LineOutcomes) != 1 || result.LineOutcomes[0].Outcome != domain.LineAdjusted {
		t.Fatalf("expected adjusted outcome, got %+v", result.LineOutcomes)
	}
}

func TestCommitSaleCashBelowTotalGivesNoChange(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{})
	product := addProduct(t, repo, "Arroz", 10, true)

	cash := dec("100")
	result, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
		Items:         []domain.SaleLine{saleLine(product.ID, "2", "50")},
		PaymentMethod: domain.PaymentCash,
		CashReceived:  &cash,
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}
	if !result.Sale.ChangeGiven.Equal(decimal.Zero) || !result.Sale.CashReceived.Equal(dec("100")) {
		t.Fatalf("expected cash 100 and change 0, got %v / %v", result.Sale.CashReceived, result.Sale.ChangeGiven)
	}

	card, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
		Items:         []domain.SaleLine{saleLine(product.ID, "1", "50")},
		PaymentMethod: domain.PaymentCard,
		CashReceived:  &cash,
	})
	if err != nil {
		t.Fatalf("commit card sale failed: %v", err)
	}
	if card.Sale.CashReceived != nil || card.Sale.ChangeGiven != nil {
		t.Fatalf("expected no cash fields on card sale")
	}
}

func TestCommitSaleHonoursZeroDefaultTaxRate(t *testing.T) {
	repo := memory.New()
	zero := decimal.Zero
	svc := New(repo, nil, Options{DefaultTaxRate: &zero})
	product := addProduct(t, repo, "Arroz", 10, true)

	result, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
		Items:         []domain.SaleLine{saleLine(product.ID, "2", "50")},
		PaymentMethod: domain.PaymentCard,
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}
	if !result.Sale.TaxAmount.IsZero() || !result.Sale.Total.Equal(dec("100")) {
		t.Fatalf("expected untaxed total 100, got tax %s total %s", result.Sale.TaxAmount, result.Sale.Total)
	}
}

func TestCommitSaleTotalsMatchLineItems(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{})
	a := addProduct(t, repo, "A", 50, true)
	b := addProduct(t, repo, "B", 50, true)

	lineB := saleLine(b.ID, "3", "12.75")
	lineB.DiscountPercent = dec("15")
	result, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
		Items:          []domain.SaleLine{saleLine(a.ID, "1.5", "19.99"), lineB},
		PaymentMethod:  domain.PaymentMpesa,
		DiscountAmount: dec("5"),
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}

	detail, _ := svc.GetSale(context.Background(), result.Sale.ID)
	sum := decimal.Zero
	for _, item := range detail.Items {
		sum = sum.Add(item.Total)
	}
	if !result.Sale.Total.Equal(sum.Sub(dec("5"))) {
		t.Fatalf("expected total %s, got %s", sum.Sub(dec("5")), result.Sale.Total)
	}
}

func TestCommitSaleSkipsUnknownAndUntrackedProducts(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{})
	untracked := addProduct(t, repo, "Servico", 0, false)

	result, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
		Items: []domain.SaleLine{
			saleLine(999, "1", "10"),
			saleLine(untracked.ID, "1", "20"),
			{Quantity: dec("1"), UnitPrice: dec("5")},
		},
		PaymentMethod: domain.PaymentEmola,
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}
	if len(result.LineOutcomes) != 2 {
		t.Fatalf("expected outcomes for the two referenced lines, got %+v", result.LineOutcomes)
	}
	if result.LineOutcomes[0].Outcome != domain.LineSkippedUnknownProduct {
		t.Fatalf("expected first line skipped as unknown, got %s", result.LineOutcomes[0].Outcome)
	}
	if result.LineOutcomes[1].Outcome != domain.LineSkippedUntracked {
		t.Fatalf("expected second line skipped as untracked, got %s", result.LineOutcomes[1].Outcome)
	}

	detail, _ := svc.GetSale(context.Background(), result.Sale.ID)
	if len(detail.Items) != 3 || detail.Items[0].ProductName != domain.UnknownProductName {
		t.Fatalf("expected all three lines stored, got %+v", detail.Items)
	}
	movements, _ := svc.ListStockMovements(context.Background(), domain.StockMovementFilter{})
	if movements.Pagination.Total != 0 {
		t.Fatalf("expected no movements, got %d", movements.Pagination.Total)
	}
}

func TestCommitSaleIsAtomic(t *testing.T) {
	base := memory.New()
	repo := &failingRepo{Store: base, failOnMovement: 3}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := New(repo, nil, Options{Metrics: m})

	products := []domain.Product{
		addProduct(t, base, "A", 10, true),
		addProduct(t, base, "B", 10, true),
		addProduct(t, base, "C", 10, true),
	}

	_, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
		Items: []domain.SaleLine{
			saleLine(products[0].ID, "1", "10"),
			saleLine(products[1].ID, "2", "10"),
			saleLine(products[2].ID, "3", "10"),
		},
		PaymentMethod: domain.PaymentCard,
		InvoiceNumber: "INV-ATOMIC",
	})
	if !errors.Is(err, errMovementRejected) {
		t.Fatalf("expected movement error, got %v", err)
	}

	if exists, _ := base.InvoiceNumberExists(context.Background(), "INV-ATOMIC"); exists {
		t.Fatalf("expected sale header to be rolled back")
	}
	for _, p := range products {
		reloaded, _ := base.GetProductByID(context.Background(), p.ID)
		if !reloaded.StockQuantity.Equal(dec("10")) {
			t.Fatalf("expected stock of %s to stay 10, got %s", p.Name, reloaded.StockQuantity)
		}
	}
	movements, _, _ := base.ListStockMovements(context.Background(), domain.StockMovementFilter{})
	if len(movements) != 0 {
		t.Fatalf("expected no movements, got %d", len(movements))
	}
	if got := testutil.ToFloat64(m.SalesAborted); got != 1 {
		t.Fatalf("expected one aborted sale, got %v", got)
	}
}

func TestCommitSaleInsufficientStock(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{})
	product := addProduct(t, repo, "Pao", 1, true)

	_, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
		Items:         []domain.SaleLine{saleLine(product.ID, "2", "65")},
		PaymentMethod: domain.PaymentCash,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	listed, _ := svc.ListSales(context.Background(), domain.SaleFilter{})
	if listed.Pagination.Total != 0 {
		t.Fatalf("expected no sales, got %d", listed.Pagination.Total)
	}
}

func TestCommitSaleStockConservation(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{})
	product := addProduct(t, repo, "Agua", 100, true)

	for _, qty := range []string{"1", "2.5", "7", "0.5"} {
		if _, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
			Items:         []domain.SaleLine{saleLine(product.ID, qty, "40")},
			PaymentMethod: domain.PaymentCard,
		}); err != nil {
			t.Fatalf("commit sale failed: %v", err)
		}
	}

	reloaded, _ := repo.GetProductByID(context.Background(), product.ID)
	if !reloaded.StockQuantity.Equal(dec("89")) {
		t.Fatalf("expected stock 89, got %s", reloaded.StockQuantity)
	}
	movements, _ := svc.ListStockMovements(context.Background(), domain.StockMovementFilter{ProductID: &product.ID})
	sold := decimal.Zero
	for _, m := range movements.Data {
		sold = sold.Add(m.Quantity)
		if !m.PreviousQuantity.Sub(m.Quantity).Equal(m.NewQuantity) {
			t.Fatalf("movement does not reconcile: %+v", m)
		}
	}
	if !sold.Equal(dec("11")) {
		t.Fatalf("expected 11 units moved out, got %s", sold)
	}
}

func TestCommitSaleInvoiceNumbersAreUnique(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{})

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		result, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
			Items:         []domain.SaleLine{{Quantity: dec("1"), UnitPrice: dec("1")}},
			PaymentMethod: domain.PaymentCard,
		})
		if err != nil {
			t.Fatalf("commit %d failed: %v", i, err)
		}
		if _, dup := seen[result.Sale.InvoiceNumber]; dup {
			t.Fatalf("duplicate invoice %s", result.Sale.InvoiceNumber)
		}
		seen[result.Sale.InvoiceNumber] = struct{}{}
	}
}

func TestCommitSaleExplicitInvoiceConflict(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{})

	req := domain.CreateSaleRequest{
		Items:         []domain.SaleLine{{Quantity: dec("1"), UnitPrice: dec("10")}},
		PaymentMethod: domain.PaymentCard,
		InvoiceNumber: "INV-20261018-1234",
	}
	first, err := svc.CommitSale(context.Background(), req)
	if err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if first.Sale.InvoiceNumber != "INV-20261018-1234" {
		t.Fatalf("expected explicit invoice to be used verbatim, got %s", first.Sale.InvoiceNumber)
	}
	if _, err := svc.CommitSale(context.Background(), req); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCommitSaleCountsInvoiceCollisions(t *testing.T) {
	repo := memory.New()
	m := metrics.New(prometheus.NewRegistry())
	svc := New(repo, nil, Options{Metrics: m, InvoiceSuffix: func() int { return 5 }})

	req := domain.CreateSaleRequest{
		Items:         []domain.SaleLine{{Quantity: dec("1"), UnitPrice: dec("10")}},
		PaymentMethod: domain.PaymentCard,
	}
	if _, err := svc.CommitSale(context.Background(), req); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if _, err := svc.CommitSale(context.Background(), req); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected the unique constraint to reject the exhausted candidate, got %v", err)
	}
	if got := testutil.ToFloat64(m.InvoiceCollisions); got != 10 {
		t.Fatalf("expected 10 collisions, got %v", got)
	}
}

func TestCancelSaleKeepsStockAndPublishes(t *testing.T) {
	repo := memory.New()
	publisher := &recordingPublisher{}
	svc := New(repo, nil, Options{Publisher: publisher})
	product := addProduct(t, repo, "Oleo", 10, true)

	result, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
		Items:         []domain.SaleLine{saleLine(product.ID, "3", "150")},
		PaymentMethod: domain.PaymentCard,
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}

	cancelled, err := svc.CancelSale(adminContext(), result.Sale.ID, "  wrong customer  ")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.SaleStatusCancelled || cancelled.Notes != "wrong customer" {
		t.Fatalf("unexpected cancelled sale %+v", cancelled)
	}
	reloaded, _ := repo.GetProductByID(context.Background(), product.ID)
	if !reloaded.StockQuantity.Equal(dec("7")) {
		t.Fatalf("expected stock to stay 7, got %s", reloaded.StockQuantity)
	}

	if len(publisher.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(publisher.events))
	}
	if publisher.events[0].Type != events.SaleCompleted || publisher.events[1].Type != events.SaleCancelled {
		t.Fatalf("unexpected event order %s, %s", publisher.events[0].Type, publisher.events[1].Type)
	}
	if publisher.events[1].SaleID != result.Sale.ID {
		t.Fatalf("expected cancel event for sale %d", result.Sale.ID)
	}

	if _, err := svc.CancelSale(adminContext(), 4040, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	logs, err := svc.ListAuditLogs(adminContext(), "", 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) != 2 || logs[0].Action != "sale_cancel" || logs[0].ActorUsername != "admin" {
		t.Fatalf("unexpected audit trail %+v", logs)
	}
}

func TestPublishFailureDoesNotFailCommit(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{Publisher: &recordingPublisher{err: errors.New("broker down")}})

	if _, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
		Items:         []domain.SaleLine{{Quantity: dec("1"), UnitPrice: dec("10")}},
		PaymentMethod: domain.PaymentCard,
	}); err != nil {
		t.Fatalf("expected commit to succeed despite publisher error, got %v", err)
	}
}

func TestHoldRetrieveAndDiscard(t *testing.T) {
	svc := New(memory.New(), nil, Options{HoldTTL: time.Hour})

	payload := json.RawMessage(`{"items":[{"product_id":1,"quantity":"2"}]}`)
	held, err := svc.HoldSale(context.Background(), payload)
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if held.ExpiresAt.Sub(held.CreatedAt) != time.Hour {
		t.Fatalf("expected one hour ttl, got %s", held.ExpiresAt.Sub(held.CreatedAt))
	}

	for i := 0; i < 2; i++ {
		got, err := svc.RetrieveHold(context.Background(), held.ID)
		if err != nil {
			t.Fatalf("retrieve %d failed: %v", i, err)
		}
		if string(got.Payload) != string(payload) {
			t.Fatalf("expected payload to round trip, got %s", got.Payload)
		}
	}

	if err := svc.DiscardHold(context.Background(), held.ID); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	if _, err := svc.RetrieveHold(context.Background(), held.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after discard, got %v", err)
	}
	if _, err := svc.HoldSale(context.Background(), json.RawMessage(`{broken`)); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for broken payload, got %v", err)
	}
}

func TestRecordStockMovement(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{})
	product := addProduct(t, repo, "Farinha", 10, true)

	in, err := svc.RecordStockMovement(adminContext(), domain.StockMovementRequest{
		ProductID: product.ID,
		Type:      domain.MovementIn,
		Quantity:  dec("5"),
		Notes:     "delivery",
	})
	if err != nil {
		t.Fatalf("stock in failed: %v", err)
	}
	if !in.NewQuantity.Equal(dec("15")) || !in.CostPrice.Equal(dec("30")) {
		t.Fatalf("unexpected in movement %+v", in)
	}

	if _, err := svc.RecordStockMovement(adminContext(), domain.StockMovementRequest{
		ProductID: product.ID,
		Type:      domain.MovementDamage,
		Quantity:  dec("20"),
	}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	adjusted, err := svc.RecordStockMovement(adminContext(), domain.StockMovementRequest{
		ProductID: product.ID,
		Type:      domain.MovementAdjustment,
		Quantity:  dec("3"),
	})
	if err != nil {
		t.Fatalf("adjustment failed: %v", err)
	}
	if !adjusted.PreviousQuantity.Equal(dec("15")) || !adjusted.NewQuantity.Equal(dec("3")) {
		t.Fatalf("unexpected adjustment %+v", adjusted)
	}

	if _, err := svc.RecordStockMovement(adminContext(), domain.StockMovementRequest{
		ProductID: product.ID,
		Type:      "teleport",
		Quantity:  dec("1"),
	}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown type, got %v", err)
	}
	if _, err := svc.RecordStockMovement(adminContext(), domain.StockMovementRequest{
		ProductID: 999,
		Type:      domain.MovementIn,
		Quantity:  dec("1"),
	}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApplyMovement(t *testing.T) {
	cases := []struct {
		movementType domain.MovementType
		want         string
	}{
		{domain.MovementIn, "12"},
		{domain.MovementReturn, "12"},
		{domain.MovementOut, "8"},
		{domain.MovementDamage, "8"},
		{domain.MovementTransfer, "8"},
		{domain.MovementAdjustment, "2"},
	}
	for _, tc := range cases {
		got, err := ApplyMovement(tc.movementType, dec("10"), dec("2"))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.movementType, err)
		}
		if !got.Equal(dec(tc.want)) {
			t.Fatalf("%s: expected %s, got %s", tc.movementType, tc.want, got)
		}
	}
}

func TestCreateProductBooksOpeningStock(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{})

	created, err := svc.CreateProduct(adminContext(), domain.ProductCreateRequest{
		Name:         "Cafe 250g",
		CostPrice:    dec("120"),
		SalePrice:    dec("180"),
		InitialStock: dec("12"),
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if !created.StockQuantity.Equal(dec("12")) || !created.TrackStock || created.Unit != "un" {
		t.Fatalf("unexpected product %+v", created)
	}

	movements, _ := svc.ListStockMovements(context.Background(), domain.StockMovementFilter{ProductID: &created.ID, Type: domain.MovementIn})
	if movements.Pagination.Total != 1 {
		t.Fatalf("expected opening movement, got %d", movements.Pagination.Total)
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := New(memory.New(), nil, Options{})
	ctx := WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})

	if _, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "X", SalePrice: dec("1")}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateProductRollsBackWhenOpeningStockFails(t *testing.T) {
	repo := &failingRepo{Store: memory.New(), failOnMovement: 1}
	svc := New(repo, nil, Options{})
	barcode := "5601234000017"
	req := domain.ProductCreateRequest{
		Barcode:      &barcode,
		Name:         "Feijao 1kg",
		CostPrice:    dec("60"),
		SalePrice:    dec("95"),
		InitialStock: dec("40"),
	}

	if _, err := svc.CreateProduct(adminContext(), req); !errors.Is(err, errMovementRejected) {
		t.Fatalf("expected movement failure, got %v", err)
	}
	products, err := repo.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("expected no product after rollback, got %+v", products)
	}

	repo.failOnMovement = 0
	created, err := svc.CreateProduct(adminContext(), req)
	if err != nil {
		t.Fatalf("retry with same barcode failed: %v", err)
	}
	if !created.StockQuantity.Equal(dec("40")) {
		t.Fatalf("expected stock 40, got %s", created.StockQuantity)
	}
}

func TestCreateProductOpeningMovementRecordsActor(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{})
	ctx := WithActor(context.Background(), domain.Actor{ID: 7, Username: "gerente", Role: "admin"})

	created, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Oleo 1L", SalePrice: dec("110"), InitialStock: dec("6")})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	movements, _, err := repo.ListStockMovements(context.Background(), domain.StockMovementFilter{ProductID: &created.ID, Limit: 10})
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 1 || movements[0].UserID == nil || *movements[0].UserID != 7 {
		t.Fatalf("expected opening movement by user 7, got %+v", movements)
	}
	if !movements[0].PreviousQuantity.IsZero() || !movements[0].NewQuantity.Equal(dec("6")) {
		t.Fatalf("expected 0 -> 6, got %s -> %s", movements[0].PreviousQuantity, movements[0].NewQuantity)
	}
}

func TestCommitSaleKeepsExplicitInvoiceUntrimmed(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{})

	result, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
		Items:         []domain.SaleLine{{Quantity: dec("1"), UnitPrice: dec("10")}},
		PaymentMethod: domain.PaymentCard,
		InvoiceNumber: " INV-X ",
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if result.Sale.InvoiceNumber != " INV-X " {
		t.Fatalf("expected invoice %q, got %q", " INV-X ", result.Sale.InvoiceNumber)
	}
	stored, err := repo.GetSaleByID(context.Background(), result.Sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if stored.InvoiceNumber != " INV-X " {
		t.Fatalf("expected stored invoice %q, got %q", " INV-X ", stored.InvoiceNumber)
	}
}

func TestCommitSaleBlankInvoiceIsGenerated(t *testing.T) {
	svc := New(memory.New(), nil, Options{})

	result, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
		Items:         []domain.SaleLine{{Quantity: dec("1"), UnitPrice: dec("10")}},
		PaymentMethod: domain.PaymentCard,
		InvoiceNumber: "   ",
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if !invoicePattern.MatchString(result.Sale.InvoiceNumber) {
		t.Fatalf("expected generated invoice, got %q", result.Sale.InvoiceNumber)
	}
}

func TestDailySummaryRejectsBadDate(t *testing.T) {
	svc := New(memory.New(), nil, Options{})
	if _, err := svc.DailySummary(context.Background(), "18/10/2026"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestReceiptCarriesStoreName(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, Options{StoreName: "Mercearia Central"})
	result, err := svc.CommitSale(context.Background(), domain.CreateSaleRequest{
		Items:         []domain.SaleLine{{Quantity: dec("1"), UnitPrice: dec("10")}},
		PaymentMethod: domain.PaymentCard,
	})
	if err != nil {
		t.Fatalf("commit sale failed: %v", err)
	}
	receipt, err := svc.Receipt(context.Background(), result.Sale.ID)
	if err != nil {
		t.Fatalf("receipt failed: %v", err)
	}
	if receipt.StoreName != "Mercearia Central" || len(receipt.Items) != 1 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}
