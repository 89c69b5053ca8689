package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"
)

type existsFunc func(candidate string) (bool, error)

func (f existsFunc) InvoiceNumberExists(_ context.Context, candidate string) (bool, error) {
	return f(candidate)
}

var invoicePattern = regexp.MustCompile(`^INV-\d{8}-\d{4}$`)

func fixedNow() time.Time {
	return time.Date(2026, 10, 18, 23, 30, 0, 0, time.UTC)
}

func TestInvoiceGeneratorFormat(t *testing.T) {
	gen := NewInvoiceGenerator(existsFunc(func(string) (bool, error) { return false, nil }), func() int { return 7 }, fixedNow)

	invoice, err := gen.Next(context.Background())
	if err != nil {
		t.Fatalf("next invoice failed: %v", err)
	}
	if invoice != "INV-20261018-0007" {
		t.Fatalf("expected INV-20261018-0007, got %s", invoice)
	}
	if !invoicePattern.MatchString(invoice) {
		t.Fatalf("invoice %s does not match pattern", invoice)
	}
}

func TestInvoiceGeneratorUsesUTCDate(t *testing.T) {
	maputo := time.FixedZone("CAT", 2*60*60)
	now := func() time.Time { return time.Date(2026, 10, 19, 1, 0, 0, 0, maputo) }
	gen := NewInvoiceGenerator(existsFunc(func(string) (bool, error) { return false, nil }), func() int { return 1 }, now)

	invoice, _ := gen.Next(context.Background())
	if invoice != "INV-20261018-0001" {
		t.Fatalf("expected UTC date in invoice, got %s", invoice)
	}
}

func TestInvoiceGeneratorRetriesOnCollision(t *testing.T) {
	taken := map[string]bool{
		"INV-20261018-0001": true,
		"INV-20261018-0002": true,
		"INV-20261018-0003": true,
	}
	suffix := 0
	gen := NewInvoiceGenerator(
		existsFunc(func(candidate string) (bool, error) { return taken[candidate], nil }),
		func() int { suffix++; return suffix },
		fixedNow,
	)
	collisions := 0
	gen.onCollision = func(string) { collisions++ }

	invoice, err := gen.Next(context.Background())
	if err != nil {
		t.Fatalf("next invoice failed: %v", err)
	}
	if invoice != "INV-20261018-0004" {
		t.Fatalf("expected INV-20261018-0004, got %s", invoice)
	}
	if collisions != 3 {
		t.Fatalf("expected 3 collisions, got %d", collisions)
	}
}

func TestInvoiceGeneratorGivesUpAfterTenAttempts(t *testing.T) {
	lookups := 0
	gen := NewInvoiceGenerator(
		existsFunc(func(string) (bool, error) { lookups++; return true, nil }),
		func() int { return 42 },
		fixedNow,
	)

	invoice, err := gen.Next(context.Background())
	if err != nil {
		t.Fatalf("next invoice failed: %v", err)
	}
	if lookups != 10 {
		t.Fatalf("expected 10 lookups, got %d", lookups)
	}
	if invoice != "INV-20261018-0042" {
		t.Fatalf("expected last candidate to be returned, got %s", invoice)
	}
}

func TestInvoiceGeneratorPropagatesLookupError(t *testing.T) {
	boom := errors.New("db down")
	gen := NewInvoiceGenerator(existsFunc(func(string) (bool, error) { return false, boom }), nil, fixedNow)

	if _, err := gen.Next(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}
