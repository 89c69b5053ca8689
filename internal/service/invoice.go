package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const maxInvoiceAttempts = 10

// InvoiceLookup reports whether an invoice number is already taken.
type InvoiceLookup interface {
	InvoiceNumberExists(ctx context.Context, invoiceNumber string) (bool, error)
}

type InvoiceGenerator struct {
	lookup InvoiceLookup
	// suffix returns a value in [0, 10000).
	suffix      func() int
	now         func() time.Time
	onCollision func(candidate string)
}

func NewInvoiceGenerator(lookup InvoiceLookup, suffix func() int, now func() time.Time) *InvoiceGenerator {
	if suffix == nil {
		suffix = func() int { return rand.Intn(10000) }
	}
	if now == nil {
		now = time.Now
	}
	return &InvoiceGenerator{lookup: lookup, suffix: suffix, now: now}
}

// Next returns a fresh INV-YYYYMMDD-NNNN number. After maxInvoiceAttempts
// collisions the last candidate is returned anyway and the storage unique
// constraint becomes the final arbiter.
func (g *InvoiceGenerator) Next(ctx context.Context) (string, error) {
	day := g.now().UTC().Format("20060102")

	var candidate string
	for attempt := 0; attempt < maxInvoiceAttempts; attempt++ {
		candidate = fmt.Sprintf("INV-%s-%04d", day, g.suffix()%10000)
		exists, err := g.lookup.InvoiceNumberExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check invoice number: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		if g.onCollision != nil {
			g.onCollision(candidate)
		}
	}
	return candidate, nil
}
