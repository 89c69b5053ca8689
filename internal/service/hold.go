package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"caixapos/backend/internal/domain"
	"caixapos/backend/internal/store"
	"caixapos/backend/internal/xid"
)

// HoldSale parks a cart snapshot. The payload is stored as given.
func (s *Service) HoldSale(ctx context.Context, payload json.RawMessage) (domain.HeldSale, error) {
	if len(payload) == 0 || !json.Valid(payload) {
		return domain.HeldSale{}, fmt.Errorf("%w: hold payload must be valid JSON", store.ErrInvalidInput)
	}

	now := s.now().UTC()
	held := domain.HeldSale{
		ID:        xid.New("hold"),
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(s.holdTTL),
	}
	if err := s.holds.Put(ctx, held, s.holdTTL); err != nil {
		return domain.HeldSale{}, err
	}
	return held, nil
}

// RetrieveHold returns a parked cart without consuming it.
func (s *Service) RetrieveHold(ctx context.Context, holdID string) (domain.HeldSale, error) {
	holdID = strings.TrimSpace(holdID)
	if holdID == "" {
		return domain.HeldSale{}, store.ErrInvalidInput
	}
	held, ok, err := s.holds.Get(ctx, holdID)
	if err != nil {
		return domain.HeldSale{}, err
	}
	if !ok {
		return domain.HeldSale{}, fmt.Errorf("%w: held sale %s", store.ErrNotFound, holdID)
	}
	return *held, nil
}

func (s *Service) DiscardHold(ctx context.Context, holdID string) error {
	if _, err := s.RetrieveHold(ctx, holdID); err != nil {
		return err
	}
	return s.holds.Delete(ctx, strings.TrimSpace(holdID))
}
