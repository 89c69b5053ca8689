package httpapi

import (
	"context"
	"errors"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"caixapos/backend/internal/domain"
)

// accountCache mirrors app_users so accounts created by another instance can
// log in here. Plain-text passwords found while loading are rehashed and
// written back.
type accountCache struct {
	store UserStore

	mu     sync.RWMutex
	byName map[string]domain.UserAccount
}

func newAccountCache(store UserStore) *accountCache {
	return &accountCache{store: store, byName: make(map[string]domain.UserAccount)}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (c *accountCache) lookup(username string) (domain.UserAccount, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	account, ok := c.byName[normalizeUsername(username)]
	return account, ok
}

func (c *accountCache) put(account domain.UserAccount) {
	c.mu.Lock()
	c.byName[account.Username] = account
	c.mu.Unlock()
}

func (c *accountCache) refresh(ctx context.Context) {
	if c.store == nil {
		return
	}
	users, err := c.store.ListUsers(ctx)
	if err != nil {
		log.Printf("[auth] WARN: failed to load users: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, user := range users {
		user.Username = normalizeUsername(user.Username)
		if user.Username == "" {
			continue
		}
		if !isPasswordHash(user.Password) {
			if hashed, err := hashPassword(user.Password); err == nil {
				user.Password = hashed
				if err := c.store.UpdateUserPassword(ctx, user.Username, hashed); err != nil {
					log.Printf("[auth] WARN: failed to rehash password for %s: %v", user.Username, err)
				}
			}
		}
		c.byName[user.Username] = user
	}
}

func (c *accountCache) withRole(role string) []domain.UserAccount {
	c.mu.RLock()
	out := make([]domain.UserAccount, 0, len(c.byName))
	for _, account := range c.byName {
		if account.Role == role {
			out = append(out, account)
		}
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(x, y domain.UserAccount) int {
		return strings.Compare(x.Username, y.Username)
	})
	return out
}

func validateCashierRequest(req domain.CashierCreateRequest) (string, error) {
	username := normalizeUsername(req.Username)
	switch {
	case len(username) < 4:
		return "", errors.New("username must be at least 4 characters")
	case strings.ContainsAny(username, " \t\r\n"):
		return "", errors.New("username must not contain spaces")
	case len(strings.TrimSpace(req.Password)) < 6:
		return "", errors.New("password must be at least 6 characters")
	}
	return username, nil
}

func toCashierUser(account domain.UserAccount) domain.CashierUser {
	return domain.CashierUser{
		ID:        account.ID,
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	username, err := validateCashierRequest(req)
	if err != nil {
		return domain.CashierUser{}, err
	}

	a.accounts.refresh(ctx)
	if _, exists := a.accounts.lookup(username); exists {
		return domain.CashierUser{}, errors.New("username already exists")
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.CashierUser{}, errors.New("failed to hash password")
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  passwordHash,
		Role:      "cashier",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.accounts.store != nil {
		created, err := a.accounts.store.CreateUser(ctx, account)
		if err != nil {
			return domain.CashierUser{}, err
		}
		account = *created
	}
	a.accounts.put(account)
	return toCashierUser(account), nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.accounts.refresh(ctx)

	accounts := a.accounts.withRole("cashier")
	result := make([]domain.CashierUser, 0, len(accounts))
	for _, account := range accounts {
		result = append(result, toCashierUser(account))
	}
	return result
}
