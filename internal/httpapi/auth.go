package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"caixapos/backend/internal/domain"
)

const (
	tokenIssuer     = "caixapos"
	defaultTokenTTL = 8 * time.Hour
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
)

// UserStore is the slice of the repository the auth layer needs.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager issues and verifies till session tokens.
type AuthManager struct {
	signingKey []byte
	ttl        time.Duration
	pinHash    string
	accounts   *accountCache
}

// sessionClaims is the signed session payload. uid is the app_users id that
// gets stamped onto sales and stock movements.
type sessionClaims struct {
	UserID int64  `json:"uid"`
	Role   string `json:"role"`
	jwtlib.RegisteredClaims
}

func NewAuthManager(secret string, ttl time.Duration, managerPIN string, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	manager := &AuthManager{
		signingKey: []byte(secret),
		ttl:        ttl,
		pinHash:    hashManagerPIN(managerPIN),
		accounts:   newAccountCache(users),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	manager.accounts.refresh(ctx)
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.accounts.refresh(ctx)

	account, ok := a.accounts.lookup(req.Username)
	if !ok || !verifyPassword(account.Password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	token, expiresAt, err := a.issue(account)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) issue(account domain.UserAccount) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(a.ttl)
	claims := sessionClaims{
		UserID: account.ID,
		Role:   account.Role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   account.Username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken verifies an HS256 session token and returns the caller it names.
func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	var claims sessionClaims
	_, err := jwtlib.ParseWithClaims(raw, &claims, func(*jwtlib.Token) (any, error) {
		return a.signingKey, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return domain.Actor{}, errInvalidToken
	}
	if claims.Subject == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{ID: claims.UserID, Username: claims.Subject, Role: claims.Role}, nil
}

// ValidateManagerPIN lets a cashier perform a supervised action such as
// cancelling a sale.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !isPasswordHash(a.pinHash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.pinHash), []byte(input)) == nil
}
