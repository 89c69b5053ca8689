package httpapi

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

// hashManagerPIN returns the bcrypt hash of the configured PIN. An empty PIN
// yields "", which ValidateManagerPIN always rejects.
func hashManagerPIN(pin string) string {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return ""
	}
	hashed, err := hashPassword(pin)
	if err != nil {
		return ""
	}
	return hashed
}
