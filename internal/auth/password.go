package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// secretCost is the fixed bcrypt work factor. Raising it only affects newly
// hashed secrets; existing hashes verify at the cost they were created with.
const secretCost = 12

const minSecretLength = 8

// weakSecrets are rejected outright regardless of composition.
var weakSecrets = map[string]struct{}{
	"password":   {},
	"password1":  {},
	"passw0rd":   {},
	"12345678":   {},
	"123456789":  {},
	"qwerty123":  {},
	"letmein123": {},
	"welcome1":   {},
	"admin123":   {},
	"iloveyou":   {},
}

// HashSecret hashes a plaintext secret with bcrypt at the fixed work factor.
// Strength validation happens before hashing, not here.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: secret is empty", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), secretCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifySecret compares a plaintext secret with a stored hash.
func VerifySecret(hash, secret string) error {
	if hash == "" {
		return fmt.Errorf("%w: secret hash is empty", ErrInvalidInput)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

// ValidateSecretStrength enforces the registration policy: minimum length,
// at least one upper-case letter, one lower-case letter and one digit, and
// not on the weak-secret blacklist. Returned errors wrap ErrWeakSecret and
// carry a human-readable reason.
func ValidateSecretStrength(secret string) error {
	if len(secret) < minSecretLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakSecret, minSecretLength)
	}
	if _, ok := weakSecrets[strings.ToLower(secret)]; ok {
		return fmt.Errorf("%w: too common", ErrWeakSecret)
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return fmt.Errorf("%w: must contain upper-case, lower-case and digit characters", ErrWeakSecret)
	}
	return nil
}
