// Package secrets provides password hashing, token minting and HMAC signing
// primitives for the identity core.
package secrets

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the minimum accepted password length at registration.
const MinPasswordLength = 8

// commonPasswords is a denylist of passwords seen in every breach corpus.
// Checked case-insensitively after length validation.
var commonPasswords = map[string]struct{}{
	"password":   {},
	"password1":  {},
	"12345678":   {},
	"123456789":  {},
	"1234567890": {},
	"qwerty123":  {},
	"qwertyuiop": {},
	"iloveyou":   {},
	"letmein1":   {},
	"sunshine1":  {},
	"admin123":   {},
	"welcome1":   {},
	"football1":  {},
	"princess1":  {},
	"dragon123":  {},
}

// HashPassword derives a bcrypt verifier from the plaintext.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether the plaintext matches the stored verifier.
// bcrypt's comparison is constant-time over the derived key.
func VerifyPassword(plaintext, verifier string) bool {
	return bcrypt.CompareHashAndPassword([]byte(verifier), []byte(plaintext)) == nil
}

// ValidatePassword enforces the registration password policy.
func ValidatePassword(plaintext string) error {
	if len(plaintext) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if _, bad := commonPasswords[strings.ToLower(plaintext)]; bad {
		return ErrPasswordTooCommon
	}
	return nil
}
