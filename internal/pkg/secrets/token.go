package secrets

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

// Validation errors for the password policy.
var (
	ErrPasswordTooShort  = errors.New("password too short")
	ErrPasswordTooCommon = errors.New("password too common")
)

// SessionTokenBytes gives session tokens 256 bits of entropy. Tokens are
// opaque, stored as-is, and must never be logged.
const SessionTokenBytes = 32

// RandomToken mints a URL-safe random token from n bytes of entropy.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ConstantTimeEquals compares two secrets without leaking their contents
// through timing.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// inviteAlphabet is the 36-symbol alphabet invite codes draw from.
const inviteAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// InviteCodeLength is the fixed invite code length.
const InviteCodeLength = 8

// RandomInviteCode mints an 8-character uppercase alphanumeric code using
// rejection sampling so every symbol is uniformly distributed.
func RandomInviteCode() (string, error) {
	out := make([]byte, 0, InviteCodeLength)
	buf := make([]byte, 16)
	// 252 is the largest multiple of 36 below 256; bytes at or above it are
	// rejected to avoid modulo bias.
	const limit = 252
	for len(out) < InviteCodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read entropy: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, inviteAlphabet[int(b)%len(inviteAlphabet)])
			if len(out) == InviteCodeLength {
				break
			}
		}
	}
	return string(out), nil
}
