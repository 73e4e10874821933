package secrets

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSignature is returned when a signed blob fails verification
// against every configured key version.
var ErrInvalidSignature = errors.New("invalid signature")

// Signer signs and verifies visitor-ID payloads with versioned HMAC keys.
// Rotation is supported by adding a new key version and retiring old ones
// after a grace period: Sign always uses the active version, Verify tries
// every configured version.
type Signer struct {
	keys   map[string][]byte
	active string
}

// NewSigner builds a signer from version→secret key material. The active
// version must be present in keys.
func NewSigner(keys map[string]string, activeVersion string) (*Signer, error) {
	if len(keys) == 0 {
		return nil, errors.New("no signing keys configured")
	}
	if _, ok := keys[activeVersion]; !ok {
		return nil, fmt.Errorf("active key version %q not configured", activeVersion)
	}
	material := make(map[string][]byte, len(keys))
	for version, secret := range keys {
		if secret == "" {
			return nil, fmt.Errorf("empty secret for key version %q", version)
		}
		material[version] = []byte(secret)
	}
	return &Signer{keys: material, active: activeVersion}, nil
}

// Sign produces "v<version>.base64url(payload).base64url(sig)" where sig is
// HMAC-SHA256 over the payload with the active key.
func (s *Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, s.keys[s.active])
	mac.Write([]byte(payload))
	return fmt.Sprintf("v%s.%s.%s",
		s.active,
		base64.RawURLEncoding.EncodeToString([]byte(payload)),
		base64.RawURLEncoding.EncodeToString(mac.Sum(nil)),
	)
}

// Verify recovers the payload from a signed blob, trying all known key
// versions. Returns ErrInvalidSignature for any malformed or forged input.
func (s *Signer) Verify(blob string) (string, error) {
	parts := strings.Split(blob, ".")
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "v") {
		return "", ErrInvalidSignature
	}
	version := strings.TrimPrefix(parts[0], "v")

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidSignature
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidSignature
	}

	verify := func(key []byte) bool {
		mac := hmac.New(sha256.New, key)
		mac.Write(payload)
		return hmac.Equal(mac.Sum(nil), sig)
	}

	// Prefer the declared version, then fall back to every other configured
	// key so blobs signed before a rotation still verify.
	if key, ok := s.keys[version]; ok && verify(key) {
		return string(payload), nil
	}
	for v, key := range s.keys {
		if v == version {
			continue
		}
		if verify(key) {
			return string(payload), nil
		}
	}
	return "", ErrInvalidSignature
}
