// Package token generates API keys and signs the short-lived access tokens
// used to bootstrap them.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// APIKeyPrefix marks every API key so obviously foreign input can be
// rejected without a store lookup.
const APIKeyPrefix = "ltgv_"

const apiKeyRandomBytes = 24

// IssueAPIKey returns a fresh API key: the prefix followed by 48 hex characters.
func IssueAPIKey() (string, error) {
	b := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(b), nil
}

// HasPrefix reports whether secret looks like an API key.
func HasPrefix(secret string) bool {
	return strings.HasPrefix(secret, APIKeyPrefix) && len(secret) > len(APIKeyPrefix)
}

// Hash is the one-way digest stored in place of the API key.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Display returns the non-secret parts of a key shown back to its owner.
func Display(secret string) (prefix, lastFour string) {
	prefix = APIKeyPrefix
	if len(secret) >= 4 {
		lastFour = secret[len(secret)-4:]
	}
	return prefix, lastFour
}

var (
	ErrMalformed    = errors.New("MALFORMED")
	ErrExpired      = errors.New("EXPIRED")
	ErrBadSignature = errors.New("BAD_SIGNATURE")
)

// ValidationError carries the reason an access token was rejected.
type ValidationError struct {
	Reason error
}

func (e *ValidationError) Error() string {
	return "invalid access token: " + e.Reason.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// Claims are the fields recovered from a valid access token.
type Claims struct {
	AccountID int64
	Email     string
	ExpiresAt time.Time
}

// Signer issues and validates access tokens of the form
// base64url(accountId:email:expiryMs:hexHMAC).
type Signer struct {
	key []byte
	now func() time.Time
}

// NewSigner derives the HMAC key from the server secret. A nil clock uses time.Now.
func NewSigner(secret []byte, now func() time.Time) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token signer: empty secret")
	}
	if now == nil {
		now = time.Now
	}
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, secret, nil, []byte("ltgv access token"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &Signer{key: key, now: now}, nil
}

// Issue returns a token for the account valid for ttl.
func (s *Signer) Issue(accountID int64, email string, ttl time.Duration) (string, error) {
	if strings.Contains(email, ":") {
		return "", fmt.Errorf("issue access token: email contains ':'")
	}
	expiry := s.now().Add(ttl).UnixMilli()
	payload := fmt.Sprintf("%d:%s:%d", accountID, email, expiry)
	raw := payload + ":" + s.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// Validate decodes and checks a token. A token is still valid at exactly its
// expiry millisecond; it expires strictly after.
func (s *Signer) Validate(tok string) (Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(tok, "="))
	if err != nil {
		return Claims{}, &ValidationError{Reason: ErrMalformed}
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 4 {
		return Claims{}, &ValidationError{Reason: ErrMalformed}
	}
	accountID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || accountID <= 0 {
		return Claims{}, &ValidationError{Reason: ErrMalformed}
	}
	expiryMs, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Claims{}, &ValidationError{Reason: ErrMalformed}
	}
	if s.now().UnixMilli() > expiryMs {
		return Claims{}, &ValidationError{Reason: ErrExpired}
	}

	payload := strings.Join(parts[:3], ":")
	want := s.sign(payload)
	if !hmac.Equal([]byte(want), []byte(parts[3])) {
		return Claims{}, &ValidationError{Reason: ErrBadSignature}
	}

	return Claims{
		AccountID: accountID,
		Email:     parts[1],
		ExpiresAt: time.UnixMilli(expiryMs).UTC(),
	}, nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
