package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"signal-core/internal/apperr"
)

// Actions a token may authorize.
const (
	ActionOpenPosition = "open_position"
	ActionCancelOrder  = "cancel_order"
)

// Claims is the signed token payload.
type Claims struct {
	OrderID string `json:"order_id"`
	Action  string `json:"action"`
	Expires int64  `json:"expires"`
	Nonce   string `json:"nonce"`
}

// ExpiresAt returns the expiry as a time.
func (c Claims) ExpiresAt() time.Time { return time.Unix(c.Expires, 0) }

// Service issues and validates single-purpose action tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a token service. ttl is the default lifetime used by IssueDefault.
func NewService(secret string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	return &Service{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the default token lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue returns base64url(payload) + "." + hex(HMAC-SHA256(secret, base64url(payload))).
func (s *Service) Issue(orderID, action string, ttl time.Duration) (string, error) {
	if !validAction(action) {
		return "", apperr.Validation("unknown action %q", action)
	}
	if orderID == "" {
		return "", apperr.Validation("order id is required")
	}
	claims := Claims{
		OrderID: orderID,
		Action:  action,
		Expires: s.now().Add(ttl).Unix(),
		Nonce:   uuid.NewString(),
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + s.mac(payload), nil
}

// IssueDefault issues a token with the service's default ttl.
func (s *Service) IssueDefault(orderID, action string) (string, error) {
	return s.Issue(orderID, action, s.ttl)
}

// Validate checks structure, signature, action and expiry. All failures are auth errors.
func (s *Service) Validate(tok string) (*Claims, error) {
	payload, sig, ok := strings.Cut(strings.TrimSpace(tok), ".")
	if !ok || payload == "" || sig == "" || strings.Contains(sig, ".") {
		return nil, apperr.Auth("malformed token")
	}
	given, err := hex.DecodeString(sig)
	if err != nil {
		return nil, apperr.Auth("malformed token signature")
	}
	expected, _ := hex.DecodeString(s.mac(payload))
	if !hmac.Equal(given, expected) {
		return nil, apperr.Auth("invalid token signature")
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, apperr.Auth("malformed token payload")
	}
	var c Claims
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, apperr.Auth("malformed token payload")
	}
	if !validAction(c.Action) {
		return nil, apperr.Auth("unknown token action %q", c.Action)
	}
	if c.OrderID == "" || c.Nonce == "" {
		return nil, apperr.Auth("incomplete token payload")
	}
	if s.now().Unix() > c.Expires {
		return nil, apperr.Auth("token expired")
	}
	return &c, nil
}

func (s *Service) mac(payload string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func validAction(a string) bool {
	return a == ActionOpenPosition || a == ActionCancelOrder
}
