// Package auth authenticates settlement oracles, the trusted callers allowed
// to declare the winner of any room.
package auth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lox/duelescrow/internal/address"
)

var (
	// ErrInvalidToken indicates the token is definitively invalid.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrUnavailable indicates the oracle registry is unreachable or unavailable.
	// Callers may choose to fail open (allow) or fail closed (reject).
	ErrUnavailable = errors.New("auth: unavailable")
)

// Identity is an authenticated oracle.
type Identity struct {
	Address address.Address `json:"address"`
	Name    string          `json:"name"`
}

// Validator validates oracle tokens.
type Validator interface {
	// Validate checks a token and returns the oracle identity.
	// Returns:
	//   - (*Identity, nil) if token is valid
	//   - (nil, ErrInvalidToken) if token is definitively invalid
	//   - (nil, ErrUnavailable) if the registry is unavailable
	//   - (nil, nil) if oracle auth is disabled (NoopValidator only)
	Validate(ctx context.Context, token string) (*Identity, error)
}

// HTTPValidator validates tokens via HTTP callback to an oracle registry.
type HTTPValidator struct {
	url         string
	client      *http.Client
	adminSecret string
}

// NewHTTPValidator creates a validator that calls an external HTTP endpoint.
func NewHTTPValidator(url string, adminSecret string) *HTTPValidator {
	return &HTTPValidator{
		url:         url,
		adminSecret: adminSecret,
		client: &http.Client{
			Timeout: 500 * time.Millisecond,
		},
	}
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Address string `json:"address,omitempty"`
	Name    string `json:"name,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (v *HTTPValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	reqBody, err := json.Marshal(validateRequest{Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if v.adminSecret != "" {
		req.Header.Set("X-Admin-Secret", v.adminSecret)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrInvalidToken
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	// Limit response body to 1MB to avoid pathological responses
	limitedReader := io.LimitReader(resp.Body, 1<<20)

	var authResp validateResponse
	if err := json.NewDecoder(limitedReader).Decode(&authResp); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrUnavailable, err)
	}

	if !authResp.Valid {
		return nil, ErrInvalidToken
	}

	addr, err := address.Parse(authResp.Address)
	if err != nil {
		// A valid token bound to no usable address cannot settle anything.
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &Identity{
		Address: addr,
		Name:    authResp.Name,
	}, nil
}

// StaticValidator validates tokens against a fixed set loaded from config.
type StaticValidator struct {
	oracles map[string]Identity
}

// NewStaticValidator creates a validator from a token -> identity map.
func NewStaticValidator(oracles map[string]Identity) *StaticValidator {
	copied := make(map[string]Identity, len(oracles))
	for token, id := range oracles {
		copied[token] = id
	}
	return &StaticValidator{oracles: copied}
}

func (v *StaticValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	for known, id := range v.oracles {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			id := id
			return &id, nil
		}
	}
	return nil, ErrInvalidToken
}

// ChainValidator tries each validator in order. The first identity wins;
// ErrInvalidToken from one validator falls through to the next.
type ChainValidator []Validator

func (c ChainValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	var lastErr error = ErrInvalidToken
	for _, v := range c {
		id, err := v.Validate(ctx, token)
		if err == nil && id != nil {
			return id, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	return nil, lastErr
}

// NoopValidator grants no oracle rights (dev mode without oracles).
type NoopValidator struct{}

// NewNoopValidator creates a validator that never authenticates an oracle.
func NewNoopValidator() *NoopValidator {
	return &NoopValidator{}
}

func (v *NoopValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	return nil, nil
}
