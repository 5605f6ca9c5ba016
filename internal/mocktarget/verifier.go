package mocktarget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kursadbilgin/webhook-dispatcher/internal/signer"
)

const (
	defaultKeySetTTL   = 5 * time.Minute
	keySetFetchTimeout = 5 * time.Second
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrKeySetUnavailable = errors.New("jwks unavailable")
)

// Verifier checks dispatcher bearer tokens against the dispatcher's JWKS.
// Keys are cached and refetched once when an unknown kid shows up.
type Verifier struct {
	jwksURL string
	issuer  string
	client  *resty.Client
	ttl     time.Duration

	mu        sync.RWMutex
	keys      jose.JSONWebKeySet
	fetchedAt time.Time
	now       func() time.Time
}

func NewVerifier(jwksURL string, issuer string, client *resty.Client) (*Verifier, error) {
	if strings.TrimSpace(jwksURL) == "" {
		return nil, fmt.Errorf("jwks url is required")
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = signer.DefaultIssuer
	}
	if client == nil {
		client = resty.New()
	}

	return &Verifier{
		jwksURL: jwksURL,
		issuer:  issuer,
		client:  client,
		ttl:     defaultKeySetTTL,
		now:     time.Now,
	}, nil
}

// Verify parses an Authorization header value and returns the token claims.
func (v *Verifier) Verify(ctx context.Context, authorization string) (*signer.Claims, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(authorization), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	var claims signer.Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if errors.Is(err, ErrKeySetUnavailable) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if strings.TrimSpace(claims.WebhookID) == "" {
		return nil, fmt.Errorf("%w: token has no webhook id", ErrUnauthorized)
	}

	return &claims, nil
}

func (v *Verifier) publicKey(ctx context.Context, kid string) (any, error) {
	if key, ok := v.cachedKey(kid); ok {
		return key, nil
	}

	if err := v.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := v.cachedKey(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown key id %q", kid)
}

func (v *Verifier) cachedKey(kid string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.fetchedAt.IsZero() || v.now().Sub(v.fetchedAt) > v.ttl {
		return nil, false
	}
	found := v.keys.Key(kid)
	if len(found) == 0 {
		return nil, false
	}
	return found[0].Key, true
}

func (v *Verifier) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, keySetFetchTimeout)
	defer cancel()

	var set jose.JSONWebKeySet
	resp, err := v.client.R().
		SetContext(ctx).
		SetResult(&set).
		Get(v.jwksURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s", ErrKeySetUnavailable, resp.Status())
	}

	v.mu.Lock()
	v.keys = set
	v.fetchedAt = v.now()
	v.mu.Unlock()
	return nil
}
