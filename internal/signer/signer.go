package signer

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultIssuer   = "webhookdispatcher"
	DefaultTokenTTL = 30 * time.Second
)

// TokenSigner mints the bearer token sent with every delivery attempt.
type TokenSigner interface {
	Sign(webhookID string) (string, error)
}

// Claims is the token body. WebhookID is serialized as "id".
type Claims struct {
	WebhookID string `json:"id"`
	jwt.RegisteredClaims
}

type Options struct {
	Issuer string
	TTL    time.Duration
}

var _ TokenSigner = (*Signer)(nil)

// Signer signs RS256 tokens with a private key supplied as a JWK.
// The key is parsed on first use and the result, including failure, is cached.
type Signer struct {
	rawKey string
	issuer string
	ttl    time.Duration
	now    func() time.Time

	once    sync.Once
	key     *rsa.PrivateKey
	keyID   string
	public  jose.JSONWebKey
	loadErr error
}

func New(rawKey string, opts Options) *Signer {
	if strings.TrimSpace(opts.Issuer) == "" {
		opts.Issuer = DefaultIssuer
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTokenTTL
	}

	return &Signer{
		rawKey: rawKey,
		issuer: opts.Issuer,
		ttl:    opts.TTL,
		now:    time.Now,
	}
}

// Check parses the key without signing anything.
func (s *Signer) Check() error {
	return s.load()
}

func (s *Signer) Sign(webhookID string) (string, error) {
	if err := s.load(); err != nil {
		return "", err
	}

	issuedAt := s.now().UTC().Truncate(time.Second)
	claims := Claims{
		WebhookID: webhookID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", &SigningError{Cause: err}
	}
	return signed, nil
}

// PublicJWKS returns the public half of the signing key as a JWK set.
func (s *Signer) PublicJWKS() (jose.JSONWebKeySet, error) {
	if err := s.load(); err != nil {
		return jose.JSONWebKeySet{}, err
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{s.public}}, nil
}

func (s *Signer) load() error {
	s.once.Do(func() {
		s.key, s.keyID, s.public, s.loadErr = parsePrivateJWK(s.rawKey)
	})
	return s.loadErr
}

func parsePrivateJWK(raw string) (*rsa.PrivateKey, string, jose.JSONWebKey, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, "", jose.JSONWebKey{}, &KeyImportError{Cause: errors.New("signing key is empty")}
	}

	var jwk jose.JSONWebKey
	if err := json.Unmarshal([]byte(raw), &jwk); err != nil {
		return nil, "", jose.JSONWebKey{}, &KeyImportError{Cause: err}
	}

	priv, ok := jwk.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, "", jose.JSONWebKey{}, &KeyImportError{Cause: fmt.Errorf("expected RSA private key, got %T", jwk.Key)}
	}
	if err := priv.Validate(); err != nil {
		return nil, "", jose.JSONWebKey{}, &KeyImportError{Cause: err}
	}

	keyID := jwk.KeyID
	if keyID == "" {
		thumbprint, err := jwk.Thumbprint(crypto.SHA256)
		if err != nil {
			return nil, "", jose.JSONWebKey{}, &KeyImportError{Cause: err}
		}
		keyID = base64.RawURLEncoding.EncodeToString(thumbprint)
	}

	public := jose.JSONWebKey{
		Key:       &priv.PublicKey,
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}

	return priv, keyID, public, nil
}
