package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the JWT claims of a VISS access token.
type Claims struct {
	// Scope lists grants in ParseGrant form, e.g. "get,subscribe:Vehicle.**".
	Scope []string `json:"scp"`
	jwt.RegisteredClaims
}

// TokenConfig configures a TokenAuthorizer.
type TokenConfig struct {
	// Secret is the HMAC key for HS256 tokens.
	Secret []byte

	// PublicKey verifies RS256 tokens. Takes precedence over Secret.
	PublicKey *rsa.PublicKey

	// Issuer, if set, must match the iss claim.
	Issuer string

	// Audience, if set, must be contained in the aud claim.
	Audience string

	// Fallback decides requests the token grants do not cover, including
	// those of anonymous sessions. Nil denies them.
	Fallback *Policy

	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

// TokenAuthorizer validates access tokens and authorizes requests against
// the grants they carry.
type TokenAuthorizer struct {
	config TokenConfig
	parser *jwt.Parser
}

// NewTokenAuthorizer creates a token authorizer.
func NewTokenAuthorizer(config TokenConfig) (*TokenAuthorizer, error) {
	if config.PublicKey == nil && len(config.Secret) == 0 {
		return nil, errors.New("token authorizer needs a secret or public key")
	}
	if config.Fallback == nil {
		config.Fallback = NewPolicy()
	}

	opts := []jwt.ParserOption{jwt.WithLeeway(config.Leeway)}
	if config.PublicKey != nil {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &TokenAuthorizer{
		config: config,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Authenticate validates a token and returns the identity it describes.
// A "Bearer " prefix is accepted.
func (a *TokenAuthorizer) Authenticate(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Anonymous, nil
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(token, claims, a.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id := Identity{Subject: claims.Subject}
	if id.Subject == "" {
		id.Subject = claims.ID
	}
	for _, s := range claims.Scope {
		g, err := ParseGrant(s)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		id.Grants = append(id.Grants, g)
	}
	return id, nil
}

// Authorize implements Authorizer.
func (a *TokenAuthorizer) Authorize(ctx context.Context, id Identity, path string, op Operation) error {
	return a.config.Fallback.Authorize(ctx, id, path, op)
}

// Issue signs an HS256 token for subject with the given grants.
// Used by tooling and tests; production tokens come from an external
// access grant server.
func (a *TokenAuthorizer) Issue(subject string, ttl time.Duration, grants ...string) (string, error) {
	if len(a.config.Secret) == 0 {
		return "", errors.New("issuing requires an HMAC secret")
	}
	now := time.Now()
	claims := Claims{
		Scope: grants,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.config.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if a.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.config.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.config.Secret)
}

func (a *TokenAuthorizer) keyFunc(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA:
		if a.config.PublicKey == nil {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.config.PublicKey, nil
	case *jwt.SigningMethodHMAC:
		if len(a.config.Secret) == 0 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.config.Secret, nil
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
}

var _ Authorizer = (*TokenAuthorizer)(nil)
