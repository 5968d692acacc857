package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// clockSkew tolerates small drift between the token issuer and this service.
const clockSkew = 5 * time.Second

// UserMetadata mirrors the profile block the hosted auth provider embeds in tokens.
// Users can edit it, so nothing in it takes part in authorization.
type UserMetadata struct {
	Name string `json:"name,omitempty"`
}

// Claims represents the JWT claims issued by the auth provider.
type Claims struct {
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens and turns them into identities.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// AuthenticatorOption configures Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithIssuer requires tokens to carry the given issuer.
func WithIssuer(issuer string) AuthenticatorOption {
	return func(a *Authenticator) { a.issuer = strings.TrimSpace(issuer) }
}

// WithAudience requires tokens to list the given audience.
func WithAudience(aud string) AuthenticatorOption {
	return func(a *Authenticator) { a.audience = strings.TrimSpace(aud) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator builds an Authenticator for the shared signing secret.
func NewAuthenticator(secret string, opts ...AuthenticatorOption) (*Authenticator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	a := &Authenticator{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate verifies token and returns the identity it describes.
func (a *Authenticator) Authenticate(_ context.Context, token string) (Identity, error) {
	claims, err := a.ParseAndValidate(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		ID:    claims.Subject,
		Email: strings.TrimSpace(claims.Email),
		Name:  strings.TrimSpace(claims.UserMetadata.Name),
	}, nil
}

// ParseAndValidate verifies the token signature and required claims.
func (a *Authenticator) ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := a.validateClaims(claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateToken signs a token for id. The service itself never issues tokens in
// production; this is used by tooling and tests.
func (a *Authenticator) GenerateToken(id Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(id.ID) == "" {
		return "", fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}
	now := a.now().UTC()
	claims := Claims{
		Email: id.Email,
		UserMetadata: UserMetadata{Name: id.Name},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a *Authenticator) validateClaims(claims *Claims) error {
	if a.issuer != "" && claims.Issuer != a.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if a.audience != "" {
		found := false
		for _, aud := range claims.Audience {
			if aud == a.audience {
				found = true
				break
			}
		}
		if !found {
			return errors.New("audience mismatch")
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil {
		return errors.New("expiry missing")
	}
	now := a.now().UTC()
	if now.After(claims.ExpiresAt.Time.Add(clockSkew)) {
		return errors.New("token expired")
	}
	if claims.NotBefore != nil && now.Add(clockSkew).Before(claims.NotBefore.Time) {
		return errors.New("token not yet valid")
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(now.Add(clockSkew)) {
		return errors.New("token issued in the future")
	}
	return nil
}
