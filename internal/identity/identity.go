// Package identity resolves the actor behind a request. Every audited
// operation needs one.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/ports"
)

// ErrUnauthenticated is returned when a credential cannot be turned into an actor
var ErrUnauthenticated = errors.New("unauthenticated")

// Static always returns the configured actor. Used by the CLI, where the
// operator is the actor.
type Static struct {
	actor model.Actor
}

// NewStatic creates a provider for a fixed actor
func NewStatic(actor model.Actor) *Static {
	return &Static{actor: actor}
}

func (s *Static) Authenticate(context.Context, string) (model.Actor, error) {
	if s.actor.ID == "" {
		return model.Actor{}, fmt.Errorf("%w: no actor configured", ErrUnauthenticated)
	}
	return s.actor, nil
}

// Claims are the JWT claims an actor token carries
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

// JWT validates HMAC-signed bearer tokens
type JWT struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewJWT creates a validator. issuer and audience are enforced when set.
func NewJWT(secret, issuer, audience string) (*JWT, error) {
	if secret == "" {
		return nil, errors.New("jwt identity requires a secret")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &JWT{secret: []byte(secret), opts: opts}, nil
}

func (j *JWT) Authenticate(_ context.Context, token string) (model.Actor, error) {
	if token == "" {
		return model.Actor{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, j.opts...)
	if err != nil {
		return model.Actor{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if !parsed.Valid {
		return model.Actor{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return model.Actor{}, fmt.Errorf("%w: token subject is required", ErrUnauthenticated)
	}
	return model.Actor{ID: claims.Subject, Name: claims.Name, Role: claims.Role}, nil
}

// Sign issues a token for actor. Used by tests and the token helper command.
func (j *JWT) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// New builds the provider selected by cfg
func New(cfg model.IdentityConfig) (ports.IdentityProvider, error) {
	switch cfg.Provider {
	case "", "static":
		return NewStatic(cfg.Actor), nil
	case "jwt":
		j, err := NewJWT(cfg.JWTSecret, cfg.Issuer, cfg.Audience)
		if err != nil {
			return nil, err
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unsupported identity provider: %s", cfg.Provider)
	}
}
