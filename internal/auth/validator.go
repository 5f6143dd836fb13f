// Package auth resolves bearer tokens and API keys to caller identities.
// Credential validation fails closed: if the backing store cannot be
// reached, the request is denied rather than admitted unverified.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fleetgate/internal/config"
	"fleetgate/internal/keys"
	"fleetgate/internal/model"
)

var (
	// ErrUnauthenticated is returned when no valid credential accompanies
	// the request.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when a valid credential lacks the required
	// permission.
	ErrForbidden = errors.New("insufficient permission")
)

// TokenClaims are the JWT claims the gateway understands.
type TokenClaims struct {
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Validator authenticates requests with an API key or a bearer token.
type Validator struct {
	keys   keys.Manager
	cfg    config.AuthConfig
	logger *slog.Logger
}

// NewValidator creates a Validator.
func NewValidator(km keys.Manager, cfg config.AuthConfig, logger *slog.Logger) *Validator {
	return &Validator{
		keys:   km,
		cfg:    cfg,
		logger: logger.With("component", "auth"),
	}
}

// Authenticate resolves the request's credential to a principal. X-API-Key
// takes precedence over Authorization: Bearer when both are present.
func (v *Validator) Authenticate(ctx context.Context, headers http.Header) (*model.Principal, error) {
	if v.cfg.EnableAPIKeys {
		if secret := strings.TrimSpace(headers.Get("X-API-Key")); secret != "" {
			return v.authenticateKey(ctx, secret)
		}
	}
	if v.cfg.EnableBearer {
		if auth := headers.Get("Authorization"); auth != "" {
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				return v.authenticateToken(strings.TrimSpace(parts[1]))
			}
		}
	}
	return nil, ErrUnauthenticated
}

func (v *Validator) authenticateKey(ctx context.Context, secret string) (*model.Principal, error) {
	key, err := v.keys.Validate(ctx, secret)
	if err != nil {
		if errors.Is(err, keys.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		// Store outage: deny. Unauthenticated access is a worse failure
		// than refused service.
		v.logger.Error("key validation unavailable, failing closed", "error", err)
		return nil, fmt.Errorf("%w: credential store unavailable", ErrUnauthenticated)
	}
	return &model.Principal{Key: key, Permissions: key.Permissions}, nil
}

func (v *Validator) authenticateToken(token string) (*model.Principal, error) {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(v.cfg.TokenSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthenticated
	}
	if claims.Subject == "" {
		return nil, ErrUnauthenticated
	}
	// Tokens minted with a lifetime beyond the configured ceiling are
	// treated as forged.
	if v.cfg.TokenExpiry > 0 && claims.ExpiresAt != nil && time.Until(claims.ExpiresAt.Time) > v.cfg.TokenExpiry {
		return nil, ErrUnauthenticated
	}
	return &model.Principal{UserID: claims.Subject, Permissions: claims.Permissions}, nil
}

// Authorize checks that the principal holds the permission required by the
// endpoint. Empty required permission admits any authenticated caller.
func (v *Validator) Authorize(p *model.Principal, required string) error {
	if required == "" {
		return nil
	}
	if p.Key != nil {
		if p.Key.HasPermission(required) {
			return nil
		}
		return ErrForbidden
	}
	for _, perm := range p.Permissions {
		if perm == "*" || perm == required {
			return nil
		}
	}
	return ErrForbidden
}
