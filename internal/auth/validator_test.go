package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetgate/internal/config"
	"fleetgate/internal/keys"
	"fleetgate/internal/logger"
	"fleetgate/internal/model"
	"fleetgate/internal/store"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

const tokenSecret = "test-signing-secret"

func newTestValidator(t *testing.T) (*Validator, keys.Manager, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	log := logger.NewWithWriter(discard{}, false)
	km := keys.NewManager(mem, log, nil)
	v := NewValidator(km, config.AuthConfig{
		TokenSecret:   tokenSecret,
		EnableAPIKeys: true,
		EnableBearer:  true,
	}, log)
	return v, km, mem
}

func issueKey(t *testing.T, km keys.Manager, perms ...string) *keys.CreatedKey {
	t.Helper()
	created, err := km.Create(context.Background(), keys.CreateRequest{
		Name:        "dashboard",
		Permissions: perms,
	}, "tester")
	require.NoError(t, err)
	return created
}

func signToken(t *testing.T, claims TokenClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tokenSecret))
	require.NoError(t, err)
	return token
}

func TestAuthenticateAPIKey(t *testing.T) {
	v, km, _ := newTestValidator(t)
	created := issueKey(t, km, "fleet:read")

	h := http.Header{}
	h.Set("X-API-Key", created.Secret)
	p, err := v.Authenticate(context.Background(), h)
	require.NoError(t, err)
	require.NotNil(t, p.Key)
	assert.Equal(t, created.Key.ID, p.Key.ID)
	assert.Equal(t, "key:"+created.Key.ID, p.LimitKey())
}

func TestAuthenticateRejectsUnknownKey(t *testing.T) {
	v, _, _ := newTestValidator(t)

	h := http.Header{}
	h.Set("X-API-Key", "flt_nonsense")
	_, err := v.Authenticate(context.Background(), h)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateFailsClosedOnStoreOutage(t *testing.T) {
	v, km, mem := newTestValidator(t)
	created := issueKey(t, km, "fleet:read")

	mem.FailAll = true
	h := http.Header{}
	h.Set("X-API-Key", created.Secret)
	_, err := v.Authenticate(context.Background(), h)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateBearerToken(t *testing.T) {
	v, _, _ := newTestValidator(t)

	token := signToken(t, TokenClaims{
		Permissions: []string{"fleet:read"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dispatcher-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	p, err := v.Authenticate(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "dispatcher-7", p.UserID)
	assert.Equal(t, "user:dispatcher-7", p.LimitKey())
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	v, _, _ := newTestValidator(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		token string
	}{
		{"expired", signToken(t, TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dispatcher-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}})},
		{"no expiry", signToken(t, TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject: "dispatcher-7",
		}})},
		{"no subject", signToken(t, TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}})},
		{"garbage", "not.a.jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			h.Set("Authorization", "Bearer "+tc.token)
			_, err := v.Authenticate(ctx, h)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestTokenLifetimeCeiling(t *testing.T) {
	_, km, _ := newTestValidator(t)
	v := NewValidator(km, config.AuthConfig{
		TokenSecret:  tokenSecret,
		EnableBearer: true,
		TokenExpiry:  time.Minute,
	}, logger.NewWithWriter(discard{}, false))
	ctx := context.Background()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+signToken(t, TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "dispatcher-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}))
	_, err := v.Authenticate(ctx, h)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	h.Set("Authorization", "Bearer "+signToken(t, TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "dispatcher-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(30 * time.Second)),
	}}))
	p, err := v.Authenticate(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "dispatcher-7", p.UserID)
}

func TestAuthenticateRejectsWrongSigningKey(t *testing.T) {
	v, _, _ := newTestValidator(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dispatcher-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	_, err = v.Authenticate(context.Background(), h)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateNoCredential(t *testing.T) {
	v, _, _ := newTestValidator(t)
	_, err := v.Authenticate(context.Background(), http.Header{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAPIKeyTakesPrecedenceOverBearer(t *testing.T) {
	v, km, _ := newTestValidator(t)
	created := issueKey(t, km, "fleet:read")

	h := http.Header{}
	h.Set("X-API-Key", created.Secret)
	h.Set("Authorization", "Bearer garbage")
	p, err := v.Authenticate(context.Background(), h)
	require.NoError(t, err)
	assert.NotNil(t, p.Key)
}

func TestDisabledSchemesAreIgnored(t *testing.T) {
	mem := store.NewMemoryStore()
	log := logger.NewWithWriter(discard{}, false)
	km := keys.NewManager(mem, log, nil)
	created := issueKey(t, km, "fleet:read")

	v := NewValidator(km, config.AuthConfig{EnableBearer: true, TokenSecret: tokenSecret}, log)
	h := http.Header{}
	h.Set("X-API-Key", created.Secret)
	_, err := v.Authenticate(context.Background(), h)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthorize(t *testing.T) {
	v, _, _ := newTestValidator(t)

	keyed := &model.Principal{Key: &model.APIKey{
		ID:          "ak_1",
		Permissions: []string{"fleet:read"},
	}}
	assert.NoError(t, v.Authorize(keyed, "fleet:read"))
	assert.ErrorIs(t, v.Authorize(keyed, "fleet:dispatch"), ErrForbidden)
	assert.NoError(t, v.Authorize(keyed, ""), "empty requirement admits any caller")

	wildcard := &model.Principal{Key: &model.APIKey{
		ID:          "ak_2",
		Permissions: []string{"*"},
	}}
	assert.NoError(t, v.Authorize(wildcard, "fleet:dispatch"))

	token := &model.Principal{UserID: "u1", Permissions: []string{"fleet:read"}}
	assert.NoError(t, v.Authorize(token, "fleet:read"))
	assert.ErrorIs(t, v.Authorize(token, "fleet:dispatch"), ErrForbidden)
}
