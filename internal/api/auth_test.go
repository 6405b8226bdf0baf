package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clinicrooms/internal/config"
	"clinicrooms/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEnsurer struct {
	calls []string
	err   error
}

func (s *stubEnsurer) EnsureUser(_ context.Context, id, email, name string) (*models.User, error) {
	s.calls = append(s.calls, id+"|"+email+"|"+name)
	if s.err != nil {
		return nil, s.err
	}
	return &models.User{ID: id, Email: email, Name: name}, nil
}

func signToken(t *testing.T, secret string, claims UserClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func serveUserAuth(auth *UserAuth, token string) (*httptest.ResponseRecorder, *Principal) {
	var got *Principal
	h := auth.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if ok {
			got = &p
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got
}

func TestUserAuth(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "https://id.clinic.test"}
	valid := UserClaims{
		Email: "ana@clinic.test",
		Name:  "Ana",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "https://id.clinic.test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	t.Run("Valid", func(t *testing.T) {
		users := &stubEnsurer{}
		rec, p := serveUserAuth(NewUserAuth(cfg, users, zerolog.Nop()), signToken(t, "secret", valid))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, p)
		assert.Equal(t, "user-1", p.UserID)
		assert.False(t, p.Admin)
		assert.Equal(t, []string{"user-1|ana@clinic.test|Ana"}, users.calls)
	})

	t.Run("Admin role", func(t *testing.T) {
		c := valid
		c.Role = roleAdmin
		_, p := serveUserAuth(NewUserAuth(cfg, nil, zerolog.Nop()), signToken(t, "secret", c))
		require.NotNil(t, p)
		assert.True(t, p.Admin)
	})

	t.Run("Missing header", func(t *testing.T) {
		rec, _ := serveUserAuth(NewUserAuth(cfg, nil, zerolog.Nop()), "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		rec, _ := serveUserAuth(NewUserAuth(cfg, nil, zerolog.Nop()), signToken(t, "other", valid))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Expired", func(t *testing.T) {
		c := valid
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		rec, _ := serveUserAuth(NewUserAuth(cfg, nil, zerolog.Nop()), signToken(t, "secret", c))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Wrong issuer", func(t *testing.T) {
		c := valid
		c.Issuer = "https://evil.test"
		rec, _ := serveUserAuth(NewUserAuth(cfg, nil, zerolog.Nop()), signToken(t, "secret", c))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("No subject", func(t *testing.T) {
		c := valid
		c.Subject = ""
		rec, _ := serveUserAuth(NewUserAuth(cfg, nil, zerolog.Nop()), signToken(t, "secret", c))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Unsigned token", func(t *testing.T) {
		none, err := jwt.NewWithClaims(jwt.SigningMethodNone, valid).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		rec, _ := serveUserAuth(NewUserAuth(cfg, nil, zerolog.Nop()), none)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Store failure", func(t *testing.T) {
		users := &stubEnsurer{err: errors.New("db down")}
		rec, p := serveUserAuth(NewUserAuth(cfg, users, zerolog.Nop()), signToken(t, "secret", valid))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Nil(t, p)
	})
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "k1", Extra: "e1", Permissions: []string{permReconcile}},
				{Key: "k2", Extra: "e2"},
			},
		},
	}
	auth := NewAPIKeyAuth(cfg)
	h := auth.Require(permCancelBooking)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(key, extra string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if key != "" {
			req.Header.Set("x-api-key", key)
		}
		if extra != "" {
			req.Header.Set("x-api-extra", extra)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call("", ""))
	assert.Equal(t, http.StatusUnauthorized, call("k1", ""))
	assert.Equal(t, http.StatusUnauthorized, call("nope", "e1"))
	assert.Equal(t, http.StatusUnauthorized, call("k1", "e2"))
	assert.Equal(t, http.StatusForbidden, call("k1", "e1"))
	assert.Equal(t, http.StatusNoContent, call("k2", "e2"), "empty permissions allow all")
}

func TestAPIKeyAuthDisabledStillLimits(t *testing.T) {
	auth := NewAPIKeyAuth(config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2}})
	h := auth.Require(permReconcile)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterPerKey(t *testing.T) {
	l := newRateLimiter(config.APIRateLimitConfig{RPS: 0.001, Burst: 1})
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))

	off := newRateLimiter(config.APIRateLimitConfig{})
	for i := 0; i < 10; i++ {
		assert.True(t, off.allow("a"))
	}
}
