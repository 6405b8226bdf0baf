package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"clinicrooms/internal/config"
	"clinicrooms/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	permReconcile         = "admin:reconcile"
	permCancelBooking     = "admin:cancel"
	clientKeyUnknown      = "unknown"
	roleAdmin             = "admin"
)

var (
	errMissingAPIKey     = errors.New("missing api key headers")
	errInvalidAPIKey     = errors.New("invalid api key")
	errInvalidExtra      = errors.New("invalid extra header")
	errPermissionDenied  = errors.New("permission denied")
	errMissingBearer     = errors.New("missing bearer token")
	errInvalidToken      = errors.New("invalid token")
	errRateLimitExceeded = errors.New("rate limit exceeded")
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller of a user endpoint.
type Principal struct {
	UserID string
	Email  string
	Name   string
	Admin  bool
}

// PrincipalFromContext returns the caller set by the JWT middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// UserClaims is the token body issued by the identity provider.
type UserClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserEnsurer registers token subjects on first sight.
type UserEnsurer interface {
	EnsureUser(ctx context.Context, id, email, name string) (*models.User, error)
}

// UserAuth verifies HMAC-signed bearer tokens. The subject is the user id.
type UserAuth struct {
	cfg    config.JWTConfig
	users  UserEnsurer
	logger zerolog.Logger
}

func NewUserAuth(cfg config.JWTConfig, users UserEnsurer, logger zerolog.Logger) *UserAuth {
	return &UserAuth{cfg: cfg, users: users, logger: logger}
}

func (a *UserAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.parse(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		if a.users != nil {
			if _, err := a.users.EnsureUser(r.Context(), claims.Subject, claims.Email, claims.Name); err != nil {
				a.logger.Error().Err(err).Str("user_id", claims.Subject).Msg("Ensure user failed")
				writeServiceError(w, err)
				return
			}
		}

		p := Principal{
			UserID: claims.Subject,
			Email:  claims.Email,
			Name:   claims.Name,
			Admin:  claims.Role == roleAdmin,
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

func (a *UserAuth) parse(r *http.Request) (*UserClaims, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil, errMissingBearer
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if raw == "" || a.cfg.Secret == "" {
		return nil, errMissingBearer
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}

	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return []byte(a.cfg.Secret), nil
	}, opts...)
	if err != nil || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}

// APIKeyAuth guards admin endpoints with an api key pair and a per-key rate limit.
type APIKeyAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func NewAPIKeyAuth(cfg config.APIConfig) *APIKeyAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &APIKeyAuth{cfg: cfg, clients: m, limiter: newRateLimiter(cfg.RateLimit)}
}

// Require returns middleware that checks the key and the given permission.
func (a *APIKeyAuth) Require(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.cfg.Auth.Enabled {
				if err := a.checkAuth(r, permission); err != nil {
					status := http.StatusUnauthorized
					if errors.Is(err, errPermissionDenied) {
						status = http.StatusForbidden
					}
					writeError(w, status, err.Error())
					return
				}
			}

			if !a.limiter.allow(a.clientKey(r)) {
				writeError(w, http.StatusTooManyRequests, errRateLimitExceeded.Error())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (a *APIKeyAuth) checkAuth(r *http.Request, permission string) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.header(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault)))
	extra := strings.TrimSpace(r.Header.Get(a.header(a.cfg.Auth.HeaderExtra, apiExtraHeaderDefault)))
	if apiKey == "" || extra == "" {
		return errMissingAPIKey
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return errInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errInvalidExtra
	}
	return checkPermissions(client, permission)
}

func checkPermissions(client config.APIClientKey, required string) error {
	if required == "" {
		return nil
	}
	// If permissions list is empty, treat as allow-all.
	if len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func (a *APIKeyAuth) header(configured, fallback string) string {
	h := strings.TrimSpace(strings.ToLower(configured))
	if h == "" {
		return fallback
	}
	return h
}

func (a *APIKeyAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.header(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault))); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
