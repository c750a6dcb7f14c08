// Package auth authenticates API callers with HMAC-signed API keys.
//
// A key names the server secret it was signed under, so several secrets can
// be live during rotation. Only the HMAC digest of a key is stored. Each key
// belongs to one tenant; the tenant is placed on the request context and the
// API scopes stored rule set lookups to it.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/commissiontracker/underwriter/internal/metrics"
)

// HeaderName carries the API key on HTTP requests and, lowercased, in gRPC
// metadata.
const HeaderName = "X-API-Key"

const touchInterval = time.Minute

type contextKey string

const tenantIDKey = contextKey("tenant_id")

// APIKey is a stored key record. Hash is the HMAC digest of the key.
type APIKey struct {
	ID         string
	TenantID   string
	Name       string
	SecretID   string
	Hash       []byte
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// Revoked reports whether the key has been revoked.
func (k APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// KeyStore looks up keys by digest and records their use.
// FindAPIKeyByHash returns ErrKeyNotFound on a miss.
type KeyStore interface {
	FindAPIKeyByHash(ctx context.Context, hash []byte) (APIKey, error)
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// Authenticator validates API keys against the configured HMAC secrets.
type Authenticator struct {
	secrets map[string][]byte
	keys    KeyStore
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewAuthenticator creates an authenticator. secrets maps secret IDs to
// secret bytes.
func NewAuthenticator(secrets map[string][]byte, keys KeyStore, logger *zap.Logger, m *metrics.Metrics) (*Authenticator, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("at least one HMAC secret is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("key store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		secrets: secrets,
		keys:    keys,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Authenticate validates apiKey and returns the tenant it belongs to.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrMissingKey
	}
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownSecret
	}

	key, err := a.keys.FindAPIKeyByHash(ctx, ComputeHMAC(secret, apiKey))
	if errors.Is(err, ErrKeyNotFound) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	if key.Revoked() {
		return "", ErrKeyRevoked
	}

	// Throttled so busy keys do not write on every request.
	now := a.now()
	if key.LastUsedAt == nil || now.Sub(*key.LastUsedAt) > touchInterval {
		if err := a.keys.TouchAPIKey(ctx, key.ID, now); err != nil {
			a.logger.Warn("failed to record API key use", zap.String("api_key_id", key.ID), zap.Error(err))
		}
	}
	return key.TenantID, nil
}

// UnaryInterceptor authenticates every call except health checks.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}

		var apiKey string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(strings.ToLower(HeaderName)); len(vals) > 0 {
				apiKey = vals[0]
			}
		}

		tenantID, err := a.Authenticate(ctx, apiKey)
		if err != nil {
			a.fail("grpc", err)
			return nil, status.Error(grpcCode(err), err.Error())
		}
		return handler(WithTenantID(ctx, tenantID), req)
	}
}

// Middleware authenticates HTTP requests from the X-API-Key header.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := a.Authenticate(r.Context(), r.Header.Get(HeaderName))
		if err != nil {
			a.fail("http", err)
			code, name := httpStatus(err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             name,
				"error_description": err.Error(),
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tenantID)))
	})
}

func (a *Authenticator) fail(transport string, err error) {
	reason := failureReason(err)
	a.metrics.IncrementAuthFailure(transport, reason)
	if reason == "unavailable" {
		a.logger.Error("API key lookup failed", zap.String("transport", transport), zap.Error(err))
		return
	}
	a.logger.Debug("authentication failed", zap.String("transport", transport), zap.String("reason", reason))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingKey):
		return "missing"
	case errors.Is(err, ErrKeyRevoked):
		return "revoked"
	case errors.Is(err, ErrKeyStoreUnavailable):
		return "unavailable"
	default:
		return "invalid"
	}
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, ErrKeyRevoked):
		return codes.PermissionDenied
	case errors.Is(err, ErrKeyStoreUnavailable):
		return codes.Unavailable
	default:
		return codes.Unauthenticated
	}
}

func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrKeyRevoked):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrKeyStoreUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusUnauthorized, "unauthenticated"
	}
}

// WithTenantID returns ctx carrying an authenticated tenant.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantIDFromContext returns the authenticated tenant, or "" when the
// request was not authenticated.
func TenantIDFromContext(ctx context.Context) string {
	if tenantID, ok := ctx.Value(tenantIDKey).(string); ok {
		return tenantID
	}
	return ""
}
