// Package handlers contains HTTP middleware, the JSON envelope and health checks.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/pkg/logger"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// ContextKeyUserID is the context key for the learner id.
	ContextKeyUserID ContextKey = "user_id"
	// ContextKeyRequestID is the context key for the request id.
	ContextKeyRequestID ContextKey = "request_id"
)

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST ID / LOGGING / RECOVERY
// ══════════════════════════════════════════════════════════════════════════════

// RequestID adds a request id to the context and response. A client supplied
// id is kept so traces can be joined across services.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), ContextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom returns the request id, or "" outside the middleware.
func RequestIDFrom(r *http.Request) string {
	if r == nil {
		return ""
	}
	id, _ := r.Context().Value(ContextKeyRequestID).(string)
	return id
}

// Logging logs every request and attaches a request scoped logger to the context.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := log.WithRequestID(RequestIDFrom(r))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), reqLog)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []logger.Field{
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", status),
				logger.Latency(time.Since(start)),
				logger.String("ip", r.RemoteAddr),
			}
			if uid := UserIDFrom(r.Context()); uid != "" {
				fields = append(fields, logger.UserID(uid))
			}
			if status >= http.StatusInternalServerError {
				reqLog.Warn("http request", fields...)
				return
			}
			reqLog.Info("http request", fields...)
		})
	}
}

// Recovery recovers from panics and returns 500.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic recovered",
						logger.Any("panic", rec),
						logger.String("stack", string(debug.Stack())),
						logger.String("path", r.URL.Path),
						logger.String("request_id", RequestIDFrom(r)),
					)
					WriteError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

// IdentityConfig selects how the learner id is extracted.
type IdentityConfig struct {
	// JWTSecret enables HS256 bearer tokens; the subject is the user id.
	JWTSecret string
	// JWTIssuer is checked when non-empty.
	JWTIssuer string
	// UserHeader is trusted when JWTSecret is empty.
	UserHeader string
}

// ErrMissingIdentity is returned when a request carries no usable identity.
var ErrMissingIdentity = shared.NewDomainError("auth", "Identify", shared.ErrUnauthorized, "missing or invalid identity")

// Identity resolves the learner id and stores it in the context.
// Authentication is owned by the caller's identity provider; this only
// verifies the token signature and reads the subject.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	if cfg.UserHeader == "" {
		cfg.UserHeader = "X-User-ID"
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	parser := jwt.NewParser(opts...)
	secret := []byte(cfg.JWTSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var raw string
			if len(secret) > 0 {
				sub, err := subjectFromBearer(parser, secret, r.Header.Get("Authorization"))
				if err != nil {
					WriteDomainError(w, r, shared.Detail(ErrMissingIdentity, "%v", err))
					return
				}
				raw = sub
			} else {
				raw = r.Header.Get(cfg.UserHeader)
			}

			uid, err := shared.NewUserID(raw)
			if err != nil {
				WriteDomainError(w, r, ErrMissingIdentity)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyUserID, uid.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func subjectFromBearer(parser *jwt.Parser, secret []byte, header string) (string, error) {
	tok, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tok == "" {
		return "", errors.New("bearer token required")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := parser.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("token rejected: %w", err)
	}
	return claims.Subject, nil
}

// UserIDFrom returns the learner id stored by Identity.
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyUserID).(string)
	return id
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN API KEY
// ══════════════════════════════════════════════════════════════════════════════

// AdminKeyHeader carries the admin API key.
const AdminKeyHeader = "X-API-Key"

// AdminKeyAuth checks admin API keys against bcrypt hashes.
type AdminKeyAuth struct {
	hashes [][]byte
}

// NewAdminKeyAuth creates an authenticator. Empty hashes are skipped.
func NewAdminKeyAuth(hashes []string) *AdminKeyAuth {
	a := &AdminKeyAuth{}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			a.hashes = append(a.hashes, []byte(h))
		}
	}
	return a
}

// IsValid reports whether key matches any configured hash.
func (a *AdminKeyAuth) IsValid(key string) bool {
	if key == "" {
		return false
	}
	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return true
		}
	}
	return false
}

// Middleware rejects requests without a valid admin key.
func (a *AdminKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.hashes) == 0 {
			WriteError(w, r, http.StatusForbidden, "admin_disabled", "Admin access is not configured")
			return
		}
		key := r.Header.Get(AdminKeyHeader)
		if key == "" {
			WriteError(w, r, http.StatusUnauthorized, "missing_api_key", "API key is required")
			return
		}
		if !a.IsValid(key) {
			WriteError(w, r, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMIT
// ══════════════════════════════════════════════════════════════════════════════

// Limiter is a fixed window counter, implemented by redis.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, identifier, action string) (bool, error)
}

// RateLimit throttles an action per learner. Limiter failures let the request
// through; losing the limiter must not stop progress tracking.
func RateLimit(limiter Limiter, action string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := UserIDFrom(r.Context())
			if id == "" {
				id = r.RemoteAddr
			}
			ok, err := limiter.Allow(r.Context(), id, action)
			if err != nil {
				log.Warn("rate limiter unavailable", logger.Operation(action), logger.Err(err))
				ok = true
			}
			if !ok {
				w.Header().Set("Retry-After", "60")
				WriteError(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TIMEOUT / SECURITY HEADERS / BODY LIMIT
// ══════════════════════════════════════════════════════════════════════════════

// TimeoutMiddleware bounds the request context. Handlers observe the deadline
// through the store calls they make.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SecurityHeadersMiddleware adds security-related headers.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// RequestSizeLimitMiddleware limits the size of request bodies.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
