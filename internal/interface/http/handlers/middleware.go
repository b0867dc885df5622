package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// AccountHeader carries the authenticated account id. Authentication happens
// at the gateway; this service trusts the header.
const AccountHeader = "X-Account-ID"

type contextKey string

const contextKeyAccount contextKey = "account_id"

// RequireAccount rejects requests without an account id and stores it in the
// request context. Browsers cannot set headers on EventSource and WebSocket
// handshakes, so the account_id query parameter is accepted as well.
func RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(AccountHeader))
		if id == "" {
			id = strings.TrimSpace(r.URL.Query().Get("account_id"))
		}
		account := shared.AccountID(id)
		if !account.IsValid() {
			writeRawError(w, http.StatusUnauthorized, "missing_account", "X-Account-ID header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

func writeRawError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"success":false,"error":{"code":%q,"message":%q}}`, code, message)
}

// WithAccount stores the account id in ctx.
func WithAccount(ctx context.Context, account shared.AccountID) context.Context {
	return context.WithValue(ctx, contextKeyAccount, account)
}

// AccountFromContext returns the account id stored by RequireAccount.
func AccountFromContext(ctx context.Context) (shared.AccountID, bool) {
	account, ok := ctx.Value(contextKeyAccount).(shared.AccountID)
	return account, ok && account.IsValid()
}

// ══════════════════════════════════════════════════════════════════════════════
// SECURITY HEADERS MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// SecurityHeadersMiddleware adds security-related headers.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST SIZE LIMIT MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RequestSizeLimitMiddleware limits the size of request bodies.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeRawError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// MiddlewareFunc is a function that wraps an http.Handler.
type MiddlewareFunc func(http.Handler) http.Handler

// Chain chains middleware so that the first one runs first.
func Chain(middlewares ...MiddlewareFunc) MiddlewareFunc {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
