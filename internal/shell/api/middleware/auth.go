// Package middleware provides HTTP middleware for the Deckhand API.
package middleware

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/opsline/deckhand/internal/core/trigger"
)

// =============================================================================
// Webhook Signature Verification
// =============================================================================

// WebhookConfig holds configuration for the webhook verifier.
type WebhookConfig struct {
	// Secret is the shared HMAC key. The verifier refuses every request
	// when it is empty; an unauthenticated deploy hook is worse than none.
	Secret []byte

	// MaxBodyBytes caps the payload size read into memory.
	// Default: 1 MiB.
	MaxBodyBytes int64

	Logger *slog.Logger
}

// WebhookVerifier checks the HMAC signature of incoming push payloads before
// the handler sees them. The raw body is restored for downstream reads.
type WebhookVerifier struct {
	config WebhookConfig
}

// NewWebhookVerifier creates a webhook verifier with the given config.
func NewWebhookVerifier(cfg WebhookConfig) *WebhookVerifier {
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebhookVerifier{config: cfg}
}

// Handler returns the middleware handler function.
func (m *WebhookVerifier) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.config.Secret) == 0 {
			m.config.Logger.Warn("push hook rejected: no webhook secret configured",
				"remote_addr", r.RemoteAddr,
			)
			writeJSONError(w, http.StatusForbidden, "webhook secret not configured", "hook_disabled")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, m.config.MaxBodyBytes))
		if err != nil {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload too large", "payload_too_large")
			return
		}

		if err := trigger.VerifySignature(m.config.Secret, body, r.Header.Get(trigger.SignatureHeader)); err != nil {
			m.config.Logger.Warn("push hook rejected: bad signature",
				"remote_addr", r.RemoteAddr,
				"error", err,
			)
			writeJSONError(w, http.StatusUnauthorized, "signature verification failed", "signature_invalid")
			return
		}

		// Hand the verified bytes to the handler.
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Bearer Token Auth
// =============================================================================

// BearerAuth requires a static bearer token on every request. An empty token
// disables the check; whether that is acceptable is the caller's call (a
// daemon bound to localhost behind a reverse proxy commonly runs open).
func BearerAuth(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const scheme = "Bearer "
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, scheme) ||
				subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(auth, scheme)), []byte(token)) != 1 {
				logger.Warn("unauthorized API request",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
				)
				writeJSONError(w, http.StatusUnauthorized, "authentication required", "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// JSON Error Response
// =============================================================================

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: message, Code: code})
}
