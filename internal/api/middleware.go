package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guardline/dlp-mon/internal/auth"
	"github.com/guardline/dlp-mon/internal/metrics"
	"github.com/guardline/dlp-mon/pkg/types"
)

type contextKey string

const machineContextKey contextKey = "machine"

// maxSignedBodyBytes bounds how much request body the middleware will
// buffer for signature verification.
const maxSignedBodyBytes = 1 << 20

// MachineStore resolves machines during request authentication.
type MachineStore interface {
	GetMachineByKeyPrefix(ctx context.Context, prefix string) (*types.Machine, error)
}

// machineFromContext returns the authenticated machine set by the auth
// middleware, or nil for unauthenticated handlers.
func machineFromContext(ctx context.Context) *types.Machine {
	machine, _ := ctx.Value(machineContextKey).(*types.Machine)
	return machine
}

// AgentAuthMiddleware validates the API key, request signature and
// timestamp on agent calls. Every failure mode returns the same 401 so
// callers cannot probe which check rejected them.
func (s *Server) AgentAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			s.rejectUnauthorized(w, r, "missing bearer token")
			return
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")
		if len(apiKey) < types.APIKeyPrefixLen {
			s.rejectUnauthorized(w, r, "malformed api key")
			return
		}

		machine, err := s.machines.GetMachineByKeyPrefix(r.Context(), apiKey[:types.APIKeyPrefixLen])
		if err != nil {
			s.logger.Error("auth machine lookup", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if machine == nil {
			// Burn a hash comparison so unknown prefixes cost the same
			// as a wrong key for a known prefix.
			auth.BurnVerification(apiKey)
			s.rejectUnauthorized(w, r, "unknown api key")
			return
		}
		if !auth.VerifyAPIKey(apiKey, machine.APIKeyHash) {
			s.rejectUnauthorized(w, r, "api key mismatch")
			return
		}

		secret, err := s.sealer.Open(machine.HMACSecretSealed)
		if err != nil {
			s.logger.Error("unsealing hmac secret", "machine_id", machine.ID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		timestamp := r.Header.Get("X-Timestamp")
		if err := auth.CheckTimestamp(timestamp, time.Now()); err != nil {
			s.rejectUnauthorized(w, r, "stale timestamp")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "reading request body")
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		signature := r.Header.Get("X-Signature")
		if !auth.VerifySignature(secret, timestamp, r.Method, r.URL.Path, body, signature) {
			s.rejectUnauthorized(w, r, "signature mismatch")
			return
		}

		ctx := context.WithValue(r.Context(), machineContextKey, machine)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) rejectUnauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	metrics.AuthFailures.Inc()
	s.logger.Warn("agent auth failed", "path", r.URL.Path, "reason", reason)
	s.writeError(w, http.StatusUnauthorized, "unauthorized")
}

// wrapHandler converts an http.HandlerFunc to use middleware.
func wrapHandler(h http.HandlerFunc, middleware func(http.Handler) http.Handler) http.HandlerFunc {
	return middleware(h).ServeHTTP
}
