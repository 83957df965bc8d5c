package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/s1natex/todo-fixture-api/internal/auth"
)

// TokenVerifier turns a bearer token into a subject. *auth.Verifier
// implements it; tests substitute fakes.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type AuthConfig struct {
	Verifier TokenVerifier
	Logger   *slog.Logger
}

type authErr struct {
	Error string `json:"error"`
}

// AuthMiddleware requires "Authorization: Bearer <token>" and stores the
// verified subject on the request context. Every failure gets the same 401;
// the reason is only logged.
func AuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub, err := cfg.Verifier.Verify(r.Context(), bearerToken(r))
			if err != nil {
				reason := auth.Reason(err)
				authDenials.WithLabelValues(reason).Inc()
				logger.WarnContext(r.Context(), "auth_denied",
					slog.String("reason", reason),
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
					slog.String("req_id", chimw.GetReqID(r.Context())),
				)
				unauthorized(w, `Bearer realm="tasks"`)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithSubject(r.Context(), sub)))
		})
	}
}

// bearerToken extracts the credential from the Authorization header. The
// scheme is matched case-insensitively.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthorized(w http.ResponseWriter, challenge string) {
	w.Header().Set("Content-Type", "application/json")
	if challenge != "" {
		w.Header().Set("WWW-Authenticate", challenge)
	}
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(authErr{Error: "unauthorized"})
}
