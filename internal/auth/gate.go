package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"travel-booking/internal/config"

	"github.com/VictoriaMetrics/metrics"
)

type ctxKey struct{}

var (
	gateAllowedCounter         = metrics.GetOrCreateCounter(`access_gate_total{result="allowed"}`)
	gateUnauthenticatedCounter = metrics.GetOrCreateCounter(`access_gate_total{result="unauthenticated"}`)
	gateForbiddenCounter       = metrics.GetOrCreateCounter(`access_gate_total{result="forbidden"}`)
)

type Gate struct {
	secret     string
	cookieName string
	signInPath string
	logger     *slog.Logger
}

func NewGate(cfg config.Auth, logger *slog.Logger) *Gate {
	return &Gate{
		secret:     cfg.Secret,
		cookieName: cfg.CookieName,
		signInPath: cfg.SignInPath,
		logger:     logger,
	}
}

// Protects reports whether path requires a session, and whether it
// additionally requires the admin role.
func (g *Gate) Protects(path string) (protected, adminOnly bool) {
	switch {
	case matchesTree(path, "/admin"):
		return true, true
	case path == "/payment-page", path == "/profile", matchesTree(path, "/dashboard"):
		return true, false
	default:
		return false, false
	}
}

func matchesTree(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}

// Middleware redirects unauthenticated requests for protected paths to the
// sign-in page and non-admin requests for admin paths to the home page.
// Allowed requests carry their claims in the context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		protected, adminOnly := g.Protects(r.URL.Path)
		if !protected {
			next.ServeHTTP(w, r)
			return
		}

		token := g.token(r)
		if token == "" {
			gateUnauthenticatedCounter.Inc()
			http.Redirect(w, r, g.signInPath, http.StatusTemporaryRedirect)
			return
		}

		claims, err := ParseToken(token, g.secret)
		if err != nil {
			g.logger.InfoContext(r.Context(), "Rejected session token", "path", r.URL.Path, "error", err)
			gateUnauthenticatedCounter.Inc()
			http.Redirect(w, r, g.signInPath, http.StatusTemporaryRedirect)
			return
		}

		if adminOnly && !claims.IsAdmin() {
			g.logger.InfoContext(r.Context(), "Non-admin access to admin path", "path", r.URL.Path, "subject", claims.Subject)
			gateForbiddenCounter.Inc()
			http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
			return
		}

		gateAllowedCounter.Inc()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
	})
}

func (g *Gate) token(r *http.Request) string {
	if cookie, err := r.Cookie(g.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(*Claims)
	return claims, ok
}
