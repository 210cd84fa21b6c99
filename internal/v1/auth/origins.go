package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
)

// AllowedOrigins is the parsed origin allow-list used both by the WebSocket
// upgrader and the CORS policy. Matching is exact on scheme and host.
type AllowedOrigins struct {
	origins []string
}

// ParseAllowedOrigins splits a comma-separated origin list. An empty value
// falls back to the provided defaults (local development).
func ParseAllowedOrigins(raw string, defaults []string) *AllowedOrigins {
	if raw == "" {
		logging.Warn(context.Background(), "ALLOWED_ORIGINS not set, using development defaults",
			zap.Strings("defaults", defaults))
		return &AllowedOrigins{origins: defaults}
	}

	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return &AllowedOrigins{origins: origins}
}

// List returns the configured origins.
func (a *AllowedOrigins) List() []string {
	return a.origins
}

// CheckOrigin implements the websocket upgrader callback. Requests without an
// Origin header are allowed; those come from non-browser clients and carry no
// CSRF risk over WebSocket.
func (a *AllowedOrigins) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(r.Context(), "rejecting malformed origin", zap.String("origin", origin))
		return false
	}

	for _, allowed := range a.origins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}

	logging.Warn(r.Context(), "origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowed", a.origins))
	return false
}
