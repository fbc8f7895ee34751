package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// IngestAuthMiddleware validates the shared ingest token carried by
// gateway sample batches.
type IngestAuthMiddleware struct {
	Token string
}

// NewIngestAuthMiddleware constructs ingest auth middleware.
func NewIngestAuthMiddleware(token string) *IngestAuthMiddleware {
	return &IngestAuthMiddleware{Token: token}
}

// Wrap enforces the ingest token on the handler.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Token == "" {
			http.Error(w, "ingest auth not configured", http.StatusUnauthorized)
			return
		}
		presented := strings.TrimSpace(r.Header.Get("X-Ingest-Token"))
		if presented == "" {
			presented = extractBearer(r)
		}
		if presented == "" {
			http.Error(w, "missing ingest token", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(m.Token)) != 1 {
			http.Error(w, "invalid ingest token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
