package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docrag-go/internal/logging"
)

// bearerAuth guards the /api/* session routes with static Bearer tokens.
// Several comma-separated keys may be configured so a key can be rotated
// without downtime.
type bearerAuth struct {
	keys [][]byte
	// reject, when set, is told the reason of every rejected request.
	reject func(reason string)
}

// newBearerAuth parses the comma-separated key list. An empty list disables
// authentication.
func newBearerAuth(apiKeys string, reject func(reason string)) *bearerAuth {
	a := &bearerAuth{reject: reject}
	for _, k := range strings.Split(apiKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

// enabled reports whether any key is configured.
func (a *bearerAuth) enabled() bool { return len(a.keys) > 0 }

// valid compares token against every key in constant time.
func (a *bearerAuth) valid(token string) bool {
	ok := 0
	for _, k := range a.keys {
		ok |= subtle.ConstantTimeCompare([]byte(token), k)
	}
	return ok == 1
}

// wrap returns next guarded by the configured keys, or next itself when
// authentication is disabled. Token values are never logged.
func (a *bearerAuth) wrap(next http.Handler) http.Handler {
	if !a.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		reason := ""
		switch {
		case token == "":
			reason = "missing_token"
			w.Header().Set("WWW-Authenticate", `Bearer realm="docrag"`)
		case !a.valid(token):
			reason = "invalid_token"
			w.Header().Set("WWW-Authenticate", `Bearer realm="docrag" error="invalid_token"`)
		default:
			next.ServeHTTP(w, r)
			return
		}

		logging.FromContext(r.Context()).Warn("auth: request rejected",
			slog.String("reason", reason),
			slog.String("session", r.PathValue("id")),
		)
		if a.reject != nil {
			a.reject(reason)
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

// bearerToken extracts the token of an "Authorization: Bearer <token>"
// header, or "" when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
