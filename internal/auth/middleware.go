package auth

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	streamPath       = "/api/v1/alarms/stream"
	streamTokenParam = "access_token"
)

// Middleware guards the fault detection API. Reads need a viewer token, threshold writes
// and pushed samples an operator token, equipment registration an admin token.
type Middleware struct {
	secret []byte
	policy Policy
	logger logrus.FieldLogger
}

// NewMiddleware returns nil for an empty secret; a nil Middleware lets every request
// through, which is how a bench deployment runs without tokens.
func NewMiddleware(secret []byte, policy Policy, logger logrus.FieldLogger) *Middleware {
	if len(secret) == 0 {
		return nil
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Middleware{secret: secret, policy: policy, logger: logger}
}

// Wrap puts the caller identity on the request context for audit entries.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, guarded := m.policy.RequiredRole(r)
		if !guarded {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(tokenFrom(r), m.secret)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ahu-fdd"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			m.logger.WithFields(logrus.Fields{
				"subject":  claims.Subject,
				"role":     role,
				"required": required,
				"path":     r.URL.Path,
			}).Warn("fdd api access denied")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), role, claims.Subject)))
	})
}

// tokenFrom reads the bearer token. Browser EventSource clients cannot set headers, so
// the alarm stream also accepts the token as a query parameter.
func tokenFrom(r *http.Request) string {
	if r == nil {
		return ""
	}
	if fields := strings.Fields(r.Header.Get("Authorization")); len(fields) == 2 && strings.EqualFold(fields[0], "Bearer") {
		return fields[1]
	}
	if r.URL.Path == streamPath {
		return r.URL.Query().Get(streamTokenParam)
	}
	return ""
}
