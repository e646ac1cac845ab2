package auth

import (
	"net/http"
	"strings"
)

// Policy determines required roles by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves required role for the request.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	method := r.Method
	readOnly := method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions

	switch {
	case path == "/api/v1/equipment":
		if readOnly {
			return RoleViewer, true
		}
		return RoleAdmin, true
	case strings.HasPrefix(path, "/api/v1/equipment/"):
		switch {
		case readOnly:
			return RoleViewer, true
		case method == http.MethodDelete:
			return RoleAdmin, true
		case strings.HasSuffix(path, "/thresholds"), strings.HasSuffix(path, "/points"):
			return RoleOperator, true
		}
		return RoleAdmin, true
	case path == "/api/v1/alarms", path == "/api/v1/alarms/stream":
		return RoleViewer, true
	case strings.HasPrefix(path, "/api/v1/reports/"):
		return RoleViewer, true
	}

	if strings.HasPrefix(path, "/api/") {
		if readOnly {
			return RoleViewer, true
		}
		return RoleOperator, true
	}
	return "", false
}
