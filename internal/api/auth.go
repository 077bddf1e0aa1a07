package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminTokenHeader carries the admin token when no bearer token is sent.
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth guards mutating endpoints (spawn, remove) with a shared token.
// An empty token disables the check, which is how local development and
// tests run.
type AdminAuth struct {
	token string
}

// NewAdminAuth returns an AdminAuth for token.
func NewAdminAuth(token string) *AdminAuth {
	return &AdminAuth{token: token}
}

// Enabled reports whether requests must present the token.
func (a *AdminAuth) Enabled() bool {
	return a != nil && a.token != ""
}

// Authorized reports whether r presents the admin token, either as
// "Authorization: Bearer <token>" or in AdminTokenHeader.
func (a *AdminAuth) Authorized(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	presented := r.Header.Get(AdminTokenHeader)
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		presented = strings.TrimPrefix(h, "Bearer ")
	}
	return presented != "" && secureEqual(presented, a.token)
}

// Middleware rejects unauthorized requests with 401.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Authorized(r) {
			RecordConnectionRejected("auth")
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			writeError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureEqual compares in constant time. Hashing first keeps the timing
// independent of the lengths too.
func secureEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
