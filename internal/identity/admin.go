// SPDX-License-Identifier: MIT

package identity

import (
	"crypto/subtle"
	"net/http"

	"github.com/ManuGH/lowroll/internal/apperr"
)

// AdminHeader carries the shared admin secret.
const AdminHeader = "X-Admin-Token"

// AdminConfig controls how admin routes are protected.
type AdminConfig struct {
	Mode  string // token|role|hybrid|open|disabled
	Token string
}

// AuthorizeAdmin decides whether the request may use admin routes requiring
// the given role. Token-mode callers are treated as owners.
func AuthorizeAdmin(cfg AdminConfig, r *http.Request, id Identity, need Role) error {
	switch cfg.Mode {
	case "disabled":
		return apperr.E(apperr.KindForbidden, "admin access is disabled")
	case "open":
		return nil
	case "token":
		if authorizeSharedSecret(r, cfg.Token) {
			return nil
		}
		return apperr.E(apperr.KindForbidden, "admin token required")
	case "role":
		if id.HasRole(need) {
			return nil
		}
		return apperr.E(apperr.KindForbidden, "insufficient role")
	case "hybrid":
		if authorizeSharedSecret(r, cfg.Token) || id.HasRole(need) {
			return nil
		}
		return apperr.E(apperr.KindForbidden, "admin token or role required")
	default:
		return apperr.Ef(apperr.KindInternal, "unknown admin access mode %q", cfg.Mode)
	}
}

// authorizeSharedSecret compares the admin header in constant time. Empty
// expected tokens never authorize.
func authorizeSharedSecret(r *http.Request, expected string) bool {
	if expected == "" {
		return false
	}
	got := r.Header.Get(AdminHeader)
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
