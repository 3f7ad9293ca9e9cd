package core

import (
	"net/http"

	manifest "github.com/joeydtaylor/steeze-applink/pkg/manifest"
	"github.com/joeydtaylor/steeze-applink/pkg/middleware/auth"
)

func withGuard(next http.HandlerFunc, a *auth.Middleware, g manifest.Guard) http.HandlerFunc {
	if !g.RequireAuth && len(g.Users) == 0 && len(g.Orgs) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Without auth middleware nobody can satisfy a guard
		if a == nil || !a.IsAuthenticated(r.Context()) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if len(g.Users) > 0 && !a.IsUser(r.Context(), g.Users...) {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		if len(g.Orgs) > 0 && !a.InOrg(r.Context(), g.Orgs...) {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next(w, r)
	}
}
