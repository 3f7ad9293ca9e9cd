package auth

import (
	"net/http"

	"github.com/joeydtaylor/steeze-applink/pkg/applink"
	"go.uber.org/zap"
)

// Middleware resolves the caller and stores it on the request context. It
// never rejects a request; route guards decide what an anonymous caller may
// reach.
func (m *Middleware) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u, ok := m.resolve(r); ok {
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) resolve(r *http.Request) (User, bool) {
	// Dev bypass for local testing (NEVER enable in prod)
	if m.devBypass {
		if u := devUserFromHeaders(r); u.Username != "" {
			return u, true
		}
	}

	// 1) AppLink context: the mesh authenticated the caller before forwarding.
	// A malformed header falls through; the route's context parsing rejects it.
	if raw := r.Header.Get(applink.HeaderClientContext); raw != "" {
		if cc, err := applink.ParseClientContext(raw); err == nil {
			name := cc.UserContext.Username
			if name == "" {
				name = cc.UserContext.UserID
			}
			return User{
				Username:             name,
				UserID:               cc.UserContext.UserID,
				OrgID:                cc.OrgID,
				AuthenticationSource: AuthenticationSource{Provider: ProviderAppLink},
			}, true
		}
	}

	// 2) Assertion as bearer token or cookie, validated locally
	if m.getKey() == nil {
		return User{}, false
	}
	raw := bearerToken(r)
	if raw == "" {
		if ac, _ := r.Cookie(m.assertCookieName); ac != nil {
			raw = ac.Value
		}
	}
	if raw == "" {
		return User{}, false
	}
	u, err := m.validateAssertion(raw)
	if err != nil {
		m.log.Debug("assertion rejected", zap.Error(err))
		return User{}, false
	}
	return u, true
}
