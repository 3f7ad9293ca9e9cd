package auth

import "net/http"

// Dev-only identity headers, honoured when AUTH_DEV_BYPASS=true.
const (
	HeaderDevUser   = "X-Dev-User"
	HeaderDevUserID = "X-Dev-User-Id"
	HeaderDevOrg    = "X-Dev-Org"
)

// devUserFromHeaders mirrors the identity an AppLink context would carry, so
// org guards and per-org rate limits can be exercised locally.
func devUserFromHeaders(r *http.Request) User {
	name := r.Header.Get(HeaderDevUser)
	if name == "" {
		return User{}
	}
	return User{
		Username:             name,
		UserID:               r.Header.Get(HeaderDevUserID),
		OrgID:                r.Header.Get(HeaderDevOrg),
		AuthenticationSource: AuthenticationSource{Provider: ProviderDev},
	}
}
