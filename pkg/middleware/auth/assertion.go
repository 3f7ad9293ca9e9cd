package auth

import (
	"errors"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

type assertionClaims struct {
	jwt.RegisteredClaims
	UID string `json:"uid"`
	Org string `json:"org"`
}

func (m *Middleware) validateAssertion(raw string) (User, error) {
	pub := m.getKey()
	if pub == nil {
		return User{}, errors.New("assertion key not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.assertLeeway),
	}
	if m.assertIssuer != "" {
		opts = append(opts, jwt.WithIssuer(m.assertIssuer))
	}

	var claims assertionClaims
	tok, err := jwt.NewParser(opts...).ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return pub, nil
	})
	if err != nil || !tok.Valid {
		return User{}, errors.New("invalid assertion")
	}

	if m.assertAudience != "" && !slices.Contains(claims.Audience, m.assertAudience) {
		return User{}, errors.New("bad audience")
	}

	username := claims.UID
	if username == "" {
		username = claims.Subject
	}
	if username == "" {
		return User{}, errors.New("missing uid")
	}

	return User{
		Username:             username,
		OrgID:                claims.Org,
		AuthenticationSource: AuthenticationSource{Provider: ProviderAssertion},
	}, nil
}
