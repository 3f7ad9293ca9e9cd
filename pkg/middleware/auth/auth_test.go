package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&k.PublicKey)
	require.NoError(t, err)
	return k, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func sign(t *testing.T, k *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(k)
	require.NoError(t, err)
	return s
}

// resolved runs the middleware and returns the user the next handler saw.
func resolved(m *Middleware, r *http.Request) User {
	var got User
	m.Middleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = UserFromContext(r.Context())
	})).ServeHTTP(httptest.NewRecorder(), r)
	return got
}

func TestAppLinkContextIdentity(t *testing.T) {
	m, err := New(Config{}, nil)
	require.NoError(t, err)

	cc := `{"accessToken":"tok","apiVersion":"62.0","orgId":"00Dxx","orgDomainUrl":"https://x.my.salesforce.com",
		"userContext":{"userId":"005xx","username":"admin@heroku.com"}}`
	r := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	r.Header.Set("x-client-context", base64.StdEncoding.EncodeToString([]byte(cc)))

	u := resolved(m, r)
	assert.Equal(t, "admin@heroku.com", u.Username)
	assert.Equal(t, "00Dxx", u.OrgID)
	assert.Equal(t, ProviderAppLink, u.AuthenticationSource.Provider)

	r.Header.Set("x-client-context", "garbage")
	assert.Equal(t, User{}, resolved(m, r))
}

func TestDevBypass(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Dev-User", "dev@example.com")
	r.Header.Set("X-Dev-Org", "00Ddev")
	r.Header.Set(HeaderDevUserID, "005dev")

	off, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.Empty(t, resolved(off, r).Username)

	on, err := New(Config{DevBypass: true}, nil)
	require.NoError(t, err)
	u := resolved(on, r)
	assert.Equal(t, "dev@example.com", u.Username)
	assert.Equal(t, "00Ddev", u.OrgID)
	assert.Equal(t, "005dev", u.UserID)
	assert.Equal(t, ProviderDev, u.AuthenticationSource.Provider)
	assert.True(t, on.IsAuthenticated(WithUser(r.Context(), u)))
	assert.True(t, on.InOrg(WithUser(r.Context(), u), "00Dother", "00Ddev"))
}

func TestAssertion(t *testing.T) {
	k, pub := newKey(t)
	m, err := New(Config{PublicKeyPEM: pub, Issuer: "https://issuer", Audience: "applink", Leeway: time.Second}, nil)
	require.NoError(t, err)

	good := sign(t, k, jwt.MapClaims{
		"iss": "https://issuer", "aud": "applink", "uid": "svc@example.com", "org": "00Dsvc",
		"iat": time.Now().Unix(), "exp": time.Now().Add(time.Minute).Unix(),
	})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+good)
	u := resolved(m, r)
	assert.Equal(t, "svc@example.com", u.Username)
	assert.Equal(t, "00Dsvc", u.OrgID)
	assert.Equal(t, ProviderAssertion, u.AuthenticationSource.Provider)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "assert", Value: good})
	assert.Equal(t, "svc@example.com", resolved(m, r).Username)

	for name, claims := range map[string]jwt.MapClaims{
		"audience": {"iss": "https://issuer", "aud": "other", "uid": "x", "exp": time.Now().Add(time.Minute).Unix()},
		"issuer":   {"iss": "https://evil", "aud": "applink", "uid": "x", "exp": time.Now().Add(time.Minute).Unix()},
		"expired":  {"iss": "https://issuer", "aud": "applink", "uid": "x", "exp": time.Now().Add(-time.Hour).Unix()},
		"no uid":   {"iss": "https://issuer", "aud": "applink", "exp": time.Now().Add(time.Minute).Unix()},
	} {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Authorization", "Bearer "+sign(t, k, claims))
			assert.Empty(t, resolved(m, r).Username)
		})
	}
}

func TestJWKSRefresh(t *testing.T) {
	k, _ := newKey(t)
	n := base64.RawURLEncoding.EncodeToString(k.PublicKey.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.PublicKey.E)).Bytes())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=120")
		_, _ = w.Write([]byte(`{"keys":[{"kty":"EC","kid":"ec"},{"kty":"RSA","kid":"k1","use":"sig","alg":"RS256","n":"` + n + `","e":"` + e + `"}]}`))
	}))
	defer srv.Close()

	m, err := New(Config{KeyURL: srv.URL, KeyID: "k1", HTTPClient: srv.Client()}, nil)
	require.NoError(t, err)
	require.NoError(t, m.refreshAssertionKey(t.Context()))
	require.NotNil(t, m.getKey())
	assert.Equal(t, 0, m.getKey().N.Cmp(k.PublicKey.N))
	assert.Equal(t, 120*time.Second, m.getCacheTTL())

	_, err = selectJWK([]byte(`{"keys":[]}`), "")
	assert.Error(t, err)
}
