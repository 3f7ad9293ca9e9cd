package auth

import (
	"encoding/base64"
	"net/http"
	"strings"
)

func b64url(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

func bytesToInt(b []byte) int {
	// little helper for RSA exponent
	n := 0
	for _, v := range b {
		n = n<<8 | int(v)
	}
	if n == 0 {
		return 65537
	}
	return n
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
