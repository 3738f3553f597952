package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// TokenAuth guards the wallet API with a shared-token check. The wallet
// holds private key material, so a daemon bound to anything wider than
// loopback should set IDVAULT_API_TOKENS.
//
// When tokens are configured, every /api/v1/* request must carry one
// via "Authorization: Bearer <token>" or "X-API-Key: <token>".
// /health and /version stay public. With no tokens configured the
// middleware passes everything through.
type TokenAuth struct {
	tokens []string
}

// NewTokenAuth creates a token check over the configured token list.
// Blank entries are dropped; an empty list disables the check.
func NewTokenAuth(tokens []string) *TokenAuth {
	a := &TokenAuth{}
	for _, tok := range tokens {
		if tok = strings.TrimSpace(tok); tok != "" {
			a.tokens = append(a.tokens, tok)
		}
	}
	return a
}

// Enabled reports whether any token is configured.
func (a *TokenAuth) Enabled() bool { return len(a.tokens) > 0 }

// Middleware enforces the token check.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tok := requestToken(r)
		if tok == "" {
			respondUnauthorized(w, "token required: set Authorization: Bearer <token> or X-API-Key")
			return
		}
		if !a.validate(tok) {
			respondUnauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validate compares in constant time against every configured token.
func (a *TokenAuth) validate(candidate string) bool {
	ok := false
	for _, tok := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(tok)) == 1 {
			ok = true
		}
	}
	return ok
}

func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func isPublicPath(path string) bool {
	return path == "/health" || path == "/version"
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="idvault"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
