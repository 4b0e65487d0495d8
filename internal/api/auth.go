package api

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// adminAuth guards mutating endpoints with an HMAC JWT. When no secret is
// configured the middleware rejects everything, so a misconfigured deployment
// fails closed.
type adminAuth struct {
	secret []byte
}

func newAdminAuthFromEnv() *adminAuth {
	return &adminAuth{secret: []byte(os.Getenv("ADMIN_JWT_SECRET"))}
}

func (a *adminAuth) verify(r *http.Request) error {
	if len(a.secret) == 0 {
		return fmt.Errorf("admin auth not configured")
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return fmt.Errorf("missing Authorization header")
	}
	tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid JWT: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid JWT")
	}
	return nil
}

func (a *adminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "OPTIONS" {
			next.ServeHTTP(w, r)
			return
		}

		if err := a.verify(r); err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
