package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret []byte) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func TestAdminAuthVerify(t *testing.T) {
	secret := []byte("test-secret")
	auth := &adminAuth{secret: secret}

	tests := []struct {
		name    string
		header  string
		wantErr bool
	}{
		{name: "valid token", header: "Bearer " + signToken(t, secret)},
		{name: "missing header", header: "", wantErr: true},
		{name: "garbage token", header: "Bearer not.a.jwt", wantErr: true},
		{name: "wrong secret", header: "Bearer " + signToken(t, []byte("other")), wantErr: true},
	}

	for _, tc := range tests {
		r := httptest.NewRequest("POST", "/scheduler/trigger", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		err := auth.verify(r)
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestAdminAuthFailsClosedWithoutSecret(t *testing.T) {
	auth := &adminAuth{}
	r := httptest.NewRequest("POST", "/scheduler/trigger", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, []byte("anything")))
	if err := auth.verify(r); err == nil {
		t.Fatal("expected error when no secret is configured")
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	auth := &adminAuth{secret: secret}

	var called bool
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	// Unauthorized request never reaches the handler.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if called {
		t.Fatal("handler called without auth")
	}

	// Preflight passes through.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/x", nil))
	if !called {
		t.Fatal("OPTIONS request should bypass auth")
	}

	// Signed request passes.
	called = false
	req := httptest.NewRequest("POST", "/x", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !called {
		t.Fatalf("authorized request: status = %d, called = %v", rec.Code, called)
	}
}
