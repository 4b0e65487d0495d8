package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		xreal  string
		remote string
		want   string
	}{
		{name: "forwarded chain", xff: "10.0.0.1, 10.0.0.2", remote: "127.0.0.1:1234", want: "10.0.0.1"},
		{name: "real ip fallback", xreal: "10.0.0.3", remote: "127.0.0.1:1234", want: "10.0.0.3"},
		{name: "remote addr", remote: "192.168.1.5:9999", want: "192.168.1.5"},
		{name: "remote without port", remote: "192.168.1.5", want: "192.168.1.5"},
	}

	for _, tc := range tests {
		r := httptest.NewRequest("GET", "/status", nil)
		r.RemoteAddr = tc.remote
		if tc.xff != "" {
			r.Header.Set("X-Forwarded-For", tc.xff)
		}
		if tc.xreal != "" {
			r.Header.Set("X-Real-IP", tc.xreal)
		}
		if got := clientIP(r); got != tc.want {
			t.Fatalf("%s: clientIP = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestIPLimiterAllow(t *testing.T) {
	l := &ipLimiter{
		entries: make(map[string]*ipLimiterEntry),
		rps:     rate.Limit(1),
		burst:   2,
		ttl:     time.Minute,
	}

	if !l.allow("10.0.0.1") || !l.allow("10.0.0.1") {
		t.Fatal("burst requests should be allowed")
	}
	if l.allow("10.0.0.1") {
		t.Fatal("third immediate request should be limited")
	}
	// Separate IPs get separate buckets.
	if !l.allow("10.0.0.2") {
		t.Fatal("different IP should have its own bucket")
	}
}
