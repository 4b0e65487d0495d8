package fetcher

import (
	"strings"
	"testing"
)

func TestAnalysisKeyStable(t *testing.T) {
	t.Parallel()

	a := AnalysisKey(42, "https://oracle.example/t/42.html", false)
	b := AnalysisKey(42, "https://oracle.example/t/42.html", false)
	if a != b {
		t.Fatal("unforced keys for the same transcript and url must match")
	}
	if len(a) != 64 || strings.ToLower(a) != a {
		t.Fatalf("key should be lowercase hex sha256, got %q", a)
	}
}

func TestAnalysisKeyDistinguishesInputs(t *testing.T) {
	t.Parallel()

	base := AnalysisKey(42, "https://oracle.example/t/42.html", false)

	if got := AnalysisKey(43, "https://oracle.example/t/42.html", false); got == base {
		t.Fatal("different transcript ids must not collide")
	}
	if got := AnalysisKey(42, "https://oracle.example/t/42-v2.html", false); got == base {
		t.Fatal("different urls must not collide")
	}
}

func TestAnalysisKeyForceIsUnique(t *testing.T) {
	t.Parallel()

	// Forced keys carry a timestamp so every manual trigger makes a new job.
	a := AnalysisKey(42, "https://oracle.example/t/42.html", true)
	b := AnalysisKey(42, "https://oracle.example/t/42.html", true)
	if a == b {
		t.Fatal("forced keys should differ between invocations")
	}
}
