package research

import (
	"strings"
	"testing"

	"callscan/internal/models"
	"callscan/internal/repository"
)

func TestBuildInputOrdersBySymbol(t *testing.T) {
	t.Parallel()

	members := []models.Equity{
		{ID: 2, Symbol: "ZETA", Name: "Zeta Corp"},
		{ID: 1, Symbol: "ACME", Name: "Acme Co"},
	}
	analyses := map[int64]models.TranscriptAnalysis{
		1: {OutputText: "Acme summary."},
		2: {OutputText: "Zeta summary."},
	}

	input := buildInput(members, analyses, "Q1", 2027, false)

	acme := strings.Index(input, "Acme Co (ACME)")
	zeta := strings.Index(input, "Zeta Corp (ZETA)")
	if acme == -1 || zeta == -1 {
		t.Fatalf("missing member sections:\n%s", input)
	}
	if acme > zeta {
		t.Fatal("members should be ordered by symbol")
	}
	if !strings.Contains(input, "Quarter: Q1 FY2027") {
		t.Fatal("missing quarter header")
	}
}

func TestBuildInputMissingMembers(t *testing.T) {
	t.Parallel()

	members := []models.Equity{
		{ID: 1, Symbol: "ACME"},
		{ID: 2, Symbol: "ZETA"},
	}
	analyses := map[int64]models.TranscriptAnalysis{
		1: {OutputText: "Acme summary."},
	}

	// Normal path marks the gap.
	input := buildInput(members, analyses, "Q1", 2027, false)
	if !strings.Contains(input, "(no analysis available)") {
		t.Fatal("expected missing-member marker")
	}

	// Force path omits missing members entirely.
	forced := buildInput(members, analyses, "Q1", 2027, true)
	if strings.Contains(forced, "ZETA") {
		t.Fatal("forced input should omit members without analyses")
	}
	if !strings.Contains(forced, "Acme summary.") {
		t.Fatal("forced input should keep present members")
	}
}

func TestGroupReadiness(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		members   int
		available int
		analyzed  int
		want      bool
	}{
		{name: "all done", members: 3, available: 3, analyzed: 3, want: true},
		{name: "missing transcript", members: 3, available: 2, analyzed: 2, want: false},
		{name: "missing analysis", members: 3, available: 3, analyzed: 2, want: false},
		{name: "empty group", members: 0, available: 0, analyzed: 0, want: false},
	}
	for _, tc := range cases {
		g := repository.GroupReadiness{Members: tc.members, Available: tc.available, Analyzed: tc.analyzed}
		if got := g.Ready(); got != tc.want {
			t.Errorf("%s: Ready=%v want %v", tc.name, got, tc.want)
		}
	}
}
