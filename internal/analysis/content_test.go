package analysis

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestContentStorePathDeterministic(t *testing.T) {
	t.Parallel()

	store, err := NewContentStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewContentStore: %v", err)
	}

	a := store.Path(7, "https://oracle.example/t/7.html")
	b := store.Path(7, "https://oracle.example/t/7.html")
	if a != b {
		t.Fatal("path for the same transcript and url should be stable")
	}
	if c := store.Path(7, "https://oracle.example/t/7-v2.html"); c == a {
		t.Fatal("different urls should map to different files")
	}
	if !strings.HasSuffix(a, ".txt") {
		t.Fatalf("expected .txt suffix, got %q", a)
	}
}

func TestContentStoreRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewContentStore(dir)
	if err != nil {
		t.Fatalf("NewContentStore: %v", err)
	}

	path := store.Path(1, "https://oracle.example/t/1.html")

	// Absent file reads as nil without error.
	if data, err := store.Read(path); err != nil || data != nil {
		t.Fatalf("Read(absent)=%v, %v; want nil, nil", data, err)
	}

	body := []byte("prepared remarks and Q&A")
	if err := store.Write(path, body); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := store.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("Read=%q want %q", got, body)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".content-") {
			t.Fatalf("temp file left behind: %s", filepath.Join(dir, e.Name()))
		}
	}
}

func TestExtractText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text passes through",
			in:   "Good afternoon, everyone.",
			want: "Good afternoon, everyone.",
		},
		{
			name: "strips markup",
			in:   "<html><body><p>Revenue grew <b>12%</b>.</p></body></html>",
			want: "Revenue grew 12% .",
		},
		{
			name: "drops scripts and styles",
			in:   "<script>track()</script><style>p{}</style>Guidance raised.",
			want: "Guidance raised.",
		},
		{
			name: "decodes entities",
			in:   "R&amp;D spend &gt; plan",
			want: "R&D spend > plan",
		},
		{
			name: "collapses blank lines",
			in:   "Opening.\n\n\n\n\nClosing.",
			want: "Opening.\n\nClosing.",
		},
		{
			name: "empty body",
			in:   "   \n\t  ",
			want: "",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractText([]byte(tc.in)); got != tc.want {
				t.Fatalf("ExtractText=%q want %q", got, tc.want)
			}
		})
	}
}
