package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ContentStore caches transcript bodies on disk, keyed by a digest of the
// transcript id and source URL so a re-fetched URL lands on the same file.
type ContentStore struct {
	dir string
}

func NewContentStore(dir string) (*ContentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	return &ContentStore{dir: dir}, nil
}

// Path returns the cache path for a transcript and URL.
func (s *ContentStore) Path(transcriptID int64, sourceURL string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", transcriptID, sourceURL)))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".txt")
}

// Read returns the cached body, or nil when absent.
func (s *ContentStore) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// Write stores body atomically via a temp file rename.
func (s *ContentStore) Write(path string, body []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".content-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var (
	tagPattern    = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	markupPattern = regexp.MustCompile(`<[^>]+>`)
	spacePattern  = regexp.MustCompile(`[ \t]+`)
	blankPattern  = regexp.MustCompile(`\n{3,}`)
)

// ExtractText strips markup from a transcript body. Plain-text bodies pass
// through with whitespace normalisation only.
func ExtractText(body []byte) string {
	text := string(body)
	if strings.Contains(text, "<") {
		text = tagPattern.ReplaceAllString(text, " ")
		text = markupPattern.ReplaceAllString(text, " ")
	}
	text = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	).Replace(text)
	text = spacePattern.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	text = strings.Join(lines, "\n")
	text = blankPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
