package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/haeca-go/internal/loader"
)

// FileEntry represents a file to be processed.
type FileEntry struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the path relative to the config root.
	RelPath string

	// Content is the file content.
	Content []byte

	// SHA256 is the hash of the file content.
	SHA256 string
}

// Default patterns to ignore (in addition to .gitignore). These are the
// parts of a Home Assistant config directory that never hold automations.
var defaultIgnorePatterns = []string{
	".git/",
	".haeca/",
	".storage/",
	".cloud/",
	"blueprints/",
	"custom_components/",
	"deps/",
	"tts/",
	"www/",
	"themes/",
	"node_modules/",
	"__pycache__/",
	"secrets.yaml",
	"known_devices.yaml",
	"*.db",
	"*.log",
	".DS_Store",
}

// WalkConfig walks a configuration directory and returns every YAML file
// not excluded by the default patterns or the root .gitignore, in lexical
// path order.
func WalkConfig(root string) ([]FileEntry, error) {
	patterns, err := loadGitignore(root)
	if err != nil {
		return nil, err
	}
	return WalkRepo(root, patterns)
}

// WalkRepo walks root and returns all YAML files not matched by patterns or
// the default ignore list.
func WalkRepo(root string, patterns []gitignore.Pattern) ([]FileEntry, error) {
	var entries []FileEntry
	matcher := newMatcher(patterns)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && shouldSkipDir(d.Name(), path, root, matcher) {
				return filepath.SkipDir
			}
			return nil
		}

		if !loader.IsYAML(d.Name()) {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if matcher.Match(splitPath(relPath), false) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		hash := sha256.Sum256(content)

		entries = append(entries, FileEntry{
			Path:    path,
			RelPath: relPath,
			Content: content,
			SHA256:  hex.EncodeToString(hash[:]),
		})
		return nil
	})

	return entries, err
}

// newMatcher combines the default patterns with the given ones.
func newMatcher(patterns []gitignore.Pattern) gitignore.Matcher {
	all := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns)+len(patterns))
	for _, p := range defaultIgnorePatterns {
		all = append(all, gitignore.ParsePattern(p, nil))
	}
	all = append(all, patterns...)
	return gitignore.NewMatcher(all)
}

// loadGitignore loads .gitignore patterns from the config root.
func loadGitignore(root string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, nil
}

// shouldSkipDir checks if a directory should be skipped.
func shouldSkipDir(name, path, root string, matcher gitignore.Matcher) bool {
	// Always skip .git
	if name == ".git" {
		return true
	}

	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return matcher.Match(splitPath(relPath), true)
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	return strings.Split(path, string(filepath.Separator))
}
