package ingest

import (
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreMatcher decides which paths a watched folder skips, based on a
// .reverieignore file in gitignore syntax.
type IgnoreMatcher struct {
	gi *gitignore.GitIgnore
}

// NewIgnoreMatcher loads .reverieignore from the watched directory.
// If no file is found, the matcher accepts everything.
func NewIgnoreMatcher(root string) *IgnoreMatcher {
	path := filepath.Join(root, ".reverieignore")
	if _, err := os.Stat(path); err != nil {
		return &IgnoreMatcher{}
	}
	gi, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return &IgnoreMatcher{}
	}
	return &IgnoreMatcher{gi: gi}
}

// Match returns true if the given relative path should be ignored.
func (m *IgnoreMatcher) Match(relPath string) bool {
	if m.gi == nil {
		return false
	}
	return m.gi.MatchesPath(relPath)
}

// hardIgnored contains directory names that are always skipped.
var hardIgnored = map[string]bool{
	".git":         true,
	".svn":         true,
	".Trash":       true,
	".reverie":     true,
	"node_modules": true,
	"__pycache__":  true,
}

// HardIgnore returns true if the directory name is always excluded from
// watching.
func HardIgnore(name string) bool {
	return hardIgnored[name]
}
