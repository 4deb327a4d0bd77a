package skills

import (
	"embed"
	"io/fs"
)

// defaultFiles holds the built-in skill documents. A file with the same
// name in the configured skills directory replaces its default.
//
//go:embed defaults/*.md
var defaultFiles embed.FS

// DefaultFiles returns the built-in skill documents, rooted at the
// directory holding the .md files.
func DefaultFiles() fs.FS {
	sub, err := fs.Sub(defaultFiles, "defaults")
	if err != nil {
		// The embed pattern guarantees the directory exists.
		panic(err)
	}
	return sub
}
