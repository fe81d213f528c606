// Package embedded provides embedded static assets for the application.
package embedded

import (
	"embed"
	"io/fs"
)

// Files contains all files embedded in the Go binary:
//   - hierarchies/*.yaml - built-in series trees (CPI, PCE, GDP, CES, CPS)
//
//go:embed hierarchies/*.yaml
var Files embed.FS

// Hierarchies returns the hierarchy definitions rooted at their directory,
// so files are opened as "cpi.yaml".
func Hierarchies() fs.FS {
	sub, err := fs.Sub(Files, "hierarchies")
	if err != nil {
		// the directory is part of the embed pattern
		panic(err)
	}
	return sub
}
