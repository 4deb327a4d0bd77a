package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/robbarto2/AgenticOps/internal/defaults"
	"github.com/robbarto2/AgenticOps/internal/skills"
)

// InitCmd writes a starter workspace.
type InitCmd struct {
	Dir string `arg:"" optional:"" default:"." help:"Directory to initialize." type:"path"`
}

func (c *InitCmd) Run(e *env) error {
	return runInit(e.stdout, c.Dir)
}

// runInit creates dir with an example config, an .env template and a
// copy of the built-in skills. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing AgenticOps workspace in %s\n", dir)

	skillsDir := filepath.Join(dir, "skills")
	if err := os.MkdirAll(skillsDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", skillsDir, err)
	}

	for _, f := range []struct {
		name    string
		content []byte
		mode    os.FileMode
	}{
		{"config.yaml", defaults.ConfigYAML, 0o644},
		{".env", defaults.EnvExample, 0o600},
	} {
		path := filepath.Join(dir, f.name)
		wrote, err := writeIfMissing(path, f.content, f.mode)
		if err != nil {
			return err
		}
		report(w, path, wrote)
	}

	builtin := skills.DefaultFiles()
	err := fs.WalkDir(builtin, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}
		content, err := fs.ReadFile(builtin, path)
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", path, err)
		}
		dest := filepath.Join(skillsDir, d.Name())
		wrote, err := writeIfMissing(dest, content, 0o644)
		if err != nil {
			return err
		}
		report(w, dest, wrote)
		return nil
	})
	if err != nil {
		return fmt.Errorf("install skills: %w", err)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Fill in .env, then run: agenticops -c "+filepath.Join(dir, "config.yaml")+" serve")
	return nil
}

func report(w io.Writer, path string, wrote bool) {
	if wrote {
		fmt.Fprintf(w, "  + %s\n", path)
	} else {
		fmt.Fprintf(w, "  = %s (exists)\n", path)
	}
}

// writeIfMissing writes content to path only if nothing is there yet.
func writeIfMissing(path string, content []byte, mode os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
