// Package skills loads the skill documents appended to specialist
// instructions.
package skills

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/robbarto2/AgenticOps/internal/stage"
)

// sectionHeading introduces the skills block in a specialist instruction.
const sectionHeading = "\n\n## Available Skills\n\n"

const separator = "\n\n---\n\n"

// builtin maps each specialist to its skill files, in injection order.
var builtin = []struct {
	stage stage.Stage
	files []string
}{
	{stage.Troubleshooting, []string{"wireless_troubleshooting.md", "wan_performance.md"}},
	{stage.Compliance, []string{"config_audit.md"}},
	{stage.Security, []string{"security_posture.md"}},
	{stage.Discovery, []string{"network_inventory.md"}},
}

// Skill is one loaded skill document.
type Skill struct {
	Name        string      `json:"name"`
	Stage       stage.Stage `json:"agent"`
	File        string      `json:"file"`
	Description string      `json:"description"`
	Content     string      `json:"-"`
}

// frontmatter is the optional YAML header of an extra skill file in the
// skills directory. It assigns the file to a specialist.
type frontmatter struct {
	Agent string `yaml:"agent"`
}

// Library holds the loaded skills. Reload swaps the whole set at once.
type Library struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	skills []Skill
}

// NewLibrary loads the built-in skills, overridden or extended by the
// .md files in dir. An empty or missing dir is fine.
func NewLibrary(dir string, logger *slog.Logger) (*Library, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Library{dir: dir, logger: logger.With("component", "skills")}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads every skill. On error the previous set stays active.
func (l *Library) Reload() error {
	var skills []Skill
	known := make(map[string]bool)

	for _, b := range builtin {
		for _, file := range b.files {
			known[file] = true
			content, err := l.read(file)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					l.logger.Warn("skill file not found", "file", file, "agent", b.stage)
					continue
				}
				return err
			}
			skills = append(skills, newSkill(b.stage, file, content))
		}
	}

	extra, err := l.extras(known)
	if err != nil {
		return err
	}
	skills = append(skills, extra...)

	l.mu.Lock()
	l.skills = skills
	l.mu.Unlock()
	l.logger.Debug("skills loaded", "count", len(skills), "dir", l.dir)
	return nil
}

// read prefers the skills directory over the embedded default.
func (l *Library) read(file string) (string, error) {
	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, file))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read skill %s: %w", file, err)
		}
	}
	data, err := defaultFiles.ReadFile("defaults/" + file)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// extras loads directory files that are not built-in skills. Each must
// name its specialist in frontmatter; files without one are skipped.
func (l *Library) extras(known map[string]bool) ([]Skill, error) {
	if l.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") && !known[e.Name()] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var out []Skill
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(l.dir, f))
		if err != nil {
			return nil, fmt.Errorf("read skill %s: %w", f, err)
		}
		fm, body, err := parseFrontmatter(string(data))
		if err != nil {
			l.logger.Warn("invalid skill frontmatter", "file", f, "error", err)
			continue
		}
		s, err := stage.Parse(fm.Agent)
		if err != nil {
			l.logger.Warn("skill file has no valid agent, skipping", "file", f, "agent", fm.Agent)
			continue
		}
		out = append(out, newSkill(s, f, body))
	}
	return out, nil
}

func newSkill(s stage.Stage, file, content string) Skill {
	return Skill{
		Name:        strings.TrimSuffix(file, ".md"),
		Stage:       s,
		File:        file,
		Description: triggerLine(content),
		Content:     content,
	}
}

// Section returns the skills block for stage s, or "" when it has none.
func (l *Library) Section(s stage.Stage) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var parts []string
	for _, sk := range l.skills {
		if sk.Stage == s {
			parts = append(parts, sk.Content)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return sectionHeading + strings.Join(parts, separator)
}

// List returns every loaded skill.
func (l *Library) List() []Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Skill(nil), l.skills...)
}

// triggerLine returns the first non-empty line after a "## Trigger"
// heading.
func triggerLine(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "## Trigger") {
			continue
		}
		for _, next := range lines[i+1:] {
			if t := strings.TrimSpace(next); t != "" {
				if strings.HasPrefix(t, "#") {
					return ""
				}
				return t
			}
		}
		return ""
	}
	return ""
}

// parseFrontmatter splits a "---" delimited YAML header from the body.
// Content without a header returns a zero frontmatter and the input.
func parseFrontmatter(raw string) (frontmatter, string, error) {
	var fm frontmatter
	if !strings.HasPrefix(raw, "---") {
		return fm, raw, nil
	}
	rest := strings.TrimLeft(raw[3:], " \t")
	switch {
	case strings.HasPrefix(rest, "\n"):
		rest = rest[1:]
	case strings.HasPrefix(rest, "\r\n"):
		rest = rest[2:]
	default:
		return fm, raw, nil
	}

	closeIdx := strings.Index(rest, "\n---")
	if closeIdx < 0 {
		return fm, raw, nil
	}
	if err := yaml.Unmarshal([]byte(rest[:closeIdx]), &fm); err != nil {
		return fm, raw, err
	}
	body := strings.TrimLeft(rest[closeIdx+4:], "\r\n")
	return fm, body, nil
}
