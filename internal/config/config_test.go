package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeFile(t, t.TempDir(), "test.yaml", "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_NothingOnSearchPath(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	_, err := FindConfig("")
	if !errors.Is(err, ErrNoConfig) {
		t.Fatalf("FindConfig(\"\") err = %v, want ErrNoConfig", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "log_level: debug\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 8000 {
		t.Errorf("port = %d, want 8000", cfg.Listen.Port)
	}
	if cfg.Agent.MaxIterations != 10 || cfg.Agent.DigestBudget != 2000 || cfg.Agent.DescriptionCap != 1024 {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	if cfg.Models.ClassifierModel() != cfg.Models.Default {
		t.Errorf("classifier model should default to %q", cfg.Models.Default)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("AGENTICOPS_TEST_TOKEN", "secret123")
	path := writeFile(t, t.TempDir(), "config.yaml", `
mcp:
  servers:
    - name: thousandeyes
      transport: http
      url: https://api.thousandeyes.com/mcp
      headers:
        Authorization: Bearer ${AGENTICOPS_TEST_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := cfg.MCP.Servers[0].Headers["Authorization"]; got != "Bearer secret123" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestLoad_DotEnvBesideConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(t.TempDir())
	writeFile(t, dir, ".env", "AGENTICOPS_DOTENV_KEY=from-dotenv\n")
	path := writeFile(t, dir, "config.yaml", "anthropic:\n  api_key: ${AGENTICOPS_DOTENV_KEY}\n")
	t.Cleanup(func() { os.Unsetenv("AGENTICOPS_DOTENV_KEY") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Anthropic.APIKey != "from-dotenv" {
		t.Errorf("api_key = %q, want from-dotenv", cfg.Anthropic.APIKey)
	}
}

func TestLoad_MCPServerDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
mcp:
  servers:
    - name: meraki
      command: fastmcp
      args: [run, meraki-mcp.py, --transport, stdio]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s := cfg.MCP.Servers[0]
	if s.Transport != "stdio" {
		t.Errorf("transport = %q, want stdio", s.Transport)
	}
	if s.SourceTag() != "meraki" {
		t.Errorf("source = %q, want meraki", s.SourceTag())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = -1 }, "max_iterations"},
		{"negative history", func(c *Config) { c.Agent.HistoryTurns = -2 }, "history_turns"},
		{"unknown stage", func(c *Config) { c.Capabilities = map[string][]string{"canvas": {"x"}} }, "unknown stage"},
		{"stdio without command", func(c *Config) {
			c.MCP.Servers = []MCPServerConfig{{Name: "meraki", Transport: "stdio"}}
		}, "requires command"},
		{"http without url", func(c *Config) {
			c.MCP.Servers = []MCPServerConfig{{Name: "te", Transport: "http"}}
		}, "requires url"},
		{"duplicate server", func(c *Config) {
			c.MCP.Servers = []MCPServerConfig{
				{Name: "a", Transport: "stdio", Command: "x"},
				{Name: "a", Transport: "stdio", Command: "x"},
			}
		}, "duplicate"},
		{"ollama route without url", func(c *Config) {
			c.Models.Routes = map[string]string{"qwen3:4b": "ollama"}
		}, "ollama_url"},
		{"bad exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }, "tracing.exporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name     string
		allowed  []string
		origin   string
		ok       bool
		wildcard bool
	}{
		{"listed", []string{"http://localhost:5173"}, "http://localhost:5173", true, false},
		{"not listed", []string{"http://localhost:5173"}, "http://evil.example", false, false},
		{"wildcard", []string{"*"}, "http://evil.example", true, true},
		{"listed beats wildcard", []string{"*", "http://localhost:3000"}, "http://localhost:3000", true, false},
		{"no origin", []string{"*"}, "", false, false},
		{"empty list", nil, "http://localhost:5173", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, wildcard := OriginAllowed(tt.allowed, tt.origin)
			if ok != tt.ok || wildcard != tt.wildcard {
				t.Errorf("OriginAllowed = %v, %v; want %v, %v", ok, wildcard, tt.ok, tt.wildcard)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("got %q, want TRACE", a.Value.String())
	}
	a = ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelInfo))
	if a.Value.Any().(slog.Level) != slog.LevelInfo {
		t.Errorf("info level was rewritten")
	}
}
