// Package config handles AgenticOps configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/robbarto2/AgenticOps/internal/stage"
)

// ErrNoConfig is returned by FindConfig when no config file exists on
// the search path.
var ErrNoConfig = errors.New("no config file found")

// DefaultSearchPaths returns the config file search order:
// ./config.yaml, ~/.config/agenticops/config.yaml, /etc/agenticops/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agenticops", "config.yaml"))
	}

	paths = append(paths, "/etc/agenticops/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all AgenticOps configuration.
type Config struct {
	Listen       ListenConfig        `yaml:"listen"`
	Anthropic    AnthropicConfig     `yaml:"anthropic"`
	Models       ModelsConfig        `yaml:"models"`
	MCP          MCPConfig           `yaml:"mcp"`
	Capabilities map[string][]string `yaml:"capabilities"`
	Agent        AgentConfig         `yaml:"agent"`
	SkillsDir    string              `yaml:"skills_dir"`
	CORS         CORSConfig          `yaml:"cors"`
	Metrics      MetricsConfig       `yaml:"metrics"`
	Tracing      TracingConfig       `yaml:"tracing"`
	// Pricing overrides or extends the built-in per-model token prices.
	Pricing   map[string]PricingEntry `yaml:"pricing"`
	LogLevel  string                  `yaml:"log_level"`
	LogFormat string                  `yaml:"log_format"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ModelsConfig selects the reasoning models.
type ModelsConfig struct {
	// Default is used by the specialist and synthesis stages.
	Default string `yaml:"default"`
	// Classifier is used by the router's model fallback. Empty means Default.
	Classifier string `yaml:"classifier"`
	// OllamaURL enables a local Ollama host for models routed to "ollama".
	OllamaURL string `yaml:"ollama_url"`
	// Routes maps a model name to a provider ("anthropic" or "ollama").
	// Unlisted models go to Anthropic.
	Routes map[string]string `yaml:"routes"`
	// MaxTokens caps each completion.
	MaxTokens int `yaml:"max_tokens"`
}

// ClassifierModel returns the model used for routing.
func (m ModelsConfig) ClassifierModel() string {
	if m.Classifier != "" {
		return m.Classifier
	}
	return m.Default
}

// MCPConfig lists the tool servers to connect at startup.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes one MCP server connection.
type MCPServerConfig struct {
	Name string `yaml:"name"`
	// Source tags every tool from this server ("meraki", "thousandeyes").
	// Defaults to Name.
	Source    string `yaml:"source"`
	Transport string `yaml:"transport"` // "stdio" or "http"

	// stdio
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`

	// http
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`

	IncludeTools []string `yaml:"include_tools"`
	ExcludeTools []string `yaml:"exclude_tools"`
}

// SourceTag returns the source tag for tools from this server.
func (s MCPServerConfig) SourceTag() string {
	if s.Source != "" {
		return s.Source
	}
	return s.Name
}

// AgentConfig bounds the specialist loop and synthesis digest.
type AgentConfig struct {
	MaxIterations  int `yaml:"max_iterations"`
	DigestBudget   int `yaml:"digest_budget"`
	DescriptionCap int `yaml:"description_cap"`
	// HistoryTurns limits how many prior question/answer pairs seed a
	// query. Zero means all.
	HistoryTurns int `yaml:"history_turns"`
}

// CORSConfig lists browser origins allowed to call the API. The entry
// "*" allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// OriginAllowed reports whether a browser at origin may call the API or
// open the chat websocket. wildcard is true when only a "*" entry
// matched; such origins must not be granted credentials.
func OriginAllowed(allowed []string, origin string) (ok, wildcard bool) {
	if origin == "" {
		return false, false
	}
	if slices.Contains(allowed, origin) {
		return true, false
	}
	if slices.Contains(allowed, "*") {
		return true, true
	}
	return false, false
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig selects an OpenTelemetry exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "none"
}

// PricingEntry is the USD price of one million tokens for a model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"output_per_million"`
}

// LoadDotEnv loads KEY=VALUE pairs from .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file. A .env file beside the
// config and one in the working directory are loaded first, then
// ${VAR} references are expanded.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a configuration that runs with no tool servers.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8000
	}
	if c.Anthropic.APIKey == "" {
		c.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Models.Default == "" {
		c.Models.Default = "claude-sonnet-4-20250514"
	}
	if c.Models.MaxTokens == 0 {
		c.Models.MaxTokens = 4096
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.DigestBudget == 0 {
		c.Agent.DigestBudget = 2000
	}
	if c.Agent.DescriptionCap == 0 {
		c.Agent.DescriptionCap = 1024
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	for i := range c.MCP.Servers {
		if c.MCP.Servers[i].Transport == "" {
			c.MCP.Servers[i].Transport = "stdio"
		}
	}
}

// Validate checks the configuration for errors that would otherwise
// surface only when a query runs.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if c.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations))
	}
	if c.Agent.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("agent.history_turns must not be negative, got %d", c.Agent.HistoryTurns))
	}
	if c.Agent.DigestBudget < 1 || c.Agent.DescriptionCap < 1 {
		errs = append(errs, errors.New("agent.digest_budget and agent.description_cap must be positive"))
	}
	if _, err := stage.NewCapabilities(c.Capabilities); err != nil {
		errs = append(errs, err)
	}
	for provider := range invertRoutes(c.Models.Routes) {
		if provider != "anthropic" && provider != "ollama" {
			errs = append(errs, fmt.Errorf("models.routes: unknown provider %q", provider))
		}
	}
	if routesTo(c.Models.Routes, "ollama") && c.Models.OllamaURL == "" {
		errs = append(errs, errors.New("models.routes sends a model to ollama but models.ollama_url is empty"))
	}

	seen := make(map[string]bool)
	for i, s := range c.MCP.Servers {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: name is required", i))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				errs = append(errs, fmt.Errorf("mcp server %s: stdio transport requires command", s.Name))
			}
		case "http":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("mcp server %s: http transport requires url", s.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("mcp server %s: unknown transport %q", s.Name, s.Transport))
		}
		if len(s.IncludeTools) > 0 && len(s.ExcludeTools) > 0 {
			errs = append(errs, fmt.Errorf("mcp server %s: include_tools and exclude_tools are mutually exclusive", s.Name))
		}
	}

	for model, p := range c.Pricing {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			errs = append(errs, fmt.Errorf("pricing %s: prices must not be negative", model))
		}
	}

	switch strings.ToLower(c.Tracing.Exporter) {
	case "", "none", "stdout":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q must be stdout or none", c.Tracing.Exporter))
	}

	return errors.Join(errs...)
}

func invertRoutes(routes map[string]string) map[string]bool {
	out := make(map[string]bool)
	for _, p := range routes {
		out[p] = true
	}
	return out
}

func routesTo(routes map[string]string, provider string) bool {
	return invertRoutes(routes)[provider]
}
