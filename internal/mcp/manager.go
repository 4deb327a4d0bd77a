package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robbarto2/AgenticOps/internal/events"
	"github.com/robbarto2/AgenticOps/internal/stage"
)

// ErrToolNotFound is returned when a tool is absent from the catalog or
// from a stage's capability set.
var ErrToolNotFound = errors.New("tool not found")

// ToolDescriptor describes one tool available to the specialists.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	// Source is the tag of the server that provides the tool.
	Source string `json:"source"`
	server string
}

// Result is the outcome of a dispatched tool call. Exactly one of
// Content or Error is meaningful.
type Result struct {
	Tool    string `json:"tool"`
	Source  string `json:"source,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Failed reports whether the call produced an error result.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Text renders the result as the observation fed back to a model.
func (r Result) Text() string {
	if r.Failed() {
		return "Error: " + r.Error
	}
	return r.Content
}

// ServerSpec describes one server to connect.
type ServerSpec struct {
	Name         string
	Source       string
	Transport    Transport
	IncludeTools []string
	ExcludeTools []string
}

// ServerStatus is the connection state of one server.
type ServerStatus struct {
	Name      string `json:"name"`
	Source    string `json:"source"`
	Connected bool   `json:"connected"`
	Tools     int    `json:"tools"`
	Error     string `json:"error,omitempty"`
}

type server struct {
	spec   ServerSpec
	client *Client

	mu        sync.RWMutex
	connected bool
	tools     []ToolDescriptor
	err       error
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Capabilities stage.Capabilities
	// DescriptionCap truncates tool descriptions shown to a model.
	DescriptionCap int
	// ConnectTimeout bounds each server's handshake and tool listing.
	ConnectTimeout time.Duration
	Bus            *events.Bus
	Logger         *slog.Logger
}

// Manager owns the MCP server connections and is the tool dispatcher
// used by the specialist stages.
type Manager struct {
	caps           stage.Capabilities
	descriptionCap int
	connectTimeout time.Duration
	bus            *events.Bus
	logger         *slog.Logger

	mu      sync.RWMutex
	servers []*server
	byName  map[string]*server
	tools   map[string]ToolDescriptor
}

// NewManager creates a Manager with no servers.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = stage.DefaultCapabilities()
	}
	if cfg.DescriptionCap <= 0 {
		cfg.DescriptionCap = 1024
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &Manager{
		caps:           cfg.Capabilities,
		descriptionCap: cfg.DescriptionCap,
		connectTimeout: cfg.ConnectTimeout,
		bus:            cfg.Bus,
		logger:         cfg.Logger.With("component", "mcp"),
		byName:         make(map[string]*server),
		tools:          make(map[string]ToolDescriptor),
	}
}

// Connect connects every server concurrently. A server that fails to
// connect is logged and left disconnected; the rest of the catalog is
// still usable. Connect returns an error only when ctx is cancelled.
func (m *Manager) Connect(ctx context.Context, specs []ServerSpec) error {
	m.mu.Lock()
	for _, spec := range specs {
		if spec.Source == "" {
			spec.Source = spec.Name
		}
		s := &server{spec: spec, client: NewClient(spec.Name, spec.Transport, m.logger)}
		m.servers = append(m.servers, s)
		m.byName[spec.Name] = s
	}
	servers := append([]*server(nil), m.servers...)
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error {
			if err := m.connect(gctx, s); err != nil {
				m.logger.Error("MCP server connection failed", "server", s.spec.Name, "error", err)
			}
			return ctx.Err()
		})
	}
	err := g.Wait()
	m.rebuildCatalog()

	counts := m.SourceCounts()
	m.logger.Info("MCP client ready", "tools", len(m.Tools()), "by_source", counts)
	return err
}

func (m *Manager) connect(ctx context.Context, s *server) error {
	ctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	err := func() error {
		if err := s.client.Initialize(ctx); err != nil {
			return err
		}
		defs, err := s.client.ListTools(ctx)
		if err != nil {
			return err
		}
		tools := filterTools(defs, s.spec.IncludeTools, s.spec.ExcludeTools)
		descs := make([]ToolDescriptor, 0, len(tools))
		for _, td := range tools {
			descs = append(descs, ToolDescriptor{
				Name:        td.Name,
				Description: td.Description,
				InputSchema: td.InputSchema,
				Source:      s.spec.Source,
				server:      s.spec.Name,
			})
		}
		s.mu.Lock()
		s.tools = descs
		s.mu.Unlock()
		return nil
	}()

	s.mu.Lock()
	s.connected = err == nil
	s.err = err
	n := len(s.tools)
	s.mu.Unlock()

	if err == nil {
		m.logger.Info("MCP server connected", "server", s.spec.Name, "source", s.spec.Source, "tools", n)
		m.bus.Emit(events.SourceMCP, events.KindServerConnected, map[string]any{
			"server": s.spec.Name,
			"source": s.spec.Source,
			"tools":  n,
		})
	}
	return err
}

// rebuildCatalog merges the tools of every connected server. When two
// servers expose the same name the first configured server wins.
func (m *Manager) rebuildCatalog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	catalog := make(map[string]ToolDescriptor)
	for _, s := range m.servers {
		s.mu.RLock()
		if s.connected {
			for _, td := range s.tools {
				if prev, dup := catalog[td.Name]; dup {
					m.logger.Warn("duplicate MCP tool name, keeping first",
						"tool", td.Name, "kept", prev.server, "dropped", td.server)
					continue
				}
				catalog[td.Name] = td
			}
		}
		s.mu.RUnlock()
	}
	m.tools = catalog
}

// Tools returns every tool in the catalog, sorted by name.
func (m *Manager) Tools() []ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(m.tools))
	for _, td := range m.tools {
		out = append(out, td)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListTools returns the tools stage s may call, with descriptions
// truncated for presentation to a model. Stages without a capability
// entry get no tools.
func (m *Manager) ListTools(s stage.Stage) []ToolDescriptor {
	var out []ToolDescriptor
	for _, td := range m.Tools() {
		if !m.caps.Allows(s, td.Name) {
			continue
		}
		td.Description = truncate(td.Description, m.descriptionCap)
		out = append(out, td)
	}
	return out
}

// Lookup returns the descriptor for name if stage s may call it.
func (m *Manager) Lookup(s stage.Stage, name string) (ToolDescriptor, error) {
	if !m.caps.Allows(s, name) {
		return ToolDescriptor{}, fmt.Errorf("%w: %s not permitted for %s", ErrToolNotFound, name, s)
	}
	m.mu.RLock()
	td, ok := m.tools[name]
	m.mu.RUnlock()
	if !ok {
		return ToolDescriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return td, nil
}

// Call dispatches a tool call. Arguments with empty values are dropped.
// Failures are reported in the Result, not as a Go error; the only
// error returned is ctx's, so cancellation stays distinguishable.
func (m *Manager) Call(ctx context.Context, name string, args map[string]string) (Result, error) {
	m.mu.RLock()
	td, ok := m.tools[name]
	var s *server
	if ok {
		s = m.byName[td.server]
	}
	m.mu.RUnlock()
	if !ok || s == nil {
		return Result{Tool: name, Error: fmt.Sprintf("Unknown tool: %s", name)}, nil
	}

	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	if !connected {
		return Result{Tool: name, Source: td.Source, Error: fmt.Sprintf("MCP session not connected for source: %s", td.Source)}, nil
	}

	callArgs := make(map[string]any, len(args))
	for k, v := range args {
		if v != "" {
			callArgs[k] = v
		}
	}

	text, err := s.client.CallTool(ctx, name, callArgs)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		m.logger.Warn("tool call failed", "tool", name, "server", td.server, "error", err)
		return Result{Tool: name, Source: td.Source, Error: fmt.Sprintf("Tool call failed: %v", err)}, nil
	}
	return Result{Tool: name, Source: td.Source, Content: text}, nil
}

// Connected reports whether any server with the given source tag is connected.
func (m *Manager) Connected(source string) bool {
	for _, st := range m.Status() {
		if st.Source == source && st.Connected {
			return true
		}
	}
	return false
}

// SourceCounts returns the number of catalog tools per source tag.
func (m *Manager) SourceCounts() map[string]int {
	counts := make(map[string]int)
	for _, td := range m.Tools() {
		counts[td.Source]++
	}
	return counts
}

// Status returns the connection state of every configured server.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	servers := append([]*server(nil), m.servers...)
	m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(servers))
	for _, s := range servers {
		s.mu.RLock()
		st := ServerStatus{
			Name:      s.spec.Name,
			Source:    s.spec.Source,
			Connected: s.connected,
			Tools:     len(s.tools),
		}
		if s.err != nil {
			st.Error = s.err.Error()
		}
		s.mu.RUnlock()
		out = append(out, st)
	}
	return out
}

// Servers returns the configured server names.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.servers))
	for _, s := range m.servers {
		names = append(names, s.spec.Name)
	}
	return names
}

// Probe checks one server and reconnects it if the check fails. It is
// the health probe handed to connwatch.
func (m *Manager) Probe(ctx context.Context, name string) error {
	m.mu.RLock()
	s, ok := m.byName[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown MCP server %q", name)
	}

	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()

	if connected {
		err := s.client.Ping(ctx)
		if err == nil {
			return nil
		}
		m.logger.Warn("MCP server ping failed, reconnecting", "server", name, "error", err)
	}

	err := m.connect(ctx, s)
	m.rebuildCatalog()
	return err
}

// Close shuts down every server connection.
func (m *Manager) Close() error {
	m.mu.RLock()
	servers := append([]*server(nil), m.servers...)
	m.mu.RUnlock()

	var errs []error
	for _, s := range servers {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		if err := s.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.spec.Name, err))
		}
	}
	m.rebuildCatalog()
	return errors.Join(errs...)
}

// filterTools applies include/exclude lists. A non-empty include list
// wins over exclude.
func filterTools(defs []ToolDefinition, include, exclude []string) []ToolDefinition {
	includeSet := toSet(include)
	excludeSet := toSet(exclude)
	out := make([]ToolDefinition, 0, len(defs))
	for _, td := range defs {
		if len(includeSet) > 0 {
			if !includeSet[td.Name] {
				continue
			}
		} else if excludeSet[td.Name] {
			continue
		}
		out = append(out, td)
	}
	return out
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !isRuneStart(s[len(cut)]) {
		cut = cut[:len(cut)-1]
	}
	return strings.TrimRight(cut, " ")
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// SourceFor guesses a tool's source tag from its name. Used only for
// tools missing from the catalog.
func SourceFor(name string) string {
	if strings.HasPrefix(name, "te_") || strings.Contains(strings.ToLower(name), "thousandeyes") {
		return "thousandeyes"
	}
	return "meraki"
}
