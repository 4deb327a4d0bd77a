// Package api serves the REST endpoints and the chat websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/robbarto2/AgenticOps/internal/buildinfo"
	"github.com/robbarto2/AgenticOps/internal/cards"
	"github.com/robbarto2/AgenticOps/internal/config"
	"github.com/robbarto2/AgenticOps/internal/connwatch"
	"github.com/robbarto2/AgenticOps/internal/mcp"
	"github.com/robbarto2/AgenticOps/internal/router"
	"github.com/robbarto2/AgenticOps/internal/session"
	"github.com/robbarto2/AgenticOps/internal/skills"
	"github.com/robbarto2/AgenticOps/internal/stage"
	"github.com/robbarto2/AgenticOps/internal/usage"
)

// ToolCatalog is the tool dispatcher's read side.
type ToolCatalog interface {
	Tools() []mcp.ToolDescriptor
	ListTools(s stage.Stage) []mcp.ToolDescriptor
	Status() []mcp.ServerStatus
	Connected(source string) bool
	SourceCounts() map[string]int
}

// SkillLister lists the loaded skills.
type SkillLister interface {
	List() []skills.Skill
}

// DependencyStatus reports background probe results.
type DependencyStatus interface {
	Status() []connwatch.Status
}

// Config wires the server to the rest of the process.
type Config struct {
	Address  string
	Router   *router.Router
	Sessions *session.Store
	Tools    ToolCatalog
	Skills   SkillLister
	// Dependencies, Usage, Metrics and Chat are optional.
	Dependencies   DependencyStatus
	Usage          *usage.Store
	Metrics        http.Handler
	Chat           http.Handler
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server
}

// NewServer creates a server. Call Start to listen.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: cfg.Logger.With("component", "api")}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.withLogging)
	r.Use(middleware.Recoverer)
	r.Use(s.withCORS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)
		r.Get("/skills", s.handleSkills)
		r.Get("/tools", s.handleTools)
		r.Get("/usage", s.handleUsage)

		r.Route("/router", func(r chi.Router) {
			r.Get("/stats", s.handleRouterStats)
			r.Get("/audit", s.handleRouterAudit)
			r.Get("/explain/{requestID}", s.handleRouterExplain)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleSessionStats)
			r.Get("/{sessionID}", s.handleSessionGet)
			r.Delete("/{sessionID}/cards/{cardID}", s.handleCardDelete)
		})
	})

	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}
	if s.cfg.Chat != nil {
		r.Method(http.MethodGet, "/ws/chat", s.cfg.Chat)
	}
	return r
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "address", s.cfg.Address)
		errc <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if ok, wildcard := config.OriginAllowed(s.cfg.AllowedOrigins, origin); ok {
			h := w.Header()
			if wildcard {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status                string             `json:"status"`
	MerakiConnected       bool               `json:"meraki_connected"`
	MerakiTools           int                `json:"meraki_tools"`
	ThousandEyesConnected bool               `json:"thousandeyes_connected"`
	ThousandEyesTools     int                `json:"thousandeyes_tools"`
	TotalTools            int                `json:"total_tools"`
	Servers               []mcp.ServerStatus `json:"servers"`
	Dependencies          []connwatch.Status `json:"dependencies,omitempty"`
	Sessions              map[string]any     `json:"sessions,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.cfg.Tools != nil {
		counts := s.cfg.Tools.SourceCounts()
		resp.MerakiConnected = s.cfg.Tools.Connected(cards.SourceMeraki)
		resp.MerakiTools = counts[cards.SourceMeraki]
		resp.ThousandEyesConnected = s.cfg.Tools.Connected(cards.SourceThousandEyes)
		resp.ThousandEyesTools = counts[cards.SourceThousandEyes]
		resp.TotalTools = len(s.cfg.Tools.Tools())
		resp.Servers = s.cfg.Tools.Status()
	}
	if s.cfg.Dependencies != nil {
		resp.Dependencies = s.cfg.Dependencies.Status()
	}
	if s.cfg.Sessions != nil {
		resp.Sessions = s.cfg.Sessions.Stats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, buildinfo.Info())
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	list := []skills.Skill{}
	if s.cfg.Skills != nil {
		list = s.cfg.Skills.List()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"skills": list, "count": len(list)})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Tools == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "tool dispatcher not configured")
		return
	}
	var tools []mcp.ToolDescriptor
	if name := r.URL.Query().Get("stage"); name != "" {
		st, err := stage.Parse(name)
		if err != nil || !st.IsSpecialist() {
			s.errorResponse(w, http.StatusBadRequest, "unknown stage: "+name)
			return
		}
		tools = s.cfg.Tools.ListTools(st)
	} else {
		tools = s.cfg.Tools.Tools()
	}
	if tools == nil {
		tools = []mcp.ToolDescriptor{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": tools, "count": len(tools)})
}

func (s *Server) handleRouterStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.cfg.Router.GetStats())
}

func (s *Server) handleRouterAudit(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}
	decisions := s.cfg.Router.GetAuditLog(parseIntParam(r, "limit", 20))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(decisions),
		"decisions": decisions,
	})
}

func (s *Server) handleRouterExplain(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}
	decision := s.cfg.Router.Explain(chi.URLParam(r, "requestID"))
	if decision == nil {
		s.errorResponse(w, http.StatusNotFound, "decision not found")
		return
	}
	s.writeJSON(w, http.StatusOK, decision)
}

// UsageResponse reports model spend.
type UsageResponse struct {
	Window   string                    `json:"window"`
	Total    usage.Summary             `json:"total"`
	InWindow usage.Summary             `json:"in_window"`
	ByModel  map[string]*usage.Summary `json:"by_model"`
	Recent   []usage.Record            `json:"recent"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage tracking not configured")
		return
	}
	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "invalid window: "+v)
			return
		}
		window = d
	}
	end := time.Now()
	start := end.Add(-window)
	s.writeJSON(w, http.StatusOK, UsageResponse{
		Window:   window.String(),
		Total:    s.cfg.Usage.Total(),
		InWindow: s.cfg.Usage.Summary(start, end),
		ByModel:  s.cfg.Usage.SummaryByModel(start, end),
		Recent:   s.cfg.Usage.Recent(parseIntParam(r, "limit", 20)),
	})
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sessions == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.cfg.Sessions.Stats())
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sessions == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	sess, ok := s.cfg.Sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCardDelete(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sessions == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	sessionID, cardID := chi.URLParam(r, "sessionID"), chi.URLParam(r, "cardID")
	if !s.cfg.Sessions.RemoveCard(sessionID, cardID) {
		s.errorResponse(w, http.StatusNotFound, "card not found")
		return
	}
	s.logger.Info("card removed", "session_id", sessionID, "card_id", cardID)
	w.WriteHeader(http.StatusNoContent)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
