package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robbarto2/AgenticOps/internal/agent"
	"github.com/robbarto2/AgenticOps/internal/cards"
	"github.com/robbarto2/AgenticOps/internal/events"
	"github.com/robbarto2/AgenticOps/internal/llm"
	"github.com/robbarto2/AgenticOps/internal/session"
	"github.com/robbarto2/AgenticOps/internal/stage"
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Cancellation causes.
var (
	errStopped    = errors.New("stopped by user")
	errSuperseded = errors.New("superseded by a newer query")
	errClosed     = errors.New("connection closed")
)

// Engine executes one query.
type Engine interface {
	Run(ctx context.Context, st *agent.ExecutionState, observe agent.Observer) error
}

// OutcomeRecorder receives the result of a routed query.
type OutcomeRecorder interface {
	RecordOutcome(requestID string, latencyMs int64, success bool)
}

// Config is shared by every controller of a server.
type Config struct {
	Engine   Engine
	Sessions *session.Store
	// Outcomes is optional.
	Outcomes OutcomeRecorder
	// HistoryTurns limits the prior question/answer pairs passed to the
	// engine; zero passes all of them.
	HistoryTurns int
	Bus          *events.Bus
	Logger       *slog.Logger
}

// task is one query execution.
type task struct {
	id     string
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Controller supervises at most one running query for one connection.
// A new submission cancels the running query and waits for it to wind
// down before the new one starts.
type Controller struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	submitMu sync.Mutex // serialises Submit and Close

	mu      sync.Mutex
	state   State
	current *task
}

// NewController returns an idle controller writing to sink.
func NewController(cfg Config, sink Sink) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		sink:   sink,
		logger: cfg.Logger.With("component", "controller"),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit starts a query, first cancelling and awaiting any running one.
// It returns the new query's ID.
func (c *Controller) Submit(ctx context.Context, sessionID, query string) string {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.interrupt(errSuperseded, true)

	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	tctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	t := &task{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.current = t
	c.state = StateRunning
	c.mu.Unlock()

	go c.run(tctx, t, sessionID, query)
	return t.id
}

// Stop cancels the running query, if any, without waiting. It reports
// whether a query was running.
func (c *Controller) Stop() bool {
	return c.interrupt(errStopped, false)
}

// Wait blocks until no query is running.
func (c *Controller) Wait() {
	c.mu.Lock()
	t := c.current
	c.mu.Unlock()
	if t != nil {
		<-t.done
	}
}

// Close cancels the running query and waits for it. No frames are sent
// for a query cancelled this way.
func (c *Controller) Close() {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()
	c.interrupt(errClosed, true)
}

func (c *Controller) interrupt(cause error, wait bool) bool {
	c.mu.Lock()
	t := c.current
	if t == nil {
		c.mu.Unlock()
		return false
	}
	c.state = StateCancelling
	c.mu.Unlock()

	t.cancel(cause)
	if wait {
		<-t.done
	}
	return true
}

func (c *Controller) run(ctx context.Context, t *task, sessionID, query string) {
	defer close(t.done)
	defer c.release(t)

	start := time.Now()
	log := c.logger.With("query_id", t.id, "session_id", sessionID)
	log.Info("query started", "query", truncate(query, 100))
	c.cfg.Bus.Emit(events.SourceController, events.KindQueryStart, map[string]any{
		"query_id":   t.id,
		"session_id": sessionID,
	})

	c.cfg.Sessions.GetOrCreate(sessionID)
	st := agent.NewExecutionState(t.id, sessionID, query, c.history(sessionID))
	if prior, ok := c.cfg.Sessions.LastAssistant(sessionID); ok {
		st.PriorNarrative = prior
	}
	st.PriorCardTitles = cards.Titles(c.cfg.Sessions.Cards(sessionID))

	fw := &forwarder{ctx: ctx, sink: c.sink, logger: log}
	fw.send(Frame{Type: TypeAgentStart, Data: AgentStart{Agent: string(stage.Router)}})

	err := c.cfg.Engine.Run(ctx, st, fw.observe)
	elapsed := time.Since(start)
	data := map[string]any{
		"query_id":   t.id,
		"stage":      string(st.Stage),
		"elapsed_ms": elapsed.Milliseconds(),
	}

	if cause := context.Cause(ctx); cause != nil {
		reason := ReasonUser
		if errors.Is(cause, errSuperseded) {
			reason = ReasonSuperseded
		}
		log.Info("query cancelled", "reason", cause, "elapsed", elapsed)
		data["reason"] = reason
		c.cfg.Bus.Emit(events.SourceController, events.KindQueryCancelled, data)
		if !errors.Is(cause, errClosed) {
			c.deliver(log, stoppedFrame(reason))
		}
		return
	}

	if err != nil {
		log.Error("query failed", "error", err, "stage", st.Stage, "elapsed", elapsed)
		data["error"] = err.Error()
		c.cfg.Bus.Emit(events.SourceController, events.KindQueryFailed, data)
		c.recordOutcome(st, elapsed, false)
		c.deliver(log, errorFrame(GenericErrorMessage))
		c.deliver(log, doneFrame())
		return
	}

	fw.observe(st)
	c.cfg.Sessions.AppendTurn(sessionID, query, st.Reply())
	if len(st.Cards) > 0 {
		c.cfg.Sessions.AddCards(sessionID, st.Cards...)
	}
	c.recordOutcome(st, elapsed, true)
	c.cfg.Bus.Emit(events.SourceController, events.KindQueryComplete, data)
	log.Info("query complete", "stage", st.Stage, "tools", len(st.ToolResults), "cards", len(st.Cards), "elapsed", elapsed)
	c.deliver(log, doneFrame())
}

// release returns the controller to idle unless a newer task took over.
func (c *Controller) release(t *task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == t {
		c.current = nil
		c.state = StateIdle
	}
}

func (c *Controller) deliver(log *slog.Logger, f Frame) {
	if err := c.sink.Send(f); err != nil {
		log.Debug("frame not delivered", "type", f.Type, "error", err)
	}
}

func (c *Controller) recordOutcome(st *agent.ExecutionState, elapsed time.Duration, ok bool) {
	if c.cfg.Outcomes == nil || st.Decision == nil {
		return
	}
	c.cfg.Outcomes.RecordOutcome(st.Decision.RequestID, elapsed.Milliseconds(), ok)
}

// history converts the session's most recent turns for the engine. A
// turn is a question and its answer. The result never opens with an
// assistant message, which the model APIs reject.
func (c *Controller) history(sessionID string) []llm.Message {
	msgs := c.cfg.Sessions.Messages(sessionID)
	if n := c.cfg.HistoryTurns; n > 0 && len(msgs) > 2*n {
		msgs = msgs[len(msgs)-2*n:]
	}
	for len(msgs) > 0 && msgs[0].Role != session.RoleUser {
		msgs = msgs[1:]
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// forwarder sends what the engine produced since the last observation.
// It runs on the query's goroutine, so the cursors need no lock.
type forwarder struct {
	ctx    context.Context
	sink   Sink
	logger *slog.Logger

	events, tables, cards int
}

func (f *forwarder) observe(st *agent.ExecutionState) {
	for ; f.events < len(st.Events); f.events++ {
		if fr, ok := eventFrame(st.Events[f.events]); ok {
			f.send(fr)
		}
	}
	for ; f.tables < len(st.Tables); f.tables++ {
		f.send(tableFrame(st.Tables[f.tables]))
	}
	for ; f.cards < len(st.Cards); f.cards++ {
		f.send(cardFrame(st.Cards[f.cards]))
	}
}

// send drops frames once the query is cancelled so nothing follows the
// cancellation's own done frame.
func (f *forwarder) send(fr Frame) {
	if f.ctx.Err() != nil {
		return
	}
	if err := f.sink.Send(fr); err != nil {
		f.logger.Debug("frame not delivered", "type", fr.Type, "error", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
