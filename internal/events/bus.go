// Package events provides a publish/subscribe bus for operational
// events. The query engine and the stream controller publish; the
// metrics collector and debug log subscribe. The bus is nil-safe:
// Publish on a nil *Bus is a no-op, so components need no guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceRouter identifies routing decisions.
	SourceRouter = "router"
	// SourceEngine identifies the orchestration graph: specialist tool
	// calls and synthesis.
	SourceEngine = "engine"
	// SourceController identifies query lifecycle events from a
	// connection's streaming controller.
	SourceController = "controller"
	// SourceMCP identifies the MCP server manager.
	SourceMCP = "mcp"
	// SourceConnwatch identifies dependency health probes.
	SourceConnwatch = "connwatch"
	// SourceLLM identifies model calls recorded by the usage tracker.
	SourceLLM = "llm"
)

// Kind constants describe the type of event within a source.
const (
	// KindQueryStart signals a query was accepted by a controller.
	// Data: query_id, session_id.
	KindQueryStart = "query_start"
	// KindRouteDecision signals the router resolved a stage. The
	// request_id equals the query_id of the query being routed.
	// Data: request_id, stage, method, generate_cards.
	KindRouteDecision = "route_decision"
	// KindToolCall signals the start of a tool execution.
	// Data: query_id, stage, tool, source.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: query_id, stage, tool, source, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindCardsReady signals synthesis produced presentation directives.
	// It is not forwarded to chat clients.
	// Data: query_id, count.
	KindCardsReady = "cards_ready"
	// KindQueryComplete signals a query finished successfully.
	// Data: query_id, stage, elapsed_ms.
	KindQueryComplete = "query_complete"
	// KindQueryCancelled signals a query was stopped, superseded, or
	// dropped because its connection closed. Cancellation is not a
	// failure and is counted separately.
	// Data: query_id, stage, reason, elapsed_ms.
	KindQueryCancelled = "query_cancelled"
	// KindQueryFailed signals a query ended with an error. The error
	// text stays server side; clients only see a generic message.
	// Data: query_id, stage, error, elapsed_ms.
	KindQueryFailed = "query_failed"
	// KindServerConnected signals an MCP server finished its handshake.
	// Data: server, source, tools.
	KindServerConnected = "server_connected"
	// KindModelCall signals a completed model round trip. Failed calls
	// are not published.
	// Data: model, input_tokens, output_tokens, cost_usd.
	KindModelCall = "model_call"
	// KindDependencyUp signals a watched dependency became reachable.
	// Data: name, kind.
	KindDependencyUp = "dependency_up"
	// KindDependencyDown signals a watched dependency became unreachable.
	// Data: name, kind, error.
	KindDependencyDown = "dependency_down"
)

// Event represents a single operational event published by a component.
// Data values are JSON-friendly scalars so events can be logged or
// serialised as is.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers, dropping it for any
// subscriber whose channel is full. Safe to call on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel that receives published events. bufSize
// is the channel capacity; a subscriber that falls that far behind
// misses events. The caller must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
