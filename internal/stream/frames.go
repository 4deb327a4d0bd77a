// Package stream runs queries for a client connection and streams their
// progress back as typed frames.
package stream

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/robbarto2/AgenticOps/internal/agent"
	"github.com/robbarto2/AgenticOps/internal/cards"
)

// Outbound frame types.
const (
	TypeAgentStart = "agent_start"
	TypeToolCall   = "tool_call"
	TypeText       = "text"
	TypeTableData  = "table_data"
	TypeCard       = "card"
	TypeDone       = "done"
	TypeError      = "error"
)

// Inbound message types.
const (
	TypeUserMessage = "user_message"
	TypeStop        = "stop"
)

// Tool call statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
)

// Stop reasons carried by a cancelled query's done frame.
const (
	ReasonUser       = "user"
	ReasonSuperseded = "superseded"
)

// GenericErrorMessage is the only error text a client sees for a failed
// query.
const GenericErrorMessage = "An error occurred while processing your query."

// DefaultSessionID is used when an inbound message names no session.
const DefaultSessionID = "default"

// Frame is one outbound message.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// AgentStart is the data of an agent_start frame.
type AgentStart struct {
	Agent string `json:"agent"`
}

// ToolCall is the data of a tool_call frame.
type ToolCall struct {
	Tool   string `json:"tool"`
	Source string `json:"source"`
	Status string `json:"status"`
}

// Stopped is the data of a done frame that ends a cancelled query.
type Stopped struct {
	Stopped bool   `json:"stopped"`
	Reason  string `json:"reason"`
}

// ErrorData is the data of an error frame.
type ErrorData struct {
	Message string `json:"message"`
}

// Inbound is a client message.
type Inbound struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

func errorFrame(msg string) Frame {
	return Frame{Type: TypeError, Data: ErrorData{Message: msg}}
}

func doneFrame() Frame {
	return Frame{Type: TypeDone, Data: nil}
}

func stoppedFrame(reason string) Frame {
	return Frame{Type: TypeDone, Data: Stopped{Stopped: true, Reason: reason}}
}

func cardFrame(c cards.Card) Frame {
	return Frame{Type: TypeCard, Data: c}
}

func tableFrame(t agent.TableData) Frame {
	return Frame{Type: TypeTableData, Data: t}
}

// eventFrame maps a progress event to its wire frame. Events without a
// wire form report false.
func eventFrame(ev agent.ProgressEvent) (Frame, bool) {
	switch ev.Kind {
	case agent.EventStageStarted:
		return Frame{Type: TypeAgentStart, Data: AgentStart{Agent: string(ev.Stage)}}, true
	case agent.EventToolStarted:
		return Frame{Type: TypeToolCall, Data: ToolCall{Tool: ev.Tool, Source: ev.Source, Status: StatusRunning}}, true
	case agent.EventToolFinished:
		return Frame{Type: TypeToolCall, Data: ToolCall{Tool: ev.Tool, Source: ev.Source, Status: StatusComplete}}, true
	case agent.EventText:
		return Frame{Type: TypeText, Data: ev.Text}, true
	}
	return Frame{}, false
}

// Sink receives a connection's outbound frames in order.
type Sink interface {
	Send(f Frame) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Frame) error

// Send calls f.
func (f SinkFunc) Send(fr Frame) error { return f(fr) }

// JSONLines writes each frame as one line of JSON.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines returns a sink writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

// Send encodes f followed by a newline.
func (j *JSONLines) Send(f Frame) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(f)
}
