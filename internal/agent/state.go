// Package agent implements the query engine: the specialist tool loop,
// synthesis into cards, and the graph that connects them to the router.
package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/robbarto2/AgenticOps/internal/cards"
	"github.com/robbarto2/AgenticOps/internal/llm"
	"github.com/robbarto2/AgenticOps/internal/prompts"
	"github.com/robbarto2/AgenticOps/internal/router"
	"github.com/robbarto2/AgenticOps/internal/stage"
)

// EventKind tags a ProgressEvent.
type EventKind string

const (
	EventStageStarted EventKind = "stage_started"
	EventToolStarted  EventKind = "tool_started"
	EventToolFinished EventKind = "tool_finished"
	EventCardsReady   EventKind = "cards_ready"
	EventText         EventKind = "text"
	EventError        EventKind = "error"
	EventFinished     EventKind = "finished"
)

// ProgressEvent is one step of a query's progress. Only the fields
// relevant to Kind are set.
type ProgressEvent struct {
	Kind   EventKind   `json:"kind"`
	Stage  stage.Stage `json:"stage,omitempty"`
	Tool   string      `json:"tool,omitempty"`
	Source string      `json:"source,omitempty"`
	Text   string      `json:"text,omitempty"`
	Count  int         `json:"count,omitempty"`
}

// ToolInvocation records one executed tool call.
type ToolInvocation struct {
	Tool     string            `json:"tool"`
	Source   string            `json:"source"`
	Args     map[string]string `json:"args"`
	Result   string            `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Observation is the text fed back to the model for this call.
func (ti ToolInvocation) Observation() string {
	if ti.Error != "" {
		return "Error: " + ti.Error
	}
	return ti.Result
}

// ExecutionState is the working state of one query. It is owned by the
// single task running that query and is discarded when the graph ends.
// The accumulating slices only grow.
type ExecutionState struct {
	QueryID   string
	SessionID string
	Query     string
	// History holds earlier turns of the session, oldest first.
	History []llm.Message

	// PriorNarrative and PriorCardTitles seed a follow-up re-render.
	PriorNarrative  string
	PriorCardTitles []string

	Stage         stage.Stage
	GenerateCards bool
	FollowUp      bool
	Decision      *router.Decision

	Narrative   string
	ToolResults []ToolInvocation
	Events      []ProgressEvent
	Cards       []cards.Card
	Tables      []TableData

	onChange func()
}

// NewExecutionState creates the state for one query.
func NewExecutionState(queryID, sessionID, query string, history []llm.Message) *ExecutionState {
	return &ExecutionState{
		QueryID:   queryID,
		SessionID: sessionID,
		Query:     query,
		History:   history,
	}
}

// Emit appends a progress event and notifies the observer.
func (st *ExecutionState) Emit(ev ProgressEvent) {
	st.Events = append(st.Events, ev)
	st.changed()
}

func (st *ExecutionState) changed() {
	if st.onChange != nil {
		st.onChange()
	}
}

// Reply is the assistant text recorded in session history once the
// query succeeds.
func (st *ExecutionState) Reply() string {
	if st.Narrative != "" {
		return st.Narrative
	}
	if len(st.Cards) > 0 {
		return fmt.Sprintf("Presented %d card(s): %s", len(st.Cards), strings.Join(cards.Titles(st.Cards), "; "))
	}
	return prompts.EmptyResponseFallback
}
