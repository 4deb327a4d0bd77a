package prompts

import (
	"fmt"
	"strings"
)

// canvasTemplate is the synthesis instruction. Format verb: the card
// type catalog rendered by CanvasPrompt.
const canvasTemplate = `You are the AgenticOps Canvas Agent. Your job is to take the analysis results from specialist agents and structure them as card directives for the frontend canvas.

You receive the user's query, the specialist's text response, and raw tool results. You must output a JSON array of card objects.

Every card has the shape { "type": "...", "title": "...", "source": "meraki|thousandeyes", "data": { ... } }.

Available card types and the JSON schema of their "data":
%s

Guidelines:
- Choose the most appropriate card type for the data
- Use meaningful, descriptive titles
- Set the correct source ("meraki" or "thousandeyes") based on where the data came from
- Extract and transform raw tool results into clean card data
- Create multiple cards when the data covers different aspects
- Use colors that work on a dark theme (blue: #3b82f6, green: #10b981, amber: #f59e0b, red: #ef4444, purple: #8b5cf6)

Respond with ONLY a valid JSON array of card objects. No other text.`

// CardType describes one card shape for the canvas instruction.
type CardType struct {
	Name    string
	Purpose string
	Schema  string
}

// CanvasPrompt returns the synthesis system instruction listing types
// in order.
func CanvasPrompt(types []CardType) string {
	var sb strings.Builder
	for i, t := range types {
		fmt.Fprintf(&sb, "\n%d. %s - %s\n%s\n", i+1, t.Name, t.Purpose, t.Schema)
	}
	return fmt.Sprintf(canvasTemplate, sb.String())
}

// canvasRequestTemplate is the user turn of the synthesis call. Format
// verbs: query, specialist narrative, tool digest.
const canvasRequestTemplate = `User query: %s

Specialist analysis:
%s

Tool results:
%s

Generate card directives as a JSON array.`

// CanvasRequest returns the user message for the synthesis call.
func CanvasRequest(query, narrative, digest string) string {
	return fmt.Sprintf(canvasRequestTemplate, query, narrative, digest)
}

// followUpTemplate is used instead of the tool digest when the user asks
// to re-render earlier results. Format verb: earlier card titles.
const followUpTemplate = `No new tools were called. The user wants the previous analysis presented as cards.
Cards already on the canvas: %s`

// FollowUpDigest returns the tool-results section for a re-render of an
// earlier answer.
func FollowUpDigest(previousTitles []string) string {
	titles := "none"
	if len(previousTitles) > 0 {
		titles = strings.Join(previousTitles, "; ")
	}
	return fmt.Sprintf(followUpTemplate, titles)
}
