package prompts

import (
	"errors"
	"strings"
	"testing"

	"github.com/robbarto2/AgenticOps/internal/stage"
)

func TestSpecialistPrompt(t *testing.T) {
	for _, s := range stage.Specialists() {
		got, err := SpecialistPrompt(s, "\n\n## Available Skills\n\nskill body")
		if err != nil {
			t.Fatalf("SpecialistPrompt(%s): %v", s, err)
		}
		if !strings.Contains(got, "AgenticOps") || !strings.HasSuffix(got, "skill body") {
			t.Errorf("%s prompt malformed: %q", s, got[len(got)-40:])
		}
		if strings.Contains(got, "%!") {
			t.Errorf("%s prompt has a formatting error", s)
		}
	}
}

func TestSpecialistPrompt_NotSpecialist(t *testing.T) {
	if _, err := SpecialistPrompt(stage.Synthesis, ""); !errors.Is(err, stage.ErrUnknownStage) {
		t.Errorf("err = %v, want ErrUnknownStage", err)
	}
}

func TestClassifierPrompt_NamesEveryStage(t *testing.T) {
	got := ClassifierPrompt()
	for _, s := range stage.Specialists() {
		if !strings.Contains(got, "- "+string(s)+":") {
			t.Errorf("classifier prompt missing %s", s)
		}
	}
}

func TestCanvasPrompt(t *testing.T) {
	got := CanvasPrompt([]CardType{
		{Name: "data_table", Purpose: "For tabular data", Schema: `{"type":"object"}`},
		{Name: "text_report", Purpose: "For analysis narratives", Schema: `{}`},
	})
	for _, want := range []string{"1. data_table - For tabular data", "2. text_report", "#3b82f6", "ONLY a valid JSON array"} {
		if !strings.Contains(got, want) {
			t.Errorf("canvas prompt missing %q", want)
		}
	}
}

func TestCanvasRequest(t *testing.T) {
	got := CanvasRequest("list my networks", "You have 2 networks.", "No tool results available.")
	if !strings.HasPrefix(got, "User query: list my networks") || !strings.HasSuffix(got, "as a JSON array.") {
		t.Errorf("unexpected request: %q", got)
	}
}

func TestFollowUpDigest(t *testing.T) {
	if got := FollowUpDigest(nil); !strings.Contains(got, "none") {
		t.Errorf("got %q", got)
	}
	if got := FollowUpDigest([]string{"Networks", "Health"}); !strings.Contains(got, "Networks; Health") {
		t.Errorf("got %q", got)
	}
}
