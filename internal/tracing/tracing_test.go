package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/robbarto2/AgenticOps/internal/config"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.TracingConfig
		recording bool
	}{
		{"disabled", config.TracingConfig{}, false},
		{"exporter none", config.TracingConfig{Enabled: true, Exporter: "none"}, false},
		{"stdout", config.TracingConfig{Enabled: true, Exporter: "stdout"}, true},
		{"default exporter", config.TracingConfig{Enabled: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p, err := Setup(tt.cfg, &buf)
			if err != nil {
				t.Fatal(err)
			}
			_, span := p.Tracer("test").Start(context.Background(), "node discovery")
			if span.IsRecording() != tt.recording {
				t.Errorf("recording = %v, want %v", span.IsRecording(), tt.recording)
			}
			span.End()

			if err := p.Shutdown(context.Background()); err != nil {
				t.Fatal(err)
			}
			exported := strings.Contains(buf.String(), `"node discovery"`)
			if exported != tt.recording {
				t.Errorf("span exported = %v, want %v:\n%s", exported, tt.recording, buf.String())
			}
			if tt.recording && !strings.Contains(buf.String(), "agenticops") {
				t.Error("resource missing service name")
			}
		})
	}
}
