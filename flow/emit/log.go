package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter implements Emitter by writing structured log lines to a writer.
//
// Two output modes:
//   - Text mode (default): human-readable, key=value pairs
//   - JSON mode: one JSON object per line
//
// Example text output:
//
//	[retry_scheduled] level=info workflow=wf-001 step=build delay_ms=200
//
// Example JSON output:
//
//	{"workflow":"wf-001","step":"build","level":"info","msg":"retry_scheduled","meta":{"delay_ms":200}}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to w. A nil writer defaults to
// os.Stdout. When jsonMode is true, events are emitted as JSON lines.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{writer: w, jsonMode: jsonMode}
}

// Emit writes one line per event in the configured mode. Write errors are
// swallowed; an emitter must never disturb workflow execution.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

type jsonEvent struct {
	Workflow string                 `json:"workflow"`
	Step     string                 `json:"step,omitempty"`
	Level    Level                  `json:"level"`
	Msg      string                 `json:"msg"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

func (l *LogEmitter) emitJSON(event Event) {
	if event.Level == "" {
		event.Level = LevelInfo
	}
	data, err := json.Marshal(jsonEvent{
		Workflow: event.Workflow,
		Step:     event.Step,
		Level:    event.Level,
		Msg:      event.Msg,
		Meta:     event.Meta,
	})
	if err != nil {
		return
	}
	fmt.Fprintln(l.writer, string(data))
}

func (l *LogEmitter) emitText(event Event) {
	level := event.Level
	if level == "" {
		level = LevelInfo
	}
	line := fmt.Sprintf("[%s] level=%s workflow=%s", event.Msg, level, event.Workflow)
	if event.Step != "" {
		line += " step=" + event.Step
	}
	for k, v := range event.Meta {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	fmt.Fprintln(l.writer, line)
}
