package app

import (
	"encoding/json"
	"io"
	"os"
	"time"
)

// Logger writes one JSON event per line. The TUI owns stdout, so the
// application logs to a file under the config dir instead.
type Logger struct {
	out   io.Writer
	debug bool
}

type LogEvent struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func NewLogger(out io.Writer) *Logger {
	return &Logger{
		out:   out,
		debug: os.Getenv("CAPTIONIT_DEBUG") == "1",
	}
}

func (l *Logger) Debug(message string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.write("debug", message, fields)
}

func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.write("info", message, fields)
}

func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.write("error", message, fields)
}

func (l *Logger) write(level, message string, fields map[string]interface{}) {
	evt := LogEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Fields:    fields,
	}
	payload, _ := json.Marshal(evt)
	payload = append(payload, '\n')
	_, _ = l.out.Write(payload)
}
