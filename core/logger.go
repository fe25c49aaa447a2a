package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger interface - minimal structured logging interface.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// NoOpLogger provides a no-op logger implementation.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

var levelRank = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
}

// ProductionLogger writes structured log lines to an io.Writer.
// Format is JSON when running under Kubernetes (log aggregation) or when
// explicitly requested, plain text otherwise. Safe for concurrent use.
type ProductionLogger struct {
	mu      sync.Mutex
	out     io.Writer
	level   int
	format  string
	service string
}

// NewProductionLogger creates a logger for the given service name.
// Level is one of debug/info/warn/error; unknown levels default to info.
func NewProductionLogger(service, level string) *ProductionLogger {
	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" || os.Getenv("RUNBOOKD_LOG_FORMAT") == "json" {
		format = "json"
	}

	rank, ok := levelRank[strings.ToUpper(level)]
	if !ok {
		rank = levelRank["INFO"]
	}

	return &ProductionLogger{
		out:     os.Stdout,
		level:   rank,
		format:  format,
		service: service,
	}
}

// SetOutput redirects log output, used by tests.
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log("ERROR", msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log("DEBUG", msg, fields)
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	if levelRank[level] < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "json" {
		entry := map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"level":     level,
			"service":   l.service,
			"message":   msg,
		}
		for k, v := range fields {
			// Errors do not marshal to anything useful by default
			if err, ok := v.(error); ok {
				entry[k] = err.Error()
				continue
			}
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(l.out, string(data))
		}
		return
	}

	// Text format: stable field ordering for readability
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %s: %s", time.Now().Format("15:04:05.000"), level, l.service, msg)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, fields[k])
	}
	fmt.Fprintln(l.out, sb.String())
}
