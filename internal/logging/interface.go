package logging

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// LogEvent is a single record produced by a logging front-end. Components in
// this module store, order and forward events without interpreting them.
type LogEvent struct {
	Timestamp time.Time
	Level     zapcore.Level
	Logger    string
	// Caller is the producing call site; it stands in for a thread name.
	Caller  string
	Message string
	Err     error
	Fields  map[string]any
	Labels  map[string]string
}

// EventSink accepts events without reporting failures back to the producer.
type EventSink interface {
	Append(event LogEvent)
}

type BatchSender interface {
	SendBatch(events []LogEvent) error
}

type BatchConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	QueueSize    int
}
