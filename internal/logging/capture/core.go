package capture

import (
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Chichichkin/bootlog/internal/logging"
)

// Core is a zapcore.Core that turns every enabled entry into a LogEvent and
// appends it to an EventSink.
type Core struct {
	zapcore.LevelEnabler
	sink   logging.EventSink
	fields []zapcore.Field
}

func NewCore(sink logging.EventSink, enab zapcore.LevelEnabler) zapcore.Core {
	return &Core{LevelEnabler: enab, sink: sink}
}

func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return &clone
}

func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *Core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	c.sink.Append(toEvent(ent, c.fields, fields))
	return nil
}

func (c *Core) Sync() error {
	return nil
}

func toEvent(ent zapcore.Entry, groups ...[]zapcore.Field) logging.LogEvent {
	event := logging.LogEvent{
		Timestamp: ent.Time,
		Level:     ent.Level,
		Logger:    ent.LoggerName,
		Message:   ent.Message,
	}
	if ent.Caller.Defined {
		event.Caller = ent.Caller.TrimmedPath()
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, fields := range groups {
		for _, f := range fields {
			if f.Type == zapcore.ErrorType && f.Key == "error" {
				if err, ok := f.Interface.(error); ok {
					event.Err = err
					continue
				}
			}
			f.AddTo(enc)
		}
	}
	if len(enc.Fields) > 0 {
		event.Fields = enc.Fields
	}
	return event
}

// Replay writes events to core in order, skipping levels the core does not
// enable. Replayed entries carry a "bootstrap" field.
func Replay(core zapcore.Core, events []logging.LogEvent) error {
	var errs error
	for _, event := range events {
		if !core.Enabled(event.Level) {
			continue
		}
		ent := zapcore.Entry{
			Level:      event.Level,
			Time:       event.Timestamp,
			LoggerName: event.Logger,
			Message:    event.Message,
		}
		errs = multierr.Append(errs, core.Write(ent, replayFields(event)))
	}
	return errs
}

func replayFields(event logging.LogEvent) []zapcore.Field {
	fields := make([]zapcore.Field, 0, len(event.Fields)+len(event.Labels)+3)
	fields = append(fields, zap.Bool("bootstrap", true))
	if event.Caller != "" {
		fields = append(fields, zap.String("origin", event.Caller))
	}
	if event.Err != nil {
		fields = append(fields, zap.Error(event.Err))
	}

	keys := make([]string, 0, len(event.Fields))
	for k := range event.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, event.Fields[k]))
	}

	keys = keys[:0]
	for k := range event.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.String("label."+k, event.Labels[k]))
	}
	return fields
}
