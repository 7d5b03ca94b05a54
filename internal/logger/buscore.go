package logger

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/jsherman999/openclaw_logfeed/internal/bus"
)

// Source is the event source of log records.
const Source = "logger"

// Record is the payload of a bus.KindLog event.
type Record struct {
	Level   zapcore.Level
	Time    time.Time
	Logger  string
	Message string
	Caller  string
	Fields  map[string]any
}

// Data flattens the record into the object sent to log subscribers.
func (r Record) Data() map[string]any {
	m := make(map[string]any, len(r.Fields)+5)
	for k, v := range r.Fields {
		m[k] = v
	}
	m["level"] = r.Level.String()
	m["time"] = r.Time.UTC().Format(time.RFC3339Nano)
	m["msg"] = r.Message
	if r.Logger != "" {
		m["logger"] = r.Logger
	}
	if r.Caller != "" {
		m["caller"] = r.Caller
	}
	return m
}

// BusCore is a zapcore.Core that publishes entries on the bus instead of
// writing them anywhere. Subscribers to KindLog must not log through a logger
// built on this core.
type BusCore struct {
	zapcore.LevelEnabler
	bus    *bus.Bus
	fields []zapcore.Field
}

func NewBusCore(b *bus.Bus, enab zapcore.LevelEnabler) *BusCore {
	return &BusCore{LevelEnabler: enab, bus: b}
}

func (c *BusCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return &clone
}

func (c *BusCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *BusCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	rec := Record{
		Level:   ent.Level,
		Time:    ent.Time,
		Logger:  ent.LoggerName,
		Message: ent.Message,
		Fields:  enc.Fields,
	}
	if ent.Caller.Defined {
		rec.Caller = ent.Caller.TrimmedPath()
	}
	// subscriber failures are theirs; logging must never fail because of them
	_ = c.bus.Publish(bus.Event{Kind: bus.KindLog, Source: Source, Payload: rec, Time: ent.Time})
	return nil
}

func (c *BusCore) Sync() error { return nil }
