package logger

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jsherman999/openclaw_logfeed/internal/bus"
)

type records struct {
	mu  sync.Mutex
	got []Record
}

func collect(b *bus.Bus) *records {
	r := &records{}
	b.Subscribe(func(ev bus.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.got = append(r.got, ev.Payload.(Record))
		return nil
	}, bus.KindLog)
	return r
}

func (r *records) all() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.got...)
}

func TestNew(t *testing.T) {
	log, err := New(Config{Level: "debug", Service: "logfeedd"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNewPublishesToBus(t *testing.T) {
	b := bus.New()
	recs := collect(b)

	log, err := New(Config{Level: "info", Service: "logfeedd"}, b)
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("server started", zap.String("url", "ws://localhost/ws"))

	got := recs.all()
	require.Len(t, got, 1)
	assert.Equal(t, zapcore.InfoLevel, got[0].Level)
	assert.Equal(t, "server started", got[0].Message)
	assert.Equal(t, "ws://localhost/ws", got[0].Fields["url"])
	assert.Equal(t, "logfeedd", got[0].Fields["service"])
	assert.NotEmpty(t, got[0].Caller)
}

func TestBusCoreTeesWithOtherCores(t *testing.T) {
	b := bus.New()
	recs := collect(b)
	obsCore, observed := observer.New(zapcore.DebugLevel)

	log := zap.New(zapcore.NewTee(obsCore, NewBusCore(b, zapcore.WarnLevel))).Named("socket")
	log.Info("connected")
	log.Warn("read failed", zap.Error(errors.New("eof")))

	assert.Equal(t, 2, observed.Len())
	got := recs.all()
	require.Len(t, got, 1)
	assert.Equal(t, "socket", got[0].Logger)
	assert.Equal(t, "eof", got[0].Fields["error"])
}

func TestBusCoreWithKeepsParentFieldsSeparate(t *testing.T) {
	b := bus.New()
	recs := collect(b)
	log := zap.New(NewBusCore(b, zapcore.DebugLevel))

	child := log.With(zap.String("client", "c1"))
	child.Info("one")
	log.Info("two")

	got := recs.all()
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].Fields["client"])
	assert.NotContains(t, got[1].Fields, "client")
}

func TestBusCoreIgnoresSubscriberFailure(t *testing.T) {
	b := bus.New()
	b.Subscribe(func(bus.Event) error { panic("bad subscriber") }, bus.KindLog)
	core := NewBusCore(b, zapcore.DebugLevel)

	err := core.Write(zapcore.Entry{Level: zapcore.InfoLevel, Message: "x"}, nil)
	assert.NoError(t, err)
}

func TestRecordData(t *testing.T) {
	r := Record{
		Level:   zapcore.ErrorLevel,
		Message: "boom",
		Fields:  map[string]any{"client": "c1", "msg": "shadowed"},
	}
	d := r.Data()
	assert.Equal(t, "error", d["level"])
	assert.Equal(t, "boom", d["msg"])
	assert.Equal(t, "c1", d["client"])
	assert.NotContains(t, d, "logger")
	assert.Equal(t, "shadowed", r.Fields["msg"], "Data must not mutate the record")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"trace":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in).Level(), in)
	}
}
