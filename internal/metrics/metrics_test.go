package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsherman999/openclaw_logfeed/internal/bus"
	"github.com/jsherman999/openclaw_logfeed/internal/socket"
)

type peer string

func (p peer) ID() string         { return string(p) }
func (p peer) Endpoint() string   { return "/ws" }
func (p peer) Send(msg any) error { return nil }

func TestConnectionLifecycle(t *testing.T) {
	b := bus.New()
	m := New()
	defer m.Attach(b)()

	start := time.Now()
	require.NoError(t, b.Publish(bus.Event{Kind: bus.KindConnect, Source: "logs", Peer: peer("a"), Time: start}))
	require.NoError(t, b.Publish(bus.Event{Kind: bus.KindConnect, Source: "logs", Peer: peer("b"), Time: start}))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Connections.WithLabelValues("logs")))

	require.NoError(t, b.Publish(bus.Event{Kind: bus.KindClose, Source: "logs", Peer: peer("a"), Time: start.Add(3 * time.Second)}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections.WithLabelValues("logs")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Sessions))

	// a rejected client closes without having connected
	require.NoError(t, b.Publish(bus.Event{Kind: bus.KindClose, Source: "logs", Peer: peer("rejected")}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections.WithLabelValues("logs")))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues("logs", "connect")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues("logs", "close")))
}

func TestErrorCategories(t *testing.T) {
	b := bus.New()
	m := New()
	defer m.Attach(b)()

	require.NoError(t, b.Publish(bus.Event{Kind: bus.KindError, Source: "logs", Err: socket.Denied("Unauthorized access.")}))
	require.NoError(t, b.Publish(bus.Event{Kind: bus.KindError, Source: "logs", Err: errors.New("unexpected EOF")}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("logs", "authorization")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("logs", "transport")))
}

func TestRefusedAndHandler(t *testing.T) {
	m := New()
	m.RefusedAt("/websocket/logs")
	m.RefusedAt("/websocket/logs")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Refused.WithLabelValues("/websocket/logs")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `logfeed_ws_refused_total{endpoint="/websocket/logs"} 2`)
	assert.Contains(t, string(body), "go_goroutines")
}
