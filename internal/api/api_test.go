package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsherman999/openclaw_logfeed/internal/accounts"
	"github.com/jsherman999/openclaw_logfeed/internal/bus"
	"github.com/jsherman999/openclaw_logfeed/internal/metrics"
	"github.com/jsherman999/openclaw_logfeed/internal/socket"
)

var tokens = accounts.AuthenticatorFunc(func(_ context.Context, c accounts.Credentials) (*accounts.Accountability, error) {
	switch c.AccessToken {
	case "admin":
		return &accounts.Accountability{User: "admin", Admin: true}, nil
	case "editor":
		return &accounts.Accountability{User: "editor"}, nil
	}
	return nil, accounts.ErrInvalidCredentials
})

type peer string

func (p peer) ID() string       { return string(p) }
func (p peer) Endpoint() string { return "/ws" }
func (p peer) Send(any) error   { return nil }

func newServer(t *testing.T) (*httptest.Server, *bus.Bus, *socket.Controller, *API) {
	t.Helper()
	b := bus.New()
	m := metrics.New()
	m.Attach(b)
	c, err := socket.New(socket.Config{
		Name:           "public",
		Endpoints:      []string{"/ws"},
		MaxConnections: 2,
		Auth:           socket.AuthConfig{Mode: socket.AuthPublic},
	}, socket.Deps{Bus: b, OnRefuse: m.RefusedAt})
	require.NoError(t, err)

	a := New(Deps{Bus: b, Metrics: m, Authenticator: tokens}, c)
	srv := httptest.NewServer(a.Router())
	t.Cleanup(func() {
		a.Stop()
		_ = c.Shutdown(context.Background())
		srv.Close()
	})
	return srv, b, c, a
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newServer(t)
	resp := get(t, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestControllerEndpointsAreMounted(t *testing.T) {
	srv, _, c, _ := newServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return c.Registry().Live() == 1 }, 3*time.Second, 10*time.Millisecond)

	resp := get(t, srv.URL+"/status", "")
	var status map[string]struct {
		Live int `json:"live"`
		Max  int `json:"max_connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 1, status["public"].Live)
	assert.Equal(t, 2, status["public"].Max)

	resp = get(t, srv.URL+"/metrics", "")
	body := new(strings.Builder)
	_, err = bufio.NewReader(resp.Body).WriteTo(body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `logfeed_ws_connections{source="public"} 1`)
}

func TestEventsRequiresAdmin(t *testing.T) {
	srv, _, _, _ := newServer(t)
	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/events", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/events", "bogus").StatusCode)
	assert.Equal(t, http.StatusForbidden, get(t, srv.URL+"/events", "editor").StatusCode)
}

func TestEventsStream(t *testing.T) {
	srv, b, _, _ := newServer(t)

	resp := get(t, srv.URL+"/events", "admin")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ok\n", line)

	require.NoError(t, b.Publish(bus.Event{Kind: bus.KindMessage, Source: "public", Peer: peer("c1")}))
	require.NoError(t, b.Publish(bus.Event{Kind: bus.KindConnect, Source: "public", Peer: peer("c1")}))

	var event, data string
	for data == "" {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	assert.Equal(t, "connect", event)

	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &v))
	assert.Equal(t, "public", v["source"])
	assert.Equal(t, "c1", v["client"])
	assert.Equal(t, "/ws", v["endpoint"])
}
