package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/jsherman999/openclaw_logfeed/internal/accounts"
	"github.com/jsherman999/openclaw_logfeed/internal/bus"
	"github.com/jsherman999/openclaw_logfeed/internal/metrics"
	"github.com/jsherman999/openclaw_logfeed/internal/socket"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type API struct {
	bus         *bus.Bus
	metrics     *metrics.Metrics
	authn       accounts.Authenticator
	controllers []*socket.Controller
	ui          http.Handler
	log         *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

type Deps struct {
	Bus     *bus.Bus
	Metrics *metrics.Metrics
	// Authenticator guards the admin event stream; without one the stream
	// is not mounted.
	Authenticator accounts.Authenticator
	// UI is served at / when set.
	UI  http.Handler
	Log *zap.Logger
}

func New(d Deps, controllers ...*socket.Controller) *API {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &API{
		bus:         d.Bus,
		metrics:     d.Metrics,
		authn:       d.Authenticator,
		controllers: controllers,
		ui:          d.UI,
		log:         d.Log,
		stop:        make(chan struct{}),
	}
}

// Stop ends open event streams. http.Server.Shutdown does not.
func (a *API) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// GET /status: live and pending connections per controller
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		type status struct {
			Endpoints []string `json:"endpoints"`
			AuthMode  string   `json:"auth_mode"`
			Live      int      `json:"live"`
			Pending   int      `json:"pending"`
			Max       int      `json:"max_connections"`
		}
		out := make(map[string]status, len(a.controllers))
		for _, c := range a.controllers {
			reg := c.Registry()
			live := reg.Live()
			out[c.Name()] = status{
				Endpoints: c.Endpoints(),
				AuthMode:  string(c.AuthMode()),
				Live:      live,
				Pending:   reg.Len() - live,
				Max:       c.Config().MaxConnections,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler())
	}

	if a.bus != nil && a.authn != nil {
		r.Get("/events", a.events)
	}

	for _, c := range a.controllers {
		for _, e := range c.Endpoints() {
			r.Handle(e, c)
		}
	}

	// Web UI
	if a.ui != nil {
		r.Get("/", a.ui.ServeHTTP)
	}

	return r
}

type eventView struct {
	Kind   bus.Kind  `json:"kind"`
	Source string    `json:"source"`
	Client string    `json:"client,omitempty"`
	Path   string    `json:"endpoint,omitempty"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// events is an SSE stream of connection lifecycle events for administrators.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	token := accounts.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	acc, err := a.authn.Authenticate(r.Context(), accounts.Credentials{AccessToken: token})
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := socket.AdminOnly.Authorize(acc); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := a.bus.Stream(256, bus.KindConnect, bus.KindClose, bus.KindError)
	defer cancel()

	// send a comment to open stream
	_, _ = w.Write([]byte(": ok\n\n"))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-a.stop:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			v := eventView{Kind: ev.Kind, Source: ev.Source, Time: ev.Time}
			if ev.Peer != nil {
				v.Client = ev.Peer.ID()
				v.Path = ev.Peer.Endpoint()
			}
			if ev.Err != nil {
				v.Error = ev.Err.Error()
			}
			b, err := json.Marshal(v)
			if err != nil {
				a.log.Debug("encode event", zap.Error(err))
				continue
			}
			_, _ = w.Write([]byte("event: " + string(ev.Kind) + "\ndata: "))
			_, _ = w.Write(b)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
