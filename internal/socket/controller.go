package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jsherman999/openclaw_logfeed/internal/accounts"
	"github.com/jsherman999/openclaw_logfeed/internal/bus"
)

type Deps struct {
	Bus *bus.Bus
	Log *zap.Logger
	// Authenticator resolves upgrade-time tokens and handshake credentials.
	// Required unless the controller is public.
	Authenticator accounts.Authenticator
	// Policy defaults to AllowAll.
	Policy Policy
	// OnRefuse is called for every connection turned away at capacity.
	// Refusals happen before connect and never reach the bus.
	OnRefuse func(endpoint string)
}

// Controller runs the connection lifecycle for a set of endpoints:
// capacity check, authentication, authorization, then the message pipeline.
type Controller struct {
	cfg      Config
	bus      *bus.Bus
	log      *zap.Logger
	authn    accounts.Authenticator
	policy   Policy
	onRefuse func(string)
	registry *Registry
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// errGone means the peer went away (or the server is stopping) before the
// lifecycle finished; it is not reported to the client.
var errGone = errors.New("connection gone")

func New(cfg Config, d Deps) (*Controller, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if d.Bus == nil {
		return nil, fmt.Errorf("%s: event bus is required", cfg.Name)
	}
	if d.Authenticator == nil && cfg.Auth.Mode != AuthPublic {
		return nil, fmt.Errorf("%s: %s mode needs an authenticator", cfg.Name, cfg.Auth.Mode)
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Policy == nil {
		d.Policy = AllowAll
	}
	log := d.Log.With(zap.String("controller", cfg.Name))

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		bus:      d.Bus,
		log:      log,
		authn:    d.Authenticator,
		policy:   d.Policy,
		onRefuse: d.OnRefuse,
		registry: NewRegistry(cfg, d.Bus, log),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     c.checkOrigin,
	}
	return c, nil
}

func (c *Controller) Name() string { return c.cfg.Name }
func (c *Controller) Config() Config { return c.cfg }
func (c *Controller) Registry() *Registry { return c.registry }
func (c *Controller) Endpoints() []string { return append([]string(nil), c.cfg.Endpoints...) }
func (c *Controller) AuthMode() AuthMode { return c.cfg.Auth.Mode }

// LogStartup writes one line per endpoint.
func (c *Controller) LogStartup(host string) {
	for _, e := range c.cfg.Endpoints {
		c.log.Info("websocket server started",
			zap.String("url", "ws://"+host+e),
			zap.String("auth_mode", string(c.cfg.Auth.Mode)),
			zap.Int("max_connections", c.cfg.MaxConnections))
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.registry.Closed() {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	if c.registry.Full() {
		c.refused(r.URL.Path)
		c.log.Debug("websocket upgrade denied, max connections reached", zap.String("remote", r.RemoteAddr))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	pre, preErr := c.resolveUpgrade(r)

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Debug("websocket upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}
	c.Serve(r.Context(), r.URL.Path, conn, pre, preErr)
}

// resolveUpgrade authenticates a token supplied with the upgrade request, via
// the access_token query parameter or an Authorization bearer header.
func (c *Controller) resolveUpgrade(r *http.Request) (*accounts.Accountability, error) {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		token = accounts.BearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		return nil, nil
	}
	if c.authn == nil {
		return nil, authFailed("Token authentication is not available.", nil)
	}
	acc, err := c.authn.Authenticate(r.Context(), accounts.Credentials{AccessToken: token})
	if err != nil {
		return nil, err
	}
	acc.IP = remoteIP(r, c.cfg.TrustProxy)
	return acc, nil
}

// Serve runs the full lifecycle of one transport on the calling goroutine.
// pre is the identity resolved during the upgrade (nil if none) and preErr the
// failure to resolve a token that was presented.
func (c *Controller) Serve(ctx context.Context, endpoint string, t Transport, pre *accounts.Accountability, preErr error) {
	if !c.track() {
		c.refuse(t, ErrShuttingDown)
		return
	}
	defer c.wg.Done()

	cl, err := c.registry.Register(endpoint, t)
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			c.refused(endpoint)
		}
		c.refuse(t, err)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	log := c.log.With(zap.String("client", cl.ID()), zap.String("endpoint", endpoint))

	frames := make(chan Frame)
	go cl.readPump(frames, c.cfg.ReadLimit, c.cfg.HeartbeatPeriod)
	go cl.writePump(c.cfg.HeartbeatPeriod)

	acc, handshake, err := c.authenticate(ctx, cl, pre, preErr, frames)
	if err == nil {
		err = c.authorize(acc)
	}
	if err != nil {
		if errors.Is(err, errGone) {
			c.finish(cl, log)
			return
		}
		c.reject(cl, err, log)
		return
	}

	if err := cl.authenticated(acc); err != nil {
		log.Error("authenticate client", zap.Error(err))
		c.finish(cl, log)
		return
	}
	if err := c.registry.Activate(cl.ID()); err != nil {
		// released concurrently, e.g. by Shutdown
		c.finish(cl, log)
		return
	}
	if handshake {
		_ = cl.Send(map[string]string{"type": "auth", "status": "ok"})
	}
	if err := c.bus.Publish(bus.Event{Kind: bus.KindConnect, Source: c.cfg.Name, Peer: cl}); err != nil {
		log.Warn("connect subscribers failed", zap.Error(err))
	}
	log.Info("websocket client connected", zap.String("user", acc.User), zap.Bool("admin", acc.Admin), zap.Bool("anonymous", acc.Anonymous))

	for f := range frames {
		c.handleFrame(cl, f, log)
	}
	c.finish(cl, log)
}

// authenticate resolves the client's identity according to the auth mode.
// It reports whether the identity came from a handshake message.
func (c *Controller) authenticate(ctx context.Context, cl *Client, pre *accounts.Accountability, preErr error, frames <-chan Frame) (*accounts.Accountability, bool, error) {
	if preErr != nil {
		if e, ok := AsError(preErr); ok {
			return nil, false, e
		}
		return nil, false, authFailed("Invalid credentials.", preErr)
	}

	switch c.cfg.Auth.Mode {
	case AuthStrict:
		if pre == nil {
			return nil, false, authFailed("Authentication required.", nil)
		}
		return pre, false, nil

	case AuthPublic:
		if pre == nil {
			pre = accounts.Anonymous("")
		}
		return pre, false, nil

	case AuthHandshake:
		if pre != nil {
			return pre, false, nil
		}
		if err := cl.transition(StateAuthenticating); err != nil {
			return nil, false, err
		}
		// without a grace period the credential must be the next frame,
		// which still has to arrive within WriteWait
		wait := c.cfg.Auth.Timeout
		if wait == 0 {
			wait = c.cfg.WriteWait
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case f, ok := <-frames:
			if !ok {
				return nil, false, errGone
			}
			acc, err := c.credential(ctx, f)
			return acc, true, err
		case <-timer.C:
			return nil, false, authTimeout()
		case <-ctx.Done():
			return nil, false, errGone
		}
	}
	return nil, false, fmt.Errorf("unknown auth mode %q", c.cfg.Auth.Mode)
}

// credential checks a handshake frame. Anything but a valid auth message is
// a failure.
func (c *Controller) credential(ctx context.Context, f Frame) (*accounts.Accountability, error) {
	env, err := Decode(f)
	if err != nil {
		return nil, authFailed("Expected an auth message.", err)
	}
	if env.Type != "auth" {
		return nil, authFailed("Expected an auth message.", nil)
	}
	var cred accounts.Credentials
	if err := env.Bind(&cred); err != nil {
		return nil, authFailed("Expected an auth message.", err)
	}
	if cred.Empty() {
		return nil, authFailed("Missing credentials.", nil)
	}
	acc, err := c.authn.Authenticate(ctx, cred)
	if err != nil {
		return nil, authFailed("Invalid credentials.", err)
	}
	return acc, nil
}

func (c *Controller) authorize(acc *accounts.Accountability) error {
	if acc == nil {
		return authFailed("Authentication required.", nil)
	}
	err := c.policy.Authorize(acc)
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return Denied(err.Error())
}

// reject reports a fatal failure to the client and the bus, then closes it.
func (c *Controller) reject(cl *Client, err error, log *zap.Logger) {
	e, ok := AsError(err)
	if !ok {
		e = authFailed("Authentication failed.", err)
	}
	_ = cl.transition(StateRejected)
	if werr := cl.writeNow(e.Wire()); werr != nil {
		log.Debug("write rejection", zap.Error(werr))
	}
	c.publishError(cl, e, log)
	log.Info("websocket client rejected", zap.String("code", e.Code), zap.String("category", string(e.Category)), zap.Error(err))
	c.registry.release(cl.ID(), websocket.ClosePolicyViolation, e.Message)
}

// refuse turns away a transport that never got a slot.
func (c *Controller) refuse(t Transport, err error) {
	if e, ok := AsError(err); ok {
		if b, encErr := encode(e.Wire()); encErr == nil {
			_ = t.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			_ = t.WriteMessage(websocket.TextMessage, b)
		}
	}
	code, reason := websocket.CloseTryAgainLater, "capacity"
	if errors.Is(err, ErrShuttingDown) {
		code, reason = websocket.CloseGoingAway, "server shutting down"
	}
	_ = t.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.cfg.WriteWait))
	_ = t.Close()
}

// track counts a lifecycle for Shutdown to wait on. It fails once Shutdown
// has started.
func (c *Controller) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Controller) refused(endpoint string) {
	if c.onRefuse != nil {
		c.onRefuse(endpoint)
	}
}

// finish tears a client down after its reader stopped.
func (c *Controller) finish(cl *Client, log *zap.Logger) {
	if err := cl.lastReadErr(); err != nil && !cl.closed() &&
		websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		if perr := c.bus.Publish(bus.Event{Kind: bus.KindError, Source: c.cfg.Name, Peer: cl, Err: err}); perr != nil {
			log.Debug("error subscribers failed", zap.Error(perr))
		}
		log.Warn("websocket read failed", zap.Error(err))
	}
	if c.registry.Release(cl.ID()) {
		log.Info("websocket client disconnected")
	}
}

// Shutdown closes every connection and waits for their lifecycles to end.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()

	c.cancel()
	n := c.registry.Close(websocket.CloseGoingAway, "server shutting down")
	c.log.Info("websocket controller stopping", zap.Int("closed", n))

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s shutdown: %w", c.cfg.Name, ctx.Err())
	}
}

func (c *Controller) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if len(c.cfg.AllowedOrigins) == 0 {
		reqHost := r.Host
		if h, _, err := net.SplitHostPort(reqHost); err == nil {
			reqHost = h
		}
		return strings.EqualFold(host, reqHost)
	}
	for _, allowed := range c.cfg.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, host) {
			return true
		}
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(host, allowed[1:]) {
			return true
		}
	}
	c.log.Warn("rejected websocket origin", zap.String("origin", origin))
	return false
}

// remoteIP is the peer address, or the first X-Forwarded-For entry when the
// controller sits behind a trusted proxy.
func remoteIP(r *http.Request, trustProxy bool) string {
	if fwd := r.Header.Get("X-Forwarded-For"); trustProxy && fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
