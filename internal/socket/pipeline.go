package socket

import (
	"go.uber.org/zap"

	"github.com/jsherman999/openclaw_logfeed/internal/bus"
)

// handleFrame runs one inbound frame through the pipeline: drop unless
// authenticated, decode, answer pings, publish. Nothing here closes the
// connection.
func (c *Controller) handleFrame(cl *Client, f Frame, log *zap.Logger) {
	if cl.State() != StateAuthenticated {
		return
	}

	env, err := Decode(f)
	if err != nil {
		e := malformed(err)
		c.publishError(cl, e, log)
		if serr := cl.Send(e.Wire()); serr != nil {
			log.Debug("send error message", zap.Error(serr))
		}
		return
	}

	if env.Type == "ping" {
		pong := map[string]string{"type": "pong"}
		if env.UID != "" {
			pong["uid"] = env.UID
		}
		_ = cl.Send(pong)
		return
	}

	err = c.bus.Publish(bus.Event{Kind: bus.KindMessage, Source: c.cfg.Name, Peer: cl, Payload: env})
	if err != nil {
		e := consumerFailure(env, err)
		log.Warn("message handler failed", zap.String("type", env.Type), zap.Error(err))
		c.publishError(cl, e, log)
		if serr := cl.Send(e.Wire()); serr != nil {
			log.Debug("send error message", zap.Error(serr))
		}
	}
}

func (c *Controller) publishError(cl *Client, e *Error, log *zap.Logger) {
	if err := c.bus.Publish(bus.Event{Kind: bus.KindError, Source: c.cfg.Name, Peer: cl, Err: e}); err != nil {
		log.Debug("error subscribers failed", zap.Error(err))
	}
}
