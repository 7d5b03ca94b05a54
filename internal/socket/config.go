package socket

import (
	"fmt"
	"strings"
	"time"
)

type AuthMode string

const (
	// AuthStrict requires the identity to be resolved during the upgrade.
	AuthStrict AuthMode = "strict"
	// AuthHandshake waits for an auth message after the upgrade.
	AuthHandshake AuthMode = "handshake"
	// AuthPublic lets everyone in, anonymously if no token was given.
	AuthPublic AuthMode = "public"
)

func ParseAuthMode(s string) (AuthMode, error) {
	switch m := AuthMode(strings.ToLower(strings.TrimSpace(s))); m {
	case AuthStrict, AuthHandshake, AuthPublic:
		return m, nil
	}
	return "", fmt.Errorf("unknown auth mode %q (use strict|handshake|public)", s)
}

// Unbounded disables the connection cap.
const Unbounded = -1

type AuthConfig struct {
	Mode AuthMode
	// Timeout bounds the handshake wait. Zero means no grace period: the next
	// frame must carry the credential and must arrive within WriteWait.
	// Strict and public modes ignore it.
	Timeout time.Duration
}

// Config describes one controller. It is copied on New and never mutated.
type Config struct {
	Name           string
	Endpoints      []string
	MaxConnections int
	Auth           AuthConfig

	HeartbeatPeriod time.Duration
	SendBuffer      int
	ReadLimit       int64
	WriteWait       time.Duration
	// AllowedOrigins is matched against the Origin host; "*" allows any and
	// "*.example.com" allows subdomains. Empty allows same-host and
	// non-browser clients only.
	AllowedOrigins []string
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	c.Endpoints = append([]string(nil), c.Endpoints...)
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

func (c Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("controller name is required")
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("%s: at least one endpoint is required", c.Name)
	}
	for _, e := range c.Endpoints {
		if !strings.HasPrefix(e, "/") {
			return fmt.Errorf("%s: endpoint %q must start with /", c.Name, e)
		}
	}
	if c.MaxConnections < Unbounded {
		return fmt.Errorf("%s: max connections must be >= 0 or Unbounded", c.Name)
	}
	if _, err := ParseAuthMode(string(c.Auth.Mode)); err != nil {
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	if c.Auth.Timeout < 0 {
		return fmt.Errorf("%s: auth timeout must not be negative", c.Name)
	}
	return nil
}
