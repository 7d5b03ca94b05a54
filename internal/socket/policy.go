package socket

import "github.com/jsherman999/openclaw_logfeed/internal/accounts"

// Policy decides whether an authenticated identity may use a controller.
// It runs once per connection, before the connection goes live.
type Policy interface {
	Authorize(acc *accounts.Accountability) error
}

type PolicyFunc func(acc *accounts.Accountability) error

func (f PolicyFunc) Authorize(acc *accounts.Accountability) error { return f(acc) }

// AllowAll admits every authenticated identity, anonymous ones included.
var AllowAll Policy = PolicyFunc(func(*accounts.Accountability) error { return nil })

// AdminOnly admits administrators only.
var AdminOnly Policy = PolicyFunc(func(acc *accounts.Accountability) error {
	if acc == nil || !acc.Admin {
		return Denied("Unauthorized access.")
	}
	return nil
})
