package basileus

import (
	"log/slog"
	"time"

	"github.com/misaka10987/basileus/audit"
	"github.com/misaka10987/basileus/event"
	"github.com/misaka10987/basileus/pkce"
)

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the structured logger shared by all subsystems.
func WithLogger(log *slog.Logger) Option {
	return func(c *Core) {
		if log != nil {
			c.log = log
		}
	}
}

// WithAudit adds a persistent audit sink alongside the event bus. Pass
// the backing store itself to keep the audit trail in the database.
func WithAudit(sink audit.Logger) Option {
	return func(c *Core) { c.userSink = sink }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Core) {
		if fn != nil {
			c.clock = fn
		}
	}
}

// WithPKCEConfig sets the delegated authorization exchange configuration.
func WithPKCEConfig(cfg pkce.Config) Option {
	return func(c *Core) { c.pkceCfg = cfg }
}

// WithEventBus substitutes a caller-owned bus for the Core's own, so a
// host can subscribe before construction or share one bus across cores.
func WithEventBus(bus *event.Bus[audit.Entry]) Option {
	return func(c *Core) {
		if bus != nil {
			c.events = bus
		}
	}
}
