// SPDX-License-Identifier: ice License 1.0

package relay

import (
	"sync"
	"time"

	"github.com/docmesh/docmesh/model"
)

type (
	Config struct {
		Relays         []string      `yaml:"relays" mapstructure:"relays"`
		ReconnectDelay time.Duration `yaml:"reconnectDelay" mapstructure:"reconnectDelay"`
		MaxRetries     int           `yaml:"maxRetries" mapstructure:"maxRetries"`
		DialTimeout    time.Duration `yaml:"dialTimeout" mapstructure:"dialTimeout"`
	}

	// Handler receives events matched to a live subscription.
	Handler func(subscriptionID string, event *model.Event)

	// Hooks are the kind-routing side effects the owning client plugs in.
	// Every hook may be nil.
	Hooks struct {
		// IsBlocked is the hard filter, applied before anything else.
		IsBlocked func(pubkey string) bool
		// OnDirectMessage receives encrypted DM events instead of generic dispatch.
		OnDirectMessage func(event *model.Event)
		// OnPresence receives presence heartbeats, they are not forwarded further.
		OnPresence func(event *model.Event)
		// OnProfileMetadata observes profile events in addition to generic dispatch.
		OnProfileMetadata func(event *model.Event)
	}

	ConnectionState string

	endpoint struct {
		url  string
		mx   sync.Mutex
		conn *connection
		// state transitions: Disconnected -> Connecting -> Open -> (Closing|Disconnected).
		state     ConnectionState
		retries   int
		abandoned bool
	}

	subscription struct {
		ID       string
		Filter   model.Filter
		Callback Handler
	}
)

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateOpen         ConnectionState = "open"
	StateClosing      ConnectionState = "closing"

	defaultReconnectDelay = 5 * time.Second
	defaultMaxRetries     = 5
	defaultDialTimeout    = 7 * time.Second
)

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	return &cfg
}
