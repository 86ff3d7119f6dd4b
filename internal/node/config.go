package node

import "time"

// BackoffConfig defines retransmission backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// HostConfig defines host reliability defaults.
type HostConfig struct {
	// MaxAttempts bounds transmissions of one fragment before the session
	// is abandoned.
	MaxAttempts int
	// AckTimeout resends a fragment nobody acknowledged or refused.
	AckTimeout time.Duration
	// DiscoveryInterval is the minimum gap between two floods.
	DiscoveryInterval time.Duration
	// RouteTimeout abandons messages waiting for a route.
	RouteTimeout time.Duration
	// ReassemblyTimeout evicts incomplete inbound sessions; zero keeps them.
	ReassemblyTimeout time.Duration
	TickInterval      time.Duration
	Backoff           BackoffConfig
}

func DefaultHostConfig() HostConfig {
	return HostConfig{
		MaxAttempts:       8,
		AckTimeout:        2 * time.Second,
		DiscoveryInterval: 250 * time.Millisecond,
		RouteTimeout:      5 * time.Second,
		ReassemblyTimeout: 30 * time.Second,
		TickInterval:      20 * time.Millisecond,
		Backoff: BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     500 * time.Millisecond,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultHostConfig.
func (c HostConfig) WithDefaults() HostConfig {
	def := DefaultHostConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = def.DiscoveryInterval
	}
	if c.RouteTimeout <= 0 {
		c.RouteTimeout = def.RouteTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
