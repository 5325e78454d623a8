package sessionstore

import "time"

// Config defines the session store limits.
type Config struct {
	// MaxSessions is the maximum number of concurrently held sessions.
	MaxSessions int
	// IdleTimeout is how long a session may stay inactive before eviction.
	IdleTimeout time.Duration
	// PersistInterval is how often the full store is flushed to disk.
	PersistInterval time.Duration
}

// DefaultConfig returns the default session store configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxSessions:     10,
		IdleTimeout:     time.Hour,
		PersistInterval: 5 * time.Minute,
	}
}
