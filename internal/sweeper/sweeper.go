// Package sweeper runs the daemon's periodic background maintenance: idle
// session eviction and interval persistence, kept off the request path.
package sweeper

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fentz26/tether/internal/sessionstore"
)

// Config defines the sweep cadence.
type Config struct {
	// EvictInterval is how often idle sessions are checked.
	EvictInterval time.Duration
	// PersistInterval is how often the full store is flushed.
	PersistInterval time.Duration
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() *Config {
	return &Config{
		EvictInterval:   time.Minute,
		PersistInterval: 5 * time.Minute,
	}
}

// Sweeper owns the background maintenance loops.
type Sweeper struct {
	store  *sessionstore.Store
	config *Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sweeper over the session store.
func New(store *sessionstore.Store, cfg *Config) *Sweeper {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:  store,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the eviction and persistence loops.
func (sw *Sweeper) Start() {
	sw.wg.Add(2)
	go sw.evictLoop()
	go sw.persistLoop()
	log.Println("Sweeper started")
}

// Stop cancels the loops, flushes the store one last time, and waits for the
// loops to exit.
func (sw *Sweeper) Stop() {
	sw.cancel()
	sw.wg.Wait()
	if err := sw.store.PersistAll(); err != nil {
		log.Printf("Final persist failed: %v", err)
	}
	log.Println("Sweeper stopped")
}

func (sw *Sweeper) evictLoop() {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.config.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.ctx.Done():
			return
		case <-ticker.C:
			if evicted := sw.store.EvictIdle(time.Now().UTC()); len(evicted) > 0 {
				log.Printf("Evicted %d idle session(s): %v", len(evicted), evicted)
			}
		}
	}
}

func (sw *Sweeper) persistLoop() {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.config.PersistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.ctx.Done():
			return
		case <-ticker.C:
			// Failures are logged inside PersistAll and retried on the
			// next tick.
			sw.store.PersistAll()
		}
	}
}
