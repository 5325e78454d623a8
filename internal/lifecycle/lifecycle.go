// Package lifecycle composes pairing status, channel state and device
// permissions into the single app state a client UI renders. It owns no
// networking itself; it only orchestrates signals from the injected
// collaborators.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/fentz26/tether/internal/models"
	"github.com/fentz26/tether/internal/transport"
)

// Phase is the coarse app phase.
type Phase string

const (
	PhaseLaunching        Phase = "launching"
	PhaseNeedsPairing     Phase = "needsPairing"
	PhaseNeedsPermissions Phase = "needsPermissions"
	PhaseReady            Phase = "ready"
	PhaseBackground       Phase = "background"
	PhaseError            Phase = "error"
)

// AppState is the observable client state. Message is set for PhaseError.
type AppState struct {
	Phase   Phase
	Message string
}

// HostEvent is a process lifecycle notification from the host environment.
type HostEvent int

const (
	EventForeground HostEvent = iota
	EventBackground
	EventTerminate
)

// EventSource delivers host lifecycle events. The host platform implements
// this, keeping the coordinator platform-agnostic.
type EventSource interface {
	Events() <-chan HostEvent
}

// Pairing is the slice of the pairing configurator the coordinator needs.
type Pairing interface {
	IsPaired() bool
	Current() (*models.ConnectionDescriptor, error)
	Persist(d *models.ConnectionDescriptor) error
	Reset() error
}

// Prober checks connectivity to the paired daemon.
type Prober interface {
	Probe(ctx context.Context, d *models.ConnectionDescriptor) error
}

// Permissions reports whether required device permissions are granted.
type Permissions interface {
	Granted() bool
}

// Channel is the slice of the transport the coordinator observes. The
// coordinator never mutates connection state directly.
type Channel interface {
	State() transport.State
	SubscribeState() (<-chan transport.State, func())
	Disconnect()
}

// Config tunes the coordinator.
type Config struct {
	// BackgroundThreshold is how much accumulated background time forces a
	// fresh connectivity probe on foregrounding.
	BackgroundThreshold time.Duration
	// ProbeTimeout bounds a single connectivity probe.
	ProbeTimeout time.Duration
	// OnPause and OnResume, when set, are invoked as the app enters and
	// leaves the background so dependent subsystems can pause non-essential
	// work.
	OnPause  func()
	OnResume func()
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() *Config {
	return &Config{
		BackgroundThreshold: 5 * time.Minute,
		ProbeTimeout:        5 * time.Second,
	}
}

// Coordinator is the client-side app state machine.
type Coordinator struct {
	cfg     *Config
	pairing Pairing
	prober  Prober
	perms   Permissions
	channel Channel

	mu    sync.Mutex
	state AppState

	sessionStartedAt time.Time
	backgroundSince  time.Time
	backgroundAccum  time.Duration

	subMu     sync.Mutex
	nextSubID int
	subs      map[int]chan AppState

	// now is swappable for deterministic background-threshold tests.
	now func() time.Time
}

// New creates a Coordinator. Pass a nil config for defaults.
func New(cfg *Config, pairing Pairing, prober Prober, perms Permissions, channel Channel) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		cfg:     cfg,
		pairing: pairing,
		prober:  prober,
		perms:   perms,
		channel: channel,
		state:   AppState{Phase: PhaseLaunching},
		subs:    make(map[int]chan AppState),
		now:     time.Now,
	}
}

// State returns the current app state.
func (c *Coordinator) State() AppState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe attaches an app state observer. The current state is delivered
// first, then every transition. Observers read, never mutate.
func (c *Coordinator) Subscribe() (<-chan AppState, func()) {
	ch := make(chan AppState, 16)

	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = ch
	c.subMu.Unlock()

	ch <- c.State()

	cancel := func() {
		c.subMu.Lock()
		if s, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(s)
		}
		c.subMu.Unlock()
	}
	return ch, cancel
}

func (c *Coordinator) setState(s AppState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	c.subMu.Lock()
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
		}
	}
	c.subMu.Unlock()
}

// Initialize runs the launch sequence: pairing check, permissions check,
// connectivity probe.
func (c *Coordinator) Initialize(ctx context.Context) AppState {
	c.setState(AppState{Phase: PhaseLaunching})

	if !c.pairing.IsPaired() {
		c.setState(AppState{Phase: PhaseNeedsPairing})
		return c.State()
	}
	if !c.perms.Granted() {
		c.setState(AppState{Phase: PhaseNeedsPermissions})
		return c.State()
	}

	if err := c.probe(ctx); err != nil {
		c.setState(AppState{Phase: PhaseError, Message: err.Error()})
		return c.State()
	}

	c.mu.Lock()
	c.sessionStartedAt = c.now()
	c.backgroundAccum = 0
	c.mu.Unlock()

	c.setState(AppState{Phase: PhaseReady})
	return c.State()
}

func (c *Coordinator) probe(ctx context.Context) error {
	d, err := c.pairing.Current()
	if err != nil {
		return err
	}
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	return c.prober.Probe(probeCtx, d)
}

// Pair parses and persists a pairing payload, then re-runs initialization.
// A successful persist is the only way out of needsPairing.
func (c *Coordinator) Pair(ctx context.Context, d *models.ConnectionDescriptor) (AppState, error) {
	if err := c.pairing.Persist(d); err != nil {
		return c.State(), err
	}
	return c.Initialize(ctx), nil
}

// PermissionsChanged re-runs initialization after the host granted or
// revoked permissions.
func (c *Coordinator) PermissionsChanged(ctx context.Context) AppState {
	return c.Initialize(ctx)
}

// Retry re-runs the full initialization sequence from the error state.
func (c *Coordinator) Retry(ctx context.Context) AppState {
	return c.Initialize(ctx)
}

// Reset clears the descriptor and local state, returning to needsPairing
// from any state.
func (c *Coordinator) Reset() error {
	if err := c.pairing.Reset(); err != nil {
		return err
	}
	c.channel.Disconnect()
	c.setState(AppState{Phase: PhaseNeedsPairing})
	return nil
}

// Descriptor returns the paired connection descriptor, if any.
func (c *Coordinator) Descriptor() (*models.ConnectionDescriptor, error) {
	return c.pairing.Current()
}

// Stats reports elapsed session time and accumulated background time.
func (c *Coordinator) Stats() (sessionElapsed, backgroundTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sessionStartedAt.IsZero() {
		sessionElapsed = c.now().Sub(c.sessionStartedAt)
	}
	backgroundTime = c.backgroundAccum
	if c.state.Phase == PhaseBackground && !c.backgroundSince.IsZero() {
		backgroundTime += c.now().Sub(c.backgroundSince)
	}
	return sessionElapsed, backgroundTime
}

// HandleEvent applies one host lifecycle event.
func (c *Coordinator) HandleEvent(ctx context.Context, ev HostEvent) AppState {
	switch ev {
	case EventBackground:
		c.enterBackground()
	case EventForeground:
		c.exitBackground(ctx)
	case EventTerminate:
		c.channel.Disconnect()
	}
	return c.State()
}

func (c *Coordinator) enterBackground() {
	c.mu.Lock()
	if c.state.Phase != PhaseReady {
		c.mu.Unlock()
		return
	}
	c.backgroundSince = c.now()
	c.mu.Unlock()

	c.setState(AppState{Phase: PhaseBackground})
	if c.cfg.OnPause != nil {
		c.cfg.OnPause()
	}
}

func (c *Coordinator) exitBackground(ctx context.Context) {
	c.mu.Lock()
	if c.state.Phase != PhaseBackground {
		c.mu.Unlock()
		return
	}
	spent := c.now().Sub(c.backgroundSince)
	c.backgroundAccum += spent
	accumulated := c.backgroundAccum
	c.backgroundSince = time.Time{}
	c.mu.Unlock()

	if c.cfg.OnResume != nil {
		c.cfg.OnResume()
	}

	// A long stretch in the background means the connection may be stale;
	// confirm connectivity before claiming ready again.
	if accumulated > c.cfg.BackgroundThreshold {
		if err := c.probe(ctx); err != nil {
			c.setState(AppState{Phase: PhaseError, Message: err.Error()})
			return
		}
	}
	c.setState(AppState{Phase: PhaseReady})
}

// Run consumes host events and channel state transitions until ctx is done.
func (c *Coordinator) Run(ctx context.Context, events EventSource) {
	states, cancelStates := c.channel.SubscribeState()
	defer cancelStates()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events.Events():
			if !ok {
				return
			}
			c.HandleEvent(ctx, ev)
		case s, ok := <-states:
			if !ok {
				return
			}
			c.handleChannelState(s)
		}
	}
}

// handleChannelState surfaces transport failures as the error state so the
// UI can offer a retry, instead of dropping them.
func (c *Coordinator) handleChannelState(s transport.State) {
	if s.Phase != transport.PhaseFailed {
		return
	}
	c.mu.Lock()
	phase := c.state.Phase
	c.mu.Unlock()
	if phase == PhaseReady || phase == PhaseBackground {
		c.setState(AppState{Phase: PhaseError, Message: s.Reason})
	}
}
