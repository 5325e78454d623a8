// Package transport maintains the persistent websocket channel between a
// paired client and the tether daemon. It owns the ConnectionState and
// translates low-level socket events into state transitions and an inbound
// message stream.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fentz26/tether/internal/models"
)

// Phase is the coarse connection phase.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseReconnecting Phase = "reconnecting"
	PhaseFailed       Phase = "failed"
)

// State is the observable connection state. Attempt and Delay are set while
// reconnecting; Reason is set when failed.
type State struct {
	Phase   Phase
	Attempt int
	Delay   time.Duration
	Reason  string
}

// Config holds transport tuning knobs.
type Config struct {
	// Strategy selects the reconnection backoff policy.
	Strategy Strategy
	// HandshakeTimeout bounds a single dial attempt.
	HandshakeTimeout time.Duration
	// PairingTimeout bounds a pairing connect attempt end to end.
	PairingTimeout time.Duration
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:         Exponential{Base: time.Second, Multiplier: 2},
		HandshakeTimeout: 10 * time.Second,
		PairingTimeout:   10 * time.Second,
	}
}

// Transport owns exactly one logical websocket connection per process.
// All methods are safe for concurrent use.
type Transport struct {
	cfg Config

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	descriptor *models.ConnectionDescriptor
	closing    bool
	gen        int

	writeMu sync.Mutex

	subMu     sync.Mutex
	nextSubID int
	subs      map[int]chan models.Response
	stateSubs map[int]chan State
}

// New creates a Transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.Strategy == nil {
		cfg.Strategy = DefaultConfig().Strategy
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}
	if cfg.PairingTimeout == 0 {
		cfg.PairingTimeout = DefaultConfig().PairingTimeout
	}
	return &Transport{
		cfg:       cfg,
		state:     State{Phase: PhaseDisconnected},
		subs:      make(map[int]chan models.Response),
		stateSubs: make(map[int]chan State),
	}
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect establishes the channel against the descriptor's derived URL. It is
// idempotent: calling while already connecting or connected is a no-op. It
// suspends until the handshake resolves, transitioning to connected on
// success or failed(reason) on handshake error.
func (t *Transport) Connect(ctx context.Context, d *models.ConnectionDescriptor) error {
	t.mu.Lock()
	switch t.state.Phase {
	case PhaseConnecting, PhaseConnected, PhaseReconnecting:
		t.mu.Unlock()
		return nil
	}
	t.descriptor = d
	t.closing = false
	t.setStateLocked(State{Phase: PhaseConnecting})
	t.mu.Unlock()

	conn, err := t.dial(ctx, d)
	if err != nil {
		t.mu.Lock()
		t.setStateLocked(State{Phase: PhaseFailed, Reason: err.Error()})
		t.mu.Unlock()
		return err
	}

	t.adopt(conn)
	return nil
}

func (t *Transport) dial(ctx context.Context, d *models.ConnectionDescriptor) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	conn, _, err := dialer.DialContext(ctx, d.URL(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL(), err)
	}
	return conn, nil
}

// adopt installs a live connection and starts its read loop.
func (t *Transport) adopt(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.gen++
	gen := t.gen
	t.setStateLocked(State{Phase: PhaseConnected})
	t.mu.Unlock()

	go t.readLoop(conn, gen)
}

// Send transmits an envelope. Valid only while connected; it does not wait
// for a reply.
func (t *Transport) Send(env models.Envelope) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.state.Phase == PhaseConnected
	t.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Disconnect closes the channel. Idempotent; transitions to disconnected
// regardless of prior state and suppresses automatic reconnection.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.closing = true
	conn := t.conn
	t.conn = nil
	t.gen++
	t.setStateLocked(State{Phase: PhaseDisconnected})
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Subscribe attaches a new inbound message subscriber. Only messages received
// after the call are delivered; there is no replay. The returned cancel
// function detaches the subscriber and closes its channel.
func (t *Transport) Subscribe() (<-chan models.Response, func()) {
	out := make(chan models.Response)
	in := make(chan models.Response, 16)
	go pump(in, out)

	t.subMu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.subs[id] = in
	t.subMu.Unlock()

	cancel := func() {
		t.subMu.Lock()
		if ch, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
		t.subMu.Unlock()
	}
	return out, cancel
}

// SubscribeState attaches a connection state subscriber. The current state is
// delivered first, then every transition.
func (t *Transport) SubscribeState() (<-chan State, func()) {
	ch := make(chan State, 16)

	t.mu.Lock()
	current := t.state
	t.mu.Unlock()

	t.subMu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.stateSubs[id] = ch
	t.subMu.Unlock()

	select {
	case ch <- current:
	default:
	}

	cancel := func() {
		t.subMu.Lock()
		if c, ok := t.stateSubs[id]; ok {
			delete(t.stateSubs, id)
			close(c)
		}
		t.subMu.Unlock()
	}
	return ch, cancel
}

// setStateLocked records a transition and notifies state subscribers.
// Callers must hold t.mu.
func (t *Transport) setStateLocked(s State) {
	t.state = s

	t.subMu.Lock()
	for _, ch := range t.stateSubs {
		select {
		case ch <- s:
		default:
		}
	}
	t.subMu.Unlock()
}

// readLoop delivers inbound messages in receipt order until the connection
// drops, then hands off to the reconnect loop unless the caller disconnected.
func (t *Transport) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleClosure(conn, gen, err)
			return
		}
		t.deliver(data)
	}
}

// deliver decodes an inbound frame and fans it out to subscribers. A frame
// that fails to decode is treated as plain text content rather than dropped.
func (t *Transport) deliver(data []byte) {
	var resp models.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		resp = models.Response{
			Type:      "message",
			Status:    "success",
			Message:   string(data),
			Timestamp: time.Now().UTC(),
		}
	}

	t.subMu.Lock()
	for _, ch := range t.subs {
		ch <- resp
	}
	t.subMu.Unlock()
}

// handleClosure reacts to an unexpected read error. Caller-initiated
// disconnects have already bumped the generation and are ignored here.
func (t *Transport) handleClosure(conn *websocket.Conn, gen int, cause error) {
	conn.Close()

	t.mu.Lock()
	if t.gen != gen || t.closing {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	closeErr := classifyClosure(cause)
	descriptor := t.descriptor
	t.mu.Unlock()

	log.Printf("Channel closed unexpectedly: %v", closeErr)
	t.reconnectLoop(descriptor, closeErr, gen)
}

func classifyClosure(cause error) *CloseError {
	switch {
	case websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return &CloseError{Reason: ClosePeer, Err: cause}
	case websocket.IsUnexpectedCloseError(cause):
		return &CloseError{Reason: CloseProtocol, Err: cause}
	default:
		return &CloseError{Reason: CloseCancel, Err: cause}
	}
}

// reconnectLoop retries per the configured strategy. There is no attempt
// ceiling; callers may cap it externally by calling Disconnect.
func (t *Transport) reconnectLoop(d *models.ConnectionDescriptor, cause *CloseError, gen int) {
	for attempt := 1; ; attempt++ {
		delay, retry := t.cfg.Strategy.Delay(attempt)
		if !retry {
			t.mu.Lock()
			if t.gen == gen && !t.closing {
				t.setStateLocked(State{Phase: PhaseFailed, Reason: cause.Error()})
			}
			t.mu.Unlock()
			return
		}

		t.mu.Lock()
		if t.gen != gen || t.closing {
			t.mu.Unlock()
			return
		}
		t.setStateLocked(State{Phase: PhaseReconnecting, Attempt: attempt, Delay: delay})
		t.mu.Unlock()

		time.Sleep(delay)

		t.mu.Lock()
		if t.gen != gen || t.closing {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.HandshakeTimeout)
		conn, err := t.dial(ctx, d)
		cancel()
		if err != nil {
			log.Printf("Reconnect attempt %d failed: %v", attempt, err)
			continue
		}

		t.mu.Lock()
		if t.gen != gen || t.closing {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.conn = conn
		t.gen++
		newGen := t.gen
		t.setStateLocked(State{Phase: PhaseConnected})
		t.mu.Unlock()

		go t.readLoop(conn, newGen)
		return
	}
}

// pump forwards messages from in to out with an unbounded intermediate queue
// so a slow subscriber never stalls the read loop.
func pump(in <-chan models.Response, out chan<- models.Response) {
	var queue []models.Response
	for {
		if len(queue) == 0 {
			v, ok := <-in
			if !ok {
				close(out)
				return
			}
			queue = append(queue, v)
		}
		select {
		case v, ok := <-in:
			if !ok {
				for _, q := range queue {
					out <- q
				}
				close(out)
				return
			}
			queue = append(queue, v)
		case out <- queue[0]:
			queue = queue[1:]
		}
	}
}
