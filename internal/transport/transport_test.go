package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fentz26/tether/internal/models"
)

var testUpgrader = websocket.Upgrader{}

// newEchoServer starts a websocket server that answers every envelope with a
// success response carrying the envelope content back.
func newEchoServer(t *testing.T) (*httptest.Server, *models.ConnectionDescriptor) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env models.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			resp := models.Response{
				Type:      "message",
				Status:    "success",
				Message:   env.Content,
				Timestamp: time.Now().UTC(),
				ClientID:  env.ClientID,
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return srv, descriptorFor(t, srv)
}

func descriptorFor(t *testing.T, srv *httptest.Server) *models.ConnectionDescriptor {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("Failed to split server address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return &models.ConnectionDescriptor{Host: host, Port: port, Path: "/"}
}

func TestConnect_Idempotent(t *testing.T) {
	_, desc := newEchoServer(t)
	tr := New(Config{Strategy: Manual{}})
	defer tr.Disconnect()

	if err := tr.Connect(context.Background(), desc); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := tr.State().Phase; got != PhaseConnected {
		t.Fatalf("Expected connected, got %s", got)
	}

	// Second call while connected is a no-op.
	if err := tr.Connect(context.Background(), desc); err != nil {
		t.Errorf("Second Connect should be a no-op, got %v", err)
	}
}

func TestConnect_HandshakeFailure(t *testing.T) {
	tr := New(Config{Strategy: Manual{}, HandshakeTimeout: time.Second})

	desc := &models.ConnectionDescriptor{Host: "127.0.0.1", Port: reservedPort(t), Path: "/"}
	err := tr.Connect(context.Background(), desc)
	if err == nil {
		t.Fatal("Expected dial error against closed port")
	}
	state := tr.State()
	if state.Phase != PhaseFailed {
		t.Errorf("Expected failed state, got %s", state.Phase)
	}
	if state.Reason == "" {
		t.Error("Expected failure reason to be set")
	}
}

// reservedPort returns a port with nothing listening on it.
func reservedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestSend_NotConnected(t *testing.T) {
	tr := New(Config{Strategy: Manual{}})

	err := tr.Send(models.Envelope{Type: "message", Content: "hi"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	_, desc := newEchoServer(t)
	tr := New(Config{Strategy: Manual{}})

	if err := tr.Connect(context.Background(), desc); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	tr.Disconnect()
	tr.Disconnect()

	if got := tr.State().Phase; got != PhaseDisconnected {
		t.Errorf("Expected disconnected, got %s", got)
	}
}

func TestSendReceive(t *testing.T) {
	_, desc := newEchoServer(t)
	tr := New(Config{Strategy: Manual{}})
	defer tr.Disconnect()

	inbound, cancel := tr.Subscribe()
	defer cancel()

	if err := tr.Connect(context.Background(), desc); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	env := models.Envelope{
		Type:      "message",
		Content:   "run the tests",
		Timestamp: time.Now().UTC(),
		ClientID:  "client-1",
		Priority:  models.PriorityNormal,
	}
	if err := tr.Send(env); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case resp := <-inbound:
		if resp.Message != "run the tests" {
			t.Errorf("Expected echoed content, got %q", resp.Message)
		}
		if resp.Status != "success" {
			t.Errorf("Expected success status, got %q", resp.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for inbound message")
	}
}

func TestDeliver_DecodeFallback(t *testing.T) {
	tr := New(Config{Strategy: Manual{}})
	inbound, cancel := tr.Subscribe()
	defer cancel()

	tr.deliver([]byte("plain text, not an envelope"))

	select {
	case resp := <-inbound:
		if resp.Message != "plain text, not an envelope" {
			t.Errorf("Expected raw payload as message, got %q", resp.Message)
		}
		if resp.Status != "success" {
			t.Errorf("Expected success status on fallback, got %q", resp.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for fallback message")
	}
}

func TestReconnect_AfterUnexpectedClose(t *testing.T) {
	var conns atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		if n == 1 {
			// Drop the first connection to trigger reconnection.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tr := New(Config{Strategy: Immediate{}})
	defer tr.Disconnect()

	states, cancelStates := tr.SubscribeState()
	defer cancelStates()

	if err := tr.Connect(context.Background(), descriptorFor(t, srv)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	sawReconnecting := false
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-states:
			if s.Phase == PhaseReconnecting {
				sawReconnecting = true
				if s.Attempt < 1 {
					t.Errorf("Expected attempt >= 1, got %d", s.Attempt)
				}
			}
			if sawReconnecting && s.Phase == PhaseConnected {
				if conns.Load() < 2 {
					t.Errorf("Expected a second server connection, got %d", conns.Load())
				}
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for reconnection")
		}
	}
}

func TestManualStrategy_NoAutomaticRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	tr := New(Config{Strategy: Manual{}})

	if err := tr.Connect(context.Background(), descriptorFor(t, srv)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if tr.State().Phase == PhaseFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected failed state with manual strategy, got %s", tr.State().Phase)
}

func TestBackoffStrategies(t *testing.T) {
	cases := []struct {
		name     string
		strategy Strategy
		attempt  int
		want     time.Duration
		retry    bool
	}{
		{"immediate", Immediate{}, 3, 0, true},
		{"exponential first", Exponential{Base: time.Second, Multiplier: 2}, 1, time.Second, true},
		{"exponential third", Exponential{Base: time.Second, Multiplier: 2}, 3, 4 * time.Second, true},
		{"linear first", Linear{Step: 500 * time.Millisecond}, 1, 500 * time.Millisecond, true},
		{"linear fourth", Linear{Step: 500 * time.Millisecond}, 4, 2 * time.Second, true},
		{"manual", Manual{}, 1, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, retry := tc.strategy.Delay(tc.attempt)
			if got != tc.want || retry != tc.retry {
				t.Errorf("Delay(%d) = (%v, %v), want (%v, %v)", tc.attempt, got, retry, tc.want, tc.retry)
			}
		})
	}
}

func TestOutcome_ExactlyOnce(t *testing.T) {
	const goroutines = 64

	for trial := 0; trial < 50; trial++ {
		cell := newOutcome()
		var wins atomic.Int64
		var wg sync.WaitGroup

		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if cell.Resolve(fmt.Errorf("branch %d", i)) {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()

		if wins.Load() != 1 {
			t.Fatalf("Trial %d: expected exactly one winner, got %d", trial, wins.Load())
		}
		if err := cell.Wait(); err == nil {
			t.Fatalf("Trial %d: expected a resolved error", trial)
		}
	}
}

func TestConnectPairing_Success(t *testing.T) {
	_, desc := newEchoServer(t)
	tr := New(Config{Strategy: Manual{}, PairingTimeout: 10 * time.Second})
	defer tr.Disconnect()

	if err := tr.ConnectPairing(context.Background(), desc); err != nil {
		t.Fatalf("ConnectPairing failed: %v", err)
	}
	if got := tr.State().Phase; got != PhaseConnected {
		t.Errorf("Expected connected, got %s", got)
	}
}

func TestConnectPairing_Timeout(t *testing.T) {
	// A raw TCP listener that never completes the websocket handshake.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	addr := l.Addr().(*net.TCPAddr)
	tr := New(Config{
		Strategy:         Manual{},
		HandshakeTimeout: 30 * time.Second,
		PairingTimeout:   100 * time.Millisecond,
	})

	desc := &models.ConnectionDescriptor{Host: "127.0.0.1", Port: addr.Port, Path: "/"}
	err = tr.ConnectPairing(context.Background(), desc)
	if !errors.Is(err, ErrConnectionTimeout) {
		t.Fatalf("Expected ErrConnectionTimeout, got %v", err)
	}
	if got := tr.State().Phase; got != PhaseFailed {
		t.Errorf("Expected failed state after timeout, got %s", got)
	}
}

func TestConnectPairing_Failure(t *testing.T) {
	tr := New(Config{Strategy: Manual{}, PairingTimeout: 5 * time.Second})

	desc := &models.ConnectionDescriptor{Host: "127.0.0.1", Port: reservedPort(t), Path: "/"}
	err := tr.ConnectPairing(context.Background(), desc)
	if err == nil {
		t.Fatal("Expected dial failure")
	}
	if errors.Is(err, ErrConnectionTimeout) {
		t.Fatalf("Expected dial error, not timeout: %v", err)
	}
}

func TestConnectPairing_SingleOutcomeAcrossTrials(t *testing.T) {
	// Vary which branch wins: fast success, fast failure, and timeout. Each
	// call must observe exactly one outcome - Wait returning twice would
	// deadlock, zero outcomes would hang, both caught by the harness timeout.
	_, okDesc := newEchoServer(t)
	badDesc := &models.ConnectionDescriptor{Host: "127.0.0.1", Port: reservedPort(t), Path: "/"}

	for trial := 0; trial < 20; trial++ {
		desc := okDesc
		if trial%2 == 1 {
			desc = badDesc
		}

		tr := New(Config{Strategy: Manual{}, PairingTimeout: 2 * time.Second})
		done := make(chan error, 1)
		go func() {
			done <- tr.ConnectPairing(context.Background(), desc)
		}()

		select {
		case err := <-done:
			if desc == okDesc && err != nil {
				t.Fatalf("Trial %d: expected success, got %v", trial, err)
			}
			if desc == badDesc && err == nil {
				t.Fatalf("Trial %d: expected failure", trial)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("Trial %d: pairing attempt never resolved", trial)
		}
		tr.Disconnect()
	}
}

func TestEnvelopeWireFormat(t *testing.T) {
	env := models.Envelope{
		Type:      "message",
		Content:   "hello",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		ClientID:  "c1",
		Priority:  models.PriorityHigh,
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	// Timestamps travel as ISO-8601 strings.
	if !strings.Contains(string(data), `"timestamp":"2025-06-01T12:00:00Z"`) {
		t.Errorf("Expected ISO-8601 timestamp, got %s", data)
	}
	if !strings.Contains(string(data), `"priority":"high"`) {
		t.Errorf("Expected priority enum, got %s", data)
	}
}
