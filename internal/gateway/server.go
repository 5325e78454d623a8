package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fentz26/tether/internal/models"
	"github.com/fentz26/tether/internal/pairing"
)

// WSPath is the websocket path clients pair against.
const WSPath = "/ws"

// Server exposes the websocket channel endpoint and the session inspection
// API.
type Server struct {
	service *Service
	addr    string
	token   string
	server  *http.Server

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewServer creates the gateway server. A fresh pairing token is generated
// per daemon run; clients present it on the websocket handshake.
func NewServer(service *Service, addr string) *Server {
	return &Server{
		service:  service,
		addr:     addr,
		token:    generateToken(),
		upgrader: websocket.Upgrader{},
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// Descriptor returns the connection descriptor clients pair with.
func (s *Server) Descriptor() models.ConnectionDescriptor {
	host, portStr, err := net.SplitHostPort(s.addr)
	if err != nil {
		host, portStr = s.addr, "0"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	port, _ := strconv.Atoi(portStr)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "tether"
	}
	return models.ConnectionDescriptor{
		Host:       host,
		Port:       port,
		Path:       WSPath,
		ServerName: hostname,
		Network:    "lan",
		Token:      s.token,
	}
}

// PairingPayload returns the encoded descriptor for scanning or pasting.
func (s *Server) PairingPayload() (string, error) {
	d := s.Descriptor()
	return pairing.Encode(&d)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc(WSPath, s.handleWS)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSessionByID)
	mux.HandleFunc("/pairing", s.handlePairing)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     mux,
		ReadTimeout: 0, // websocket connections are long-lived
	}

	log.Printf("Starting tether gateway on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server, closing open channels.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	return s.server.Shutdown(ctx)
}

// handleWS upgrades the channel connection and runs its exchange loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// Connection-scoped fallback identity for frames that cannot be decoded
	// into an envelope.
	connClientID := uuid.New().String()

	var writeMu sync.Mutex
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, ok := decodeEnvelope(data)
		if ok && env.ClientID != "" {
			connClientID = env.ClientID
		} else {
			env.ClientID = connClientID
		}

		resp := s.service.HandleEnvelope(r.Context(), env)

		writeMu.Lock()
		err = conn.WriteJSON(resp)
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// decodeEnvelope parses an inbound frame. Malformed frames fall back to a
// plain-text message envelope instead of failing the exchange.
func decodeEnvelope(data []byte) (models.Envelope, bool) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Content == "" {
		return models.Envelope{
			Type:      "message",
			Content:   string(data),
			Timestamp: time.Now().UTC(),
			Priority:  models.PriorityNormal,
		}, false
	}
	if env.Type == "" {
		env.Type = "message"
	}
	if env.Priority == "" {
		env.Priority = models.PriorityNormal
	}
	return env, true
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	return strings.TrimPrefix(header, "Bearer ") == s.token
}

// handleSessions handles GET /sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := s.service.ListSessions()
	if sessions == nil {
		sessions = []models.Session{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

// handleSessionByID handles /sessions/{id} and /sessions/{id}/audit
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "client id required", http.StatusBadRequest)
		return
	}

	clientID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getSession(w, r, clientID)
	case action == "" && r.Method == http.MethodDelete:
		s.deleteSession(w, r, clientID)
	case action == "audit" && r.Method == http.MethodGet:
		s.getAudit(w, r, clientID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request, clientID string) {
	session, err := s.service.GetSession(clientID)
	if err != nil {
		status := http.StatusInternalServerError
		if err == ErrSessionNotFound {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	avg, _ := s.service.AverageConfidence(clientID)
	payload := struct {
		models.Session
		AverageConfidence float64 `json:"average_confidence"`
	}{Session: *session, AverageConfidence: avg}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request, clientID string) {
	if err := s.service.DeleteSession(clientID); err != nil {
		status := http.StatusInternalServerError
		if err == ErrSessionNotFound {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"deleted"}`))
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request, clientID string) {
	records, err := s.service.AuditTrail(clientID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.DecisionRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// handlePairing returns the pairing payload for this daemon run.
func (s *Server) handlePairing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := s.PairingPayload()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"payload": payload})
}

func generateToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}
