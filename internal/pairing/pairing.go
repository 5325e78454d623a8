// Package pairing parses and persists the connection descriptor that pairs a
// client with a tether daemon.
package pairing

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fentz26/tether/internal/models"
)

// ErrInvalidDescriptor indicates a malformed pairing payload. Nothing is
// persisted when parsing fails.
var ErrInvalidDescriptor = errors.New("invalid connection descriptor")

// ErrNotPaired indicates no descriptor has been persisted yet.
var ErrNotPaired = errors.New("not paired")

const descriptorFile = "descriptor.json"

// Configurator parses pairing payloads and owns the persisted descriptor.
type Configurator struct {
	configDir string
	mu        sync.RWMutex
	current   *models.ConnectionDescriptor
}

// NewConfigurator creates a Configurator storing its descriptor under
// configDir. The directory is created if missing and any previously persisted
// descriptor is loaded.
func NewConfigurator(configDir string) (*Configurator, error) {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	c := &Configurator{configDir: configDir}
	if err := c.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load descriptor: %w", err)
	}
	return c, nil
}

// Parse decodes a pairing payload into a ConnectionDescriptor. The payload is
// either raw JSON or base64-encoded JSON (the form embedded in scanned codes).
// Parse never persists anything.
func Parse(payload string) (*models.ConnectionDescriptor, error) {
	raw := []byte(strings.TrimSpace(payload))
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidDescriptor)
	}

	if raw[0] != '{' {
		decoded, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: not JSON or base64: %v", ErrInvalidDescriptor, err)
		}
		raw = decoded
	}

	var d models.ConnectionDescriptor
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	if err := validate(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func validate(d *models.ConnectionDescriptor) error {
	if d.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidDescriptor)
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDescriptor, d.Port)
	}
	if d.Path == "" || !strings.HasPrefix(d.Path, "/") {
		return fmt.Errorf("%w: path must begin with /", ErrInvalidDescriptor)
	}
	return nil
}

// Encode serializes a descriptor into the base64 payload form used for
// pairing codes.
func Encode(d *models.ConnectionDescriptor) (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode descriptor: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Persist atomically overwrites the stored descriptor. Last write wins; there
// are no merge semantics.
func (c *Configurator) Persist(d *models.ConnectionDescriptor) error {
	if err := validate(d); err != nil {
		return err
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}

	path := c.descriptorPath()
	tmp, err := os.CreateTemp(c.configDir, ".descriptor-*")
	if err != nil {
		return fmt.Errorf("create temp descriptor: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close descriptor: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod descriptor: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist descriptor: %w", err)
	}

	copied := *d
	c.mu.Lock()
	c.current = &copied
	c.mu.Unlock()
	return nil
}

// Current returns the persisted descriptor, or ErrNotPaired if the client has
// never been paired.
func (c *Configurator) Current() (*models.ConnectionDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return nil, ErrNotPaired
	}
	copied := *c.current
	return &copied, nil
}

// IsPaired reports whether a descriptor is persisted.
func (c *Configurator) IsPaired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current != nil
}

// Reset clears the persisted descriptor, forcing the client back to pairing.
func (c *Configurator) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = nil
	if err := os.Remove(c.descriptorPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove descriptor: %w", err)
	}
	return nil
}

func (c *Configurator) descriptorPath() string {
	return filepath.Join(c.configDir, descriptorFile)
}

func (c *Configurator) load() error {
	data, err := os.ReadFile(c.descriptorPath())
	if err != nil {
		return err
	}

	var d models.ConnectionDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("corrupt descriptor file: %w", err)
	}
	if err := validate(&d); err != nil {
		return err
	}

	c.mu.Lock()
	c.current = &d
	c.mu.Unlock()
	return nil
}
