package pairing

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/fentz26/tether/internal/models"
)

func TestParse_RawJSON(t *testing.T) {
	d, err := Parse(`{"host":"192.168.1.10","port":8765,"path":"/ws","server_name":"studio","network":"lan"}`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if d.Host != "192.168.1.10" {
		t.Errorf("Expected host 192.168.1.10, got %s", d.Host)
	}
	if d.Port != 8765 {
		t.Errorf("Expected port 8765, got %d", d.Port)
	}
	if d.Path != "/ws" {
		t.Errorf("Expected path /ws, got %s", d.Path)
	}
	if d.ServerName != "studio" {
		t.Errorf("Expected server_name studio, got %s", d.ServerName)
	}
}

func TestParse_Base64(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte(`{"host":"localhost","port":9100,"path":"/ws"}`))
	d, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if d.URL() != "ws://localhost:9100/ws" {
		t.Errorf("Unexpected URL: %s", d.URL())
	}
}

func TestParse_Malformed(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"garbage", "not a descriptor"},
		{"truncated json", `{"host":"x","port":`},
		{"missing host", `{"port":8765,"path":"/ws"}`},
		{"zero port", `{"host":"x","port":0,"path":"/ws"}`},
		{"port too large", `{"host":"x","port":70000,"path":"/ws"}`},
		{"relative path", `{"host":"x","port":8765,"path":"ws"}`},
		{"missing path", `{"host":"x","port":8765}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.payload)
			if !errors.Is(err, ErrInvalidDescriptor) {
				t.Errorf("Expected ErrInvalidDescriptor, got %v", err)
			}
		})
	}
}

func TestPersistRoundTrip(t *testing.T) {
	c, err := NewConfigurator(t.TempDir())
	if err != nil {
		t.Fatalf("NewConfigurator failed: %v", err)
	}

	d := &models.ConnectionDescriptor{
		Host:       "10.0.0.5",
		Port:       8765,
		Path:       "/ws",
		ServerName: "desk",
		Token:      "abc123",
	}
	if err := c.Persist(d); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	got, err := c.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if *got != *d {
		t.Errorf("Round trip mismatch: got %+v, want %+v", got, d)
	}
}

func TestPersist_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	c1, err := NewConfigurator(dir)
	if err != nil {
		t.Fatalf("NewConfigurator failed: %v", err)
	}
	d := &models.ConnectionDescriptor{Host: "h", Port: 1234, Path: "/ws"}
	if err := c1.Persist(d); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	c2, err := NewConfigurator(dir)
	if err != nil {
		t.Fatalf("Second NewConfigurator failed: %v", err)
	}
	got, err := c2.Current()
	if err != nil {
		t.Fatalf("Current after reload failed: %v", err)
	}
	if *got != *d {
		t.Errorf("Reloaded descriptor mismatch: got %+v, want %+v", got, d)
	}
}

func TestPersist_LastWriteWins(t *testing.T) {
	c, err := NewConfigurator(t.TempDir())
	if err != nil {
		t.Fatalf("NewConfigurator failed: %v", err)
	}

	first := &models.ConnectionDescriptor{Host: "a", Port: 1, Path: "/ws"}
	second := &models.ConnectionDescriptor{Host: "b", Port: 2, Path: "/channel"}
	if err := c.Persist(first); err != nil {
		t.Fatalf("Persist first failed: %v", err)
	}
	if err := c.Persist(second); err != nil {
		t.Fatalf("Persist second failed: %v", err)
	}

	got, _ := c.Current()
	if got.Host != "b" || got.Port != 2 || got.Path != "/channel" {
		t.Errorf("Expected second descriptor, got %+v", got)
	}
}

func TestReset(t *testing.T) {
	c, err := NewConfigurator(t.TempDir())
	if err != nil {
		t.Fatalf("NewConfigurator failed: %v", err)
	}

	if err := c.Persist(&models.ConnectionDescriptor{Host: "h", Port: 1, Path: "/ws"}); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if c.IsPaired() {
		t.Error("Expected IsPaired false after reset")
	}
	if _, err := c.Current(); !errors.Is(err, ErrNotPaired) {
		t.Errorf("Expected ErrNotPaired, got %v", err)
	}

	// Reset with nothing persisted is a no-op.
	if err := c.Reset(); err != nil {
		t.Fatalf("Second Reset failed: %v", err)
	}
}

func TestCurrent_UnchangedAfterFailedParse(t *testing.T) {
	c, err := NewConfigurator(t.TempDir())
	if err != nil {
		t.Fatalf("NewConfigurator failed: %v", err)
	}

	d := &models.ConnectionDescriptor{Host: "h", Port: 1, Path: "/ws"}
	if err := c.Persist(d); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	if _, err := Parse("definitely not valid"); err == nil {
		t.Fatal("Expected parse error")
	}

	got, err := c.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if *got != *d {
		t.Errorf("Descriptor changed after failed parse: %+v", got)
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	d := &models.ConnectionDescriptor{Host: "pair.local", Port: 8765, Path: "/ws", Token: "tok"}
	payload, err := Encode(d)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if *got != *d {
		t.Errorf("Round trip mismatch: got %+v, want %+v", got, d)
	}
}
