package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseAddresses(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "empty", input: "", want: nil},
		{name: "single", input: "127.0.0.1:7001", want: []string{"127.0.0.1:7001"}},
		{name: "spaces and trailing comma", input: " 10.0.0.1:1 , 10.0.0.2:2,", want: []string{"10.0.0.1:1", "10.0.0.2:2"}},
		{name: "bad port", input: "10.0.0.1:x", wantErr: true},
		{name: "missing port", input: "10.0.0.1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddresses(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d addresses, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i].String() != tt.want[i] {
					t.Errorf("Address %d: expected %s, got %s", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Protocol.MaxMsgSize != 512 {
		t.Errorf("Expected MaxMsgSize 512, got %d", cfg.Protocol.MaxMsgSize)
	}
	if cfg.Protocol.RemoveTimeout != 20 || cfg.Protocol.FailTimeout != 5 {
		t.Errorf("Unexpected timeouts: %+v", cfg.Protocol)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ringkv.yaml")
	data := []byte(`
protocol:
  ring_size: 64
  quorum_timeout: 5
simulation:
  nodes: 4
  fail_count: 1
log:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Protocol.RingSize != 64 {
		t.Errorf("Expected ring size 64, got %d", cfg.Protocol.RingSize)
	}
	if cfg.Protocol.QuorumTimeout != 5 {
		t.Errorf("Expected quorum timeout 5, got %d", cfg.Protocol.QuorumTimeout)
	}
	// untouched fields keep their defaults
	if cfg.Protocol.GossipEntryTTL != 3 {
		t.Errorf("Expected default gossip TTL, got %d", cfg.Protocol.GossipEntryTTL)
	}
	if cfg.Simulation.Nodes != 4 || cfg.Log.Level != "debug" {
		t.Errorf("Unexpected config: %+v %+v", cfg.Simulation, cfg.Log)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"remove before fail", "protocol:\n  fail_timeout: 10\n  remove_timeout: 5\n"},
		{"tiny message", "protocol:\n  max_msg_size: 16\n"},
		{"ring too small", "protocol:\n  ring_size: 2\n"},
		{"drop rate", "simulation:\n  drop_rate: 1.5\n"},
		{"level", "log:\n  level: loud\n"},
		{"seeds", "node:\n  seeds: nowhere\n"},
		{"hostname join address", "node:\n  join_addr: node1:7946\n"},
		{"hostname listen address", "node:\n  listen_addr: node1:7946\n"},
		{"ipv6 listen address", "node:\n  listen_addr: \"[::1]:7946\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestValidate_NodeAddresses(t *testing.T) {
	cfg := Default()
	cfg.Node.ListenAddr = "localhost:7946"
	cfg.Node.JoinAddr = "10.0.0.1:7946"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected IPv4 and localhost addresses to validate: %v", err)
	}
	cfg.Node.JoinAddr = "node1:7946"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid for a hostname, got %v", err)
	}
}

func TestParams_Validate(t *testing.T) {
	p := DefaultParams()
	if err := p.Validate(); err != nil {
		t.Fatalf("Defaults should validate: %v", err)
	}
	p.QuorumTimeout = 0
	if err := p.Validate(); err == nil {
		t.Error("Expected zero quorum timeout to be rejected")
	}
}
