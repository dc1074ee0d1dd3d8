package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"ringkv/internal/address"
)

// ErrInvalid is wrapped by every validation failure returned from Load.
var ErrInvalid = errors.New("ringkv: invalid configuration")

// Params holds the protocol tunables. All durations are in ticks.
type Params struct {
	FailTimeout           int64  `yaml:"fail_timeout" validate:"gt=0"`
	RemoveTimeout         int64  `yaml:"remove_timeout" validate:"gtfield=FailTimeout"`
	GossipEntryTTL        int64  `yaml:"gossip_entry_ttl" validate:"gt=0"`
	MaxMsgSize            int    `yaml:"max_msg_size" validate:"gte=64,lte=65000"`
	QuorumTimeout         int64  `yaml:"quorum_timeout" validate:"gt=0"`
	TombstoneGrace        int64  `yaml:"tombstone_grace" validate:"gte=0"`
	RingSize              uint64 `yaml:"ring_size" validate:"gte=3"`
	IndirectProbeInterval int    `yaml:"indirect_probe_interval" validate:"gt=0"`
	DeadRetention         int64  `yaml:"dead_retention" validate:"gt=0"`
}

// Simulation configures the in-process cluster driver.
type Simulation struct {
	Nodes          int     `yaml:"nodes" validate:"gte=1,lte=1000"`
	Ticks          int64   `yaml:"ticks" validate:"gt=0"`
	JoinSpread     int64   `yaml:"join_spread" validate:"gte=0"`
	DropRate       float64 `yaml:"drop_rate" validate:"gte=0,lt=1"`
	DuplicateRate  float64 `yaml:"duplicate_rate" validate:"gte=0,lt=1"`
	Reorder        bool    `yaml:"reorder"`
	Seed           int64   `yaml:"seed"`
	FailAt         int64   `yaml:"fail_at" validate:"gte=0"`
	FailCount      int     `yaml:"fail_count" validate:"gte=0,ltfield=Nodes"`
	Operations     int     `yaml:"operations" validate:"gte=0"`
	OperationsFrom int64   `yaml:"operations_from" validate:"gte=0"`
}

// Node configures a networked node.
type Node struct {
	ListenAddr    string        `yaml:"listen_addr" validate:"required,node_addr"`
	JoinAddr      string        `yaml:"join_addr" validate:"omitempty,node_addr"`
	Seeds         string        `yaml:"seeds"`
	HTTPAddr      string        `yaml:"http_addr" validate:"omitempty,hostname_port"`
	TickInterval  time.Duration `yaml:"tick_interval" validate:"gt=0"`
	EtcdEndpoints []string      `yaml:"etcd_endpoints" validate:"dive,required"`
	EtcdLeaseTTL  int64         `yaml:"etcd_lease_ttl" validate:"gte=0"`
	MDNS          bool          `yaml:"mdns"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Config is the root of a configuration file.
type Config struct {
	Protocol   Params     `yaml:"protocol"`
	Simulation Simulation `yaml:"simulation"`
	Node       Node       `yaml:"node"`
	Log        Log        `yaml:"log"`
}

// DefaultParams returns the reference protocol configuration.
func DefaultParams() Params {
	return Params{
		FailTimeout:           5,
		RemoveTimeout:         20,
		GossipEntryTTL:        3,
		MaxMsgSize:            512,
		QuorumTimeout:         3,
		TombstoneGrace:        4,
		RingSize:              512,
		IndirectProbeInterval: 3,
		DeadRetention:         20,
	}
}

// Default returns a complete configuration with every field populated.
func Default() *Config {
	return &Config{
		Protocol: DefaultParams(),
		Simulation: Simulation{
			Nodes:          10,
			Ticks:          700,
			JoinSpread:     5,
			DropRate:       0,
			DuplicateRate:  0,
			Seed:           1,
			FailAt:         100,
			FailCount:      1,
			Operations:     50,
			OperationsFrom: 50,
		},
		Node: Node{
			ListenAddr:   "127.0.0.1:7946",
			HTTPAddr:     "127.0.0.1:8080",
			TickInterval: 200 * time.Millisecond,
			EtcdLeaseTTL: 10,
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// node addresses go on the wire as an IPv4 host and a port
	if err := v.RegisterValidation("node_addr", func(fl validator.FieldLevel) bool {
		_, err := address.Parse(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := ParseAddresses(c.Node.Seeds); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Validate checks the protocol parameters alone.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ParseAddresses parses a comma-separated list of peers in the format:
// "host1:port1,host2:port2"
func ParseAddresses(s string) ([]address.Address, error) {
	if s == "" {
		return []address.Address{}, nil
	}

	parts := strings.Split(s, ",")
	addrs := make([]address.Address, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		a, err := address.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("invalid peer %q: %w", part, err)
		}
		addrs = append(addrs, a)
	}

	return addrs, nil
}
