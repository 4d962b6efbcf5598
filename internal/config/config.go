// Package config loads the typed configuration tree of spec.md §6.
// Loading is deliberately a single function rather than a layered
// search-path/environment-override framework: one YAML file in, one
// *Config out, with ${VAR:default} substitution applied to the raw
// bytes before they're unmarshalled.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mosiyuan/cis/internal/cerr"
)

// Config is the full on-disk shape of spec.md §6's configuration
// table.
type Config struct {
	Network  NetworkConfig  `yaml:"network"`
	Storage  StorageConfig  `yaml:"storage"`
	P2P      P2PConfig      `yaml:"p2p"`
	Security SecurityConfig `yaml:"security"`
	Wasm     WasmConfig     `yaml:"wasm"`
	Agent    AgentConfig    `yaml:"agent"`
}

// NetworkConfig binds the federation/skill/agent-session endpoint and
// the P2P datagram endpoint.
type NetworkConfig struct {
	TCPPort     int    `yaml:"tcp_port"`
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
}

type StorageConfig struct {
	DataDir    string           `yaml:"data_dir"`
	Encryption EncryptionConfig `yaml:"encryption"`
}

type EncryptionConfig struct {
	Enabled bool `yaml:"enabled"`
}

type P2PConfig struct {
	BootstrapNodes    []string `yaml:"bootstrap_nodes"`
	DiscoveryInterval Duration `yaml:"discovery_interval"`
}

type SecurityConfig struct {
	CommandWhitelist []string `yaml:"command_whitelist"`
	MaxRequestSize   int64    `yaml:"max_request_size"`
	RateLimit        int      `yaml:"rate_limit"`
}

type WasmConfig struct {
	MaxMemory        uint64   `yaml:"max_memory"`
	MaxExecutionTime Duration `yaml:"max_execution_time"`
}

// Duration wraps time.Duration so YAML fields accept Go's
// human-readable duration strings ("30s", "2m") rather than requiring
// raw nanosecond integers.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

type AgentConfig struct {
	DefaultRuntime string `yaml:"default_runtime"`
}

// Defaults returns the configuration a node runs with when a field is
// left unset in the YAML file, per spec.md §4.6.1's stated resource
// ceilings and spec.md §4.4's heartbeat/discovery cadence.
func Defaults() Config {
	return Config{
		Network: NetworkConfig{TCPPort: 7420, UDPPort: 7421, BindAddress: "0.0.0.0"},
		Storage: StorageConfig{DataDir: "./data", Encryption: EncryptionConfig{Enabled: true}},
		P2P:     P2PConfig{DiscoveryInterval: Duration(30 * time.Second)},
		Security: SecurityConfig{
			MaxRequestSize: 1 << 20,
			RateLimit:      100,
		},
		Wasm: WasmConfig{
			MaxMemory:        512 << 20,
			MaxExecutionTime: Duration(30 * time.Second),
		},
		Agent: AgentConfig{DefaultRuntime: "http"},
	}
}

// envVarPattern matches ${NAME} or ${NAME:default}, grounded on SAGE's
// config/env.go substitution idiom.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// substituteEnvVars resolves every ${VAR:default} reference in input
// against the process environment before YAML parsing.
func substituteEnvVars(input []byte) []byte {
	return envVarPattern.ReplaceAllFunc(input, func(match []byte) []byte {
		parts := envVarPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := string(parts[1])
		def := ""
		if len(parts) > 2 {
			def = string(parts[2])
		}
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		return []byte(def)
	})
}

// Load reads path, substitutes environment references, and unmarshals
// the result over Defaults(). A missing file is an error: callers that
// want zero-config startup should pass a path to a file holding "{}".
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cerr.New(cerr.Config, "config.Load", fmt.Errorf("read %s: %w", path, err))
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(substituteEnvVars(raw), &cfg); err != nil {
		return nil, cerr.New(cerr.Config, "config.Load", fmt.Errorf("parse %s: %w", path, err))
	}
	if err := cfg.validate(); err != nil {
		return nil, cerr.New(cerr.Config, "config.Load", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Network.TCPPort <= 0 || c.Network.TCPPort > 65535 {
		return fmt.Errorf("network.tcp_port %d out of range", c.Network.TCPPort)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	if c.Wasm.MaxMemory == 0 {
		return fmt.Errorf("wasm.max_memory must be positive")
	}
	return nil
}
