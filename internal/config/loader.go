package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

var current atomic.Pointer[Config]

var (
	onReloadMu        sync.Mutex
	onReloadCallbacks []func(*Config)
)

// Get returns the current in-memory config (hot-reloaded when the file changes).
func Get() *Config { return current.Load() }

// Set sets the current in-memory config. Used at startup and by the file watcher.
func Set(c *Config) {
	if c != nil {
		current.Store(c)
	}
}

// RegisterOnReload registers a callback that runs after config is hot-reloaded.
func RegisterOnReload(fn func(*Config)) {
	onReloadMu.Lock()
	defer onReloadMu.Unlock()
	onReloadCallbacks = append(onReloadCallbacks, fn)
}

func notifyReload(cfg *Config) {
	onReloadMu.Lock()
	cb := make([]func(*Config), len(onReloadCallbacks))
	copy(cb, onReloadCallbacks)
	onReloadMu.Unlock()
	for _, fn := range cb {
		fn(cfg)
	}
}

//go:embed config.example.yaml
var exampleConfigBytes []byte

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config content, expanding ${VAR} references from the
// environment and filling unset fields with defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyLoadDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyLoadDefaults(cfg *Config) {
	def := DefaultConfig()
	setDefault(&cfg.Backend.BaseURL, def.Backend.BaseURL)
	setDefault(&cfg.Backend.StreamPath, def.Backend.StreamPath)
	setDefault(&cfg.Backend.SendPath, def.Backend.SendPath)
	setDefault(&cfg.Backend.SocketURL, def.Backend.SocketURL)
	setDefault(&cfg.Backend.ExtractPath, def.Backend.ExtractPath)
	setDefault(&cfg.Backend.PreviewSDKURL, def.Backend.PreviewSDKURL)
	setDefault(&cfg.Stream.Transport, def.Stream.Transport)
	setDefault(&cfg.Stream.Mode, def.Stream.Mode)
	setDefault(&cfg.Stream.PrimaryNode, def.Stream.PrimaryNode)
	setDefault(&cfg.Gateway.PrimaryNode, def.Gateway.PrimaryNode)

	if cfg.Attachments.SoftTimeout <= 0 {
		cfg.Attachments.SoftTimeout = def.Attachments.SoftTimeout
	}
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	if cfg.Gateway.DedupTTL <= 0 {
		cfg.Gateway.DedupTTL = def.Gateway.DedupTTL
	}
	if cfg.Gateway.SubscriberWait <= 0 {
		cfg.Gateway.SubscriberWait = def.Gateway.SubscriberWait
	}
	if cfg.Gateway.TokenDelay < 0 {
		cfg.Gateway.TokenDelay = 0
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func validate(cfg *Config) error {
	switch cfg.Stream.Transport {
	case TransportSSE, TransportWS:
	default:
		return fmt.Errorf("stream.transport must be %q or %q, got %q", TransportSSE, TransportWS, cfg.Stream.Transport)
	}
	switch cfg.Stream.Mode {
	case "chat", "research":
	default:
		return fmt.Errorf("stream.mode must be \"chat\" or \"research\", got %q", cfg.Stream.Mode)
	}
	return nil
}

// LoadOrDefault loads path, falling back to the embedded example config when
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return Parse(exampleConfigBytes)
}

func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return ""
	})
}

// ResolveHome returns the ANALYSTDESK_HOME directory.
// Priority: ANALYSTDESK_HOME env > ~/.analystdesk/
func ResolveHome() string {
	if home := os.Getenv("ANALYSTDESK_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".analystdesk"
	}
	return filepath.Join(userHome, ".analystdesk")
}

// ResolveConfigPath finds the config file.
// Priority: --config flag > ANALYSTDESK_HOME/config.yaml
func ResolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return filepath.Join(ResolveHome(), "config.yaml")
}

// CreateFromExample writes the embedded config.example.yaml to targetPath.
func CreateFromExample(targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(targetPath, exampleConfigBytes, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
