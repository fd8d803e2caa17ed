// Package config loads the server/client process configuration from a
// YAML file, with .env overrides and optional hot-reload, adapted from
// the teacher's internal/config package (sdk_config.go's YAML-tagged
// struct shape) and internal/watcher/watcher.go's fsnotify-driven
// reload loop, generalized from the teacher's auth/proxy settings to
// this engine's listen/codec/logging surface.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the top-level, YAML-loaded configuration for a snekrpc
// server or client process.
type Config struct {
	// Listen is the URL the server binds, e.g. "tcp://0.0.0.0:12321".
	Listen string `yaml:"listen" json:"listen"`

	// Codecs names codecs for the server. snekrpc-server only checks each
	// name against the built-in codecs and logs a warning for unknown
	// ones; it does not change which codecs are offered or their order.
	Codecs []string `yaml:"codecs" json:"codecs"`

	// Workers bounds concurrent in-flight command executions; 0 means
	// unbounded.
	Workers int `yaml:"workers" json:"workers"`

	// HandshakeTimeoutSeconds bounds how long the server waits for
	// HELLO before closing a freshly accepted connection.
	HandshakeTimeoutSeconds int `yaml:"handshake-timeout-seconds" json:"handshake-timeout-seconds"`

	// Debug exposes handler tracebacks on CommandError replies.
	Debug bool `yaml:"debug" json:"debug"`

	// LogDir, if non-empty, switches logging from stdout to a rotated
	// file under this directory.
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// LogLevel is a logrus level name ("debug", "info", "warn", ...).
	LogLevel string `yaml:"log-level" json:"log-level"`

	// FileDir is the sandbox root the file.upload worked-example service
	// writes into.
	FileDir string `yaml:"file-dir,omitempty" json:"file-dir,omitempty"`
}

// HandshakeTimeout returns HandshakeTimeoutSeconds as a time.Duration,
// defaulting to 10s when unset.
func (c *Config) HandshakeTimeout() time.Duration {
	if c.HandshakeTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.HandshakeTimeoutSeconds) * time.Second
}

// Default returns the baseline configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:   "tcp://127.0.0.1:12321",
		Codecs:   []string{"msgpack", "json"},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file at path, then applies any
// SNEKRPC_-prefixed environment variables, including any loaded from a
// .env file in the current working directory (spec's ambient config
// layer, mirroring the teacher's godotenv + yaml.v3 combination). A
// missing path is not an error; Default() is returned with the
// environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		applyEnv(cfg)
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv loads .env (if present, silently skipped otherwise) and lets
// a handful of SNEKRPC_ variables override the loaded file, cheapest
// escape hatch for container deployments that can't mount a YAML file.
func applyEnv(cfg *Config) {
	_ = godotenv.Load()
	if v := os.Getenv("SNEKRPC_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("SNEKRPC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SNEKRPC_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v := os.Getenv("SNEKRPC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
}

// Watcher reloads Config from path whenever the file changes, invoking
// onReload with the freshly parsed value. It does not diff the old and
// new configs; callers that need per-field reload semantics compare
// fields themselves inside onReload.
type Watcher struct {
	path     string
	fw       *fsnotify.Watcher
	onReload func(*Config)
	log      *logrus.Entry
}

// NewWatcher builds a Watcher for path. path must already exist.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	return &Watcher{path: path, fw: fw, onReload: onReload, log: logrus.NewEntry(logrus.StandardLogger())}, nil
}

// Run blocks, dispatching reloads until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.WithError(err).Warn("config: reload failed, keeping previous config")
				continue
			}
			w.onReload(cfg)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config: watcher error")
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error { return w.fw.Close() }
