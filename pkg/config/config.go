// Package config loads twine's TOML configuration.
package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/odvcencio/twine/pkg/object"
)

// Config is the on-disk configuration. A missing file yields Default().
type Config struct {
	// Topline is the hex hash of the trusted root twist.
	Topline       string `toml:"topline"`
	HashAlgorithm string `toml:"hash_algorithm"`
	// Inventory holds the user's own twists: a gocloud blob URL or directory.
	Inventory     string `toml:"inventory"`

	Log    Log    `toml:"log"`
	Relay  Relay  `toml:"relay"`
	Client Client `toml:"client"`
}

type Log struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

type Relay struct {
	Listen    string `toml:"listen"`
	Inventory string `toml:"inventory"` // gocloud blob URL or directory
	Key       string `toml:"key"`       // SSH private key used to sign relay twists
	URL       string `toml:"url"`       // relay used by hoist and verify
	Events    string `toml:"events"`    // gocloud pubsub topic URL; empty disables events
}

type Client struct {
	Timeout      time.Duration `toml:"timeout"`
	MaxAttempts  int           `toml:"max_attempts"`
	PollAttempts int           `toml:"poll_attempts"`
	PollDelay    time.Duration `toml:"poll_delay"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HashAlgorithm: "sha256",
		Inventory:     "twines",
		Log:           Log{Level: "info", Format: "text"},
		Relay:         Relay{Listen: "127.0.0.1:8470", Inventory: "twine-relay"},
		Client: Client{
			Timeout:      60 * time.Second,
			MaxAttempts:  3,
			PollAttempts: 10,
			PollDelay:    2 * time.Second,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("read config: decode: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("read config: unknown key %q", undec[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

// Validate checks values that Load cannot type-check.
func (c *Config) Validate() error {
	if _, err := c.Algorithm(object.NewRegistry()); err != nil {
		return err
	}
	if c.Topline != "" {
		if _, err := object.NewRegistry().ParseHex(c.Topline); err != nil {
			return fmt.Errorf("topline: %w", err)
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log format %q: want text or json", c.Log.Format)
	}
	if c.Client.MaxAttempts < 0 || c.Client.PollAttempts < 0 {
		return fmt.Errorf("client attempts must not be negative")
	}
	return nil
}

// Algorithm resolves HashAlgorithm against reg.
func (c *Config) Algorithm(reg *object.Registry) (object.Algorithm, error) {
	name := c.HashAlgorithm
	if name == "" {
		name = "sha256"
	}
	alg, err := reg.AlgorithmByName(name)
	if err != nil {
		return nil, fmt.Errorf("hash_algorithm: %w", err)
	}
	if !alg.Verifiable() {
		return nil, fmt.Errorf("hash_algorithm %q cannot address packets", name)
	}
	return alg, nil
}

// ToplineHash parses Topline, returning Null when unset.
func (c *Config) ToplineHash(reg *object.Registry) (object.Hash, error) {
	if c.Topline == "" {
		return object.Null, nil
	}
	return reg.ParseHex(c.Topline)
}

// Save atomically writes c to path as TOML.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write config: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}

// NewLogger builds a slog logger writing to w.
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}
