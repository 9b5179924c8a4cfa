package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/odvcencio/twine/pkg/object"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "twine.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	top := object.SHA256.Sum([]byte("top"))
	path := writeConfig(t, `
topline = "`+top.Hex()+`"
hash_algorithm = "blake3"

[log]
level = "debug"
format = "json"

[relay]
url = "http://relay.example:8470"

[client]
timeout = "5s"
poll_attempts = 4
poll_delay = "250ms"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	reg := object.NewRegistry()
	alg, err := cfg.Algorithm(reg)
	if err != nil || alg.Code() != object.CodeBLAKE3 {
		t.Fatalf("Algorithm = %v, %v; want blake3", alg, err)
	}
	h, err := cfg.ToplineHash(reg)
	if err != nil || h != top {
		t.Fatalf("ToplineHash = %s, %v; want %s", h, err, top)
	}
	if cfg.Client.Timeout != 5*time.Second || cfg.Client.PollDelay != 250*time.Millisecond {
		t.Fatalf("client durations = %v, %v", cfg.Client.Timeout, cfg.Client.PollDelay)
	}
	if cfg.Client.MaxAttempts != 3 {
		t.Fatalf("max_attempts default lost: %d", cfg.Client.MaxAttempts)
	}
	if cfg.Relay.Listen != Default().Relay.Listen {
		t.Fatalf("relay.listen default lost: %q", cfg.Relay.Listen)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown algorithm", `hash_algorithm = "md5"`},
		{"symbol algorithm", `hash_algorithm = "symbol"`},
		{"bad topline", `topline = "zz"`},
		{"bad level", "[log]\nlevel = \"loud\""},
		{"bad format", "[log]\nformat = \"xml\""},
		{"unknown key", `colour = "blue"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Relay.URL = "http://localhost:8470"
	cfg.Client.PollDelay = 3 * time.Second
	path := filepath.Join(t.TempDir(), "nested", "twine.toml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestNewLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Log{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Fatalf("unexpected json output: %s", out)
	}
}
