package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DefaultsAndEnv(t *testing.T) {
	t.Setenv("DESK_TEST_TOKEN", "s3cret")
	cfg, err := Parse([]byte(`
backend:
  baseURL: http://backend:8080
  token: ${DESK_TEST_TOKEN}
stream:
  transport: ws
attachments:
  softTimeout: 45s
`))
	require.NoError(t, err)
	assert.Equal(t, "http://backend:8080", cfg.Backend.BaseURL)
	assert.Equal(t, "s3cret", cfg.Backend.Token)
	assert.Equal(t, "/api/chat/stream", cfg.Backend.StreamPath)
	assert.Equal(t, TransportWS, cfg.Stream.Transport)
	assert.Equal(t, "chat", cfg.Stream.Mode)
	assert.Equal(t, "agent", cfg.Stream.PrimaryNode)
	assert.Equal(t, 45*time.Second, cfg.Attachments.SoftTimeout)
	assert.Equal(t, 19810, cfg.Gateway.Port)
}

func TestParse_UnsetEnvBecomesEmpty(t *testing.T) {
	cfg, err := Parse([]byte("backend:\n  token: ${DESK_TEST_UNSET_VAR}\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Backend.Token)
}

func TestParse_RejectsBadValues(t *testing.T) {
	_, err := Parse([]byte("stream:\n  transport: carrier-pigeon\n"))
	require.ErrorContains(t, err, "stream.transport")
	_, err = Parse([]byte("stream:\n  mode: verbose\n"))
	require.ErrorContains(t, err, "stream.mode")
	_, err = Parse([]byte("stream: [\n"))
	require.ErrorContains(t, err, "parse config")
}

func TestExampleConfigParses(t *testing.T) {
	cfg, err := Parse(exampleConfigBytes)
	require.NoError(t, err)
	assert.Equal(t, "@every 15s", cfg.Gateway.Heartbeat)
	assert.Equal(t, 20*time.Millisecond, cfg.Gateway.TokenDelay)
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, TransportSSE, cfg.Stream.Transport)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stream: [\n"), 0600))
	_, err = LoadOrDefault(path)
	require.Error(t, err)
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("ANALYSTDESK_HOME", "/tmp/desk-home")
	assert.Equal(t, "/tmp/desk-home/config.yaml", ResolveConfigPath(""))
	assert.Equal(t, "custom.yaml", ResolveConfigPath("custom.yaml"))
}

func TestSetGetAndReloadCallbacks(t *testing.T) {
	cfg := DefaultConfig()
	Set(cfg)
	assert.Same(t, cfg, Get())

	var got *Config
	RegisterOnReload(func(c *Config) { got = c })
	notifyReload(cfg)
	assert.Same(t, cfg, got)
}

func TestWatch_AppliesEditedFile(t *testing.T) {
	prev := reloadDebounce
	reloadDebounce = 10 * time.Millisecond
	t.Cleanup(func() { reloadDebounce = prev })

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  tokenDelay: 5ms\n"), 0600))
	cfg, err := Load(path)
	require.NoError(t, err)
	Set(cfg)

	applied := make(chan *Config, 8)
	RegisterOnReload(func(c *Config) {
		select {
		case applied <- c:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, Watch(ctx, path))

	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  tokenDelay: 50ms\n  auth:\n    token: rotated\n"), 0600))
	select {
	case c := <-applied:
		assert.Equal(t, 50*time.Millisecond, c.Gateway.TokenDelay)
		assert.Equal(t, "rotated", c.Gateway.Auth.Token)
	case <-time.After(5 * time.Second):
		t.Fatal("edited config was not applied")
	}
	assert.Equal(t, "rotated", Get().Gateway.Auth.Token)

	require.NoError(t, os.WriteFile(path, []byte("stream:\n  transport: carrier-pigeon\n"), 0600))
	assert.Never(t, func() bool { return len(applied) > 0 }, 300*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, "rotated", Get().Gateway.Auth.Token, "invalid edits keep the current config")
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "watch config")
}

func TestChanged(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	assert.Empty(t, Changed(a, b))

	b.Gateway.TokenDelay = time.Second
	b.Stream.Mode = "research"
	assert.Equal(t, []string{"stream", "gateway"}, Changed(a, b))
	assert.Equal(t, []string{"backend", "stream", "attachments", "gateway"}, Changed(nil, b))
}
