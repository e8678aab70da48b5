package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tonimelisma/graph-snippets/pkg/graph"
	"golang.org/x/oauth2"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600))
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GRAPH_SNIPPETS_CLIENT_ID", "env-client")

	s, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "env-client", s.ClientID)
	assert.Equal(t, "common", s.TenantID)
	assert.Equal(t, DefaultScopes, s.Scopes)
	assert.Equal(t, graph.CloudGlobal, s.Cloud)
	assert.Equal(t, int64(graph.DefaultSliceSize), s.SliceSize)
	assert.Equal(t, 4, s.MaxAttempts)
	assert.Equal(t, time.Second, s.RetryDelay)
	assert.Equal(t, 10*time.Second, s.MaxRetryDelay)
	assert.Equal(t, 10.0, s.RequestsPerSecond)
	assert.Equal(t, 15, s.Burst)
	assert.Equal(t, 30*time.Second, s.Timeout)
	assert.Empty(t, s.ProxyURL)
	assert.Zero(t, s.ChaosPercent)
	assert.False(t, s.Debug)
	assert.Equal(t, dir, s.Dir)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
client_id: file-client
tenant_id: contoso.onmicrosoft.com
scopes:
  - user.read
  - files.readwrite
cloud: usgov
slice_size: 655360
max_attempts: 6
retry_delay: 500ms
max_retry_delay: 20s
proxy_url: http://proxy.local:3128
chaos_percent: 25
debug: true
`)

	s, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "file-client", s.ClientID)
	assert.Equal(t, "contoso.onmicrosoft.com", s.TenantID)
	assert.Equal(t, []string{"user.read", "files.readwrite"}, s.Scopes)
	assert.Equal(t, graph.CloudUSGov, s.Cloud)
	assert.Equal(t, int64(655360), s.SliceSize)
	assert.Equal(t, 6, s.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, s.RetryDelay)
	assert.Equal(t, 20*time.Second, s.MaxRetryDelay)
	assert.Equal(t, "http://proxy.local:3128", s.ProxyURL)
	assert.Equal(t, 25, s.ChaosPercent)
	assert.True(t, s.Debug)

	opts := s.UploadOptions()
	assert.Equal(t, int64(655360), opts.SliceSize)
	assert.Equal(t, 6, opts.MaxAttempts)

	auth := s.AuthConfig("http://localhost:1234/callback")
	assert.Equal(t, "file-client", auth.ClientID)
	assert.Equal(t, "http://localhost:1234/callback", auth.RedirectURL)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "client_id: file-client\nmax_attempts: 2\n")
	t.Setenv("GRAPH_SNIPPETS_CLIENT_ID", "env-client")
	t.Setenv("GRAPH_SNIPPETS_MAX_ATTEMPTS", "7")
	t.Setenv("GRAPH_SNIPPETS_SCOPES", "user.read mail.read")

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "env-client", s.ClientID)
	assert.Equal(t, 7, s.MaxAttempts)
	assert.Equal(t, []string{"user.read", "mail.read"}, s.Scopes)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "client_id: [unterminated\n")

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Settings {
		return Settings{
			ClientID:      "client",
			TenantID:      "common",
			Scopes:        []string{"user.read"},
			Cloud:         graph.CloudGlobal,
			SliceSize:     graph.DefaultSliceSize,
			MaxAttempts:   4,
			RetryDelay:    time.Second,
			MaxRetryDelay: 10 * time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{name: "valid", mutate: func(*Settings) {}},
		{name: "missing client id", mutate: func(s *Settings) { s.ClientID = "" }, wantErr: "client_id is required"},
		{name: "empty tenant", mutate: func(s *Settings) { s.TenantID = "" }, wantErr: "tenant_id"},
		{name: "no scopes", mutate: func(s *Settings) { s.Scopes = nil }, wantErr: "scopes"},
		{name: "unknown cloud", mutate: func(s *Settings) { s.Cloud = "mars" }, wantErr: "cloud"},
		{name: "unaligned slice", mutate: func(s *Settings) { s.SliceSize = 1_000_000 }, wantErr: "slice_size"},
		{name: "oversized slice", mutate: func(s *Settings) { s.SliceSize = 200 * graph.SliceAlignment }, wantErr: "slice_size"},
		{name: "zero attempts", mutate: func(s *Settings) { s.MaxAttempts = 0 }, wantErr: "max_attempts"},
		{name: "delay above max", mutate: func(s *Settings) { s.RetryDelay = time.Minute }, wantErr: "retry_delay"},
		{name: "chaos out of range", mutate: func(s *Settings) { s.ChaosPercent = 101 }, wantErr: "chaos_percent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestTokenStoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	store := NewTokenStore(dir)

	tok, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, tok, "no token saved yet")

	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", Expiry: expiry}))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	tok, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.True(t, expiry.Equal(tok.Expiry))

	require.NoError(t, store.Delete())
	tok, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, tok)
	assert.NoError(t, store.Delete(), "deleting twice is fine")
}

func TestTokenStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store := NewTokenStore(dir)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0600))

	_, err := store.Load()
	assert.Error(t, err)
}

func TestTokenStoreSaveNil(t *testing.T) {
	assert.Error(t, NewTokenStore(t.TempDir()).Save(nil))
}
