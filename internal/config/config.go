// Package config loads the graph-snippets settings and persists the OAuth
// token between runs.
//
// Settings are read with viper from an optional config.yaml in the config
// directory and from GRAPH_SNIPPETS_* environment variables, which take
// precedence over the file. The token lives next to the settings in
// token.json.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tonimelisma/graph-snippets/pkg/graph"
)

const (
	appName    = "graph-snippets"
	configName = "config"
	configType = "yaml"
	// EnvPrefix prefixes every environment override, e.g. GRAPH_SNIPPETS_CLIENT_ID.
	EnvPrefix = "GRAPH_SNIPPETS"
)

// Setting keys.
const (
	KeyClientID          = "client_id"
	KeyTenantID          = "tenant_id"
	KeyScopes            = "scopes"
	KeyCloud             = "cloud"
	KeySliceSize         = "slice_size"
	KeyMaxAttempts       = "max_attempts"
	KeyRetryDelay        = "retry_delay"
	KeyMaxRetryDelay     = "max_retry_delay"
	KeyRequestsPerSecond = "requests_per_second"
	KeyBurst             = "burst"
	KeyTimeout           = "timeout"
	KeyProxyURL          = "proxy_url"
	KeyChaosPercent      = "chaos_percent"
	KeyDebug             = "debug"
)

// DefaultScopes are requested when no scopes are configured.
var DefaultScopes = []string{"user.read", "mail.read", "mail.readwrite", "files.readwrite", "offline_access"}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Settings holds the application's configuration.
type Settings struct {
	ClientID string
	TenantID string
	Scopes   []string
	Cloud    graph.Cloud

	SliceSize     int64
	MaxAttempts   int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	ProxyURL          string
	ChaosPercent      int

	Debug bool

	// Dir is the directory settings were loaded from; the token and the
	// session state are stored there too.
	Dir string
}

// Dir returns the default config directory, $XDG_CONFIG_HOME/graph-snippets
// on Linux.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("getting user config directory: %w", err)
	}
	return filepath.Join(base, appName), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyTenantID, "common")
	v.SetDefault(KeyScopes, strings.Join(DefaultScopes, " "))
	v.SetDefault(KeyCloud, string(graph.CloudGlobal))
	v.SetDefault(KeySliceSize, graph.DefaultSliceSize)
	v.SetDefault(KeyMaxAttempts, graph.DefaultRetryAttempts)
	v.SetDefault(KeyRetryDelay, graph.DefaultRetryDelay)
	v.SetDefault(KeyMaxRetryDelay, graph.DefaultMaxRetryDelay)
	v.SetDefault(KeyRequestsPerSecond, graph.DefaultRequestsPerSecond)
	v.SetDefault(KeyBurst, graph.DefaultBurstSize)
	v.SetDefault(KeyTimeout, graph.DefaultTimeout)
	v.SetDefault(KeyChaosPercent, 0)
	v.SetDefault(KeyDebug, false)
}

// Load reads the settings from dir and the environment and validates them.
// A missing config file is not an error.
func Load(dir string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(dir)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// AutomaticEnv only consults keys viper knows about.
	_ = v.BindEnv(KeyClientID)
	_ = v.BindEnv(KeyProxyURL)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file in '%s': %w", dir, err)
		}
	}

	s := &Settings{
		ClientID:          strings.TrimSpace(v.GetString(KeyClientID)),
		TenantID:          strings.TrimSpace(v.GetString(KeyTenantID)),
		Scopes:            v.GetStringSlice(KeyScopes),
		Cloud:             graph.Cloud(strings.ToLower(v.GetString(KeyCloud))),
		SliceSize:         v.GetInt64(KeySliceSize),
		MaxAttempts:       v.GetInt(KeyMaxAttempts),
		RetryDelay:        v.GetDuration(KeyRetryDelay),
		MaxRetryDelay:     v.GetDuration(KeyMaxRetryDelay),
		RequestsPerSecond: v.GetFloat64(KeyRequestsPerSecond),
		Burst:             v.GetInt(KeyBurst),
		Timeout:           v.GetDuration(KeyTimeout),
		ProxyURL:          v.GetString(KeyProxyURL),
		ChaosPercent:      v.GetInt(KeyChaosPercent),
		Debug:             v.GetBool(KeyDebug),
		Dir:               dir,
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadDefault loads the settings from the default config directory.
func LoadDefault() (*Settings, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return Load(dir)
}

// Validate checks that the settings can be used to sign in and upload.
func (s *Settings) Validate() error {
	var problems []string

	if s.ClientID == "" {
		problems = append(problems, fmt.Sprintf("%s is required (set it in config.yaml or %s_CLIENT_ID)", KeyClientID, EnvPrefix))
	}
	if s.TenantID == "" {
		problems = append(problems, KeyTenantID+" must not be empty")
	}
	if len(s.Scopes) == 0 {
		problems = append(problems, KeyScopes+" must not be empty")
	}
	if _, err := graph.EndpointsFor(s.Cloud); err != nil {
		problems = append(problems, fmt.Sprintf("%s %q is not one of global, usgov, usgov-dod, china", KeyCloud, s.Cloud))
	}
	if s.SliceSize <= 0 || s.SliceSize%graph.SliceAlignment != 0 || s.SliceSize > graph.MaxSliceSize {
		problems = append(problems, fmt.Sprintf("%s must be a positive multiple of %d bytes up to %d, got %d", KeySliceSize, graph.SliceAlignment, graph.MaxSliceSize, s.SliceSize))
	}
	if s.MaxAttempts < 1 {
		problems = append(problems, fmt.Sprintf("%s must be at least 1, got %d", KeyMaxAttempts, s.MaxAttempts))
	}
	if s.RetryDelay <= 0 || s.MaxRetryDelay < s.RetryDelay {
		problems = append(problems, fmt.Sprintf("%s must be positive and not exceed %s", KeyRetryDelay, KeyMaxRetryDelay))
	}
	if s.ChaosPercent < 0 || s.ChaosPercent > 100 {
		problems = append(problems, fmt.Sprintf("%s must be between 0 and 100, got %d", KeyChaosPercent, s.ChaosPercent))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// AuthConfig returns the identity settings for graph.OAuthConfig.
func (s *Settings) AuthConfig(redirectURL string) graph.AuthConfig {
	return graph.AuthConfig{
		ClientID:    s.ClientID,
		TenantID:    s.TenantID,
		Scopes:      s.Scopes,
		Cloud:       s.Cloud,
		RedirectURL: redirectURL,
	}
}

// UploadOptions returns the upload task options derived from the settings.
func (s *Settings) UploadOptions() graph.UploadOptions {
	return graph.UploadOptions{
		SliceSize:     s.SliceSize,
		MaxAttempts:   s.MaxAttempts,
		RetryDelay:    s.RetryDelay,
		MaxRetryDelay: s.MaxRetryDelay,
	}
}
