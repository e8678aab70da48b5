// Package app wires the settings, token store, session state and logger into
// a graph.Client for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tonimelisma/graph-snippets/internal/config"
	"github.com/tonimelisma/graph-snippets/internal/logger"
	"github.com/tonimelisma/graph-snippets/internal/session"
	"github.com/tonimelisma/graph-snippets/pkg/graph"
	"golang.org/x/oauth2"
)

// ErrLoginPending is returned when there is no token yet but a device code
// login was started and not finished.
var ErrLoginPending = errors.New("login pending")

type App struct {
	Settings *config.Settings
	Tokens   *config.TokenStore
	Sessions *session.Manager
	Logger   logger.Logger
	Client   *graph.Client
	SDK      SDK
}

// Load reads the settings and opens the token and session stores without
// requiring a signed-in user. The auth commands start from here.
func Load(cmd *cobra.Command) (*App, error) {
	settings, err := config.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return newApp(cmd, settings), nil
}

func newApp(cmd *cobra.Command, settings *config.Settings) *App {
	// The flag overrides the setting only when passed.
	if debug, err := cmd.Flags().GetBool("debug"); err == nil && debug {
		settings.Debug = true
	}
	return &App{
		Settings: settings,
		Tokens:   config.NewTokenStore(settings.Dir),
		Sessions: session.NewManager(settings.Dir),
		Logger:   logger.NewDefaultLogger(settings.Debug),
	}
}

// NewApp loads the application and connects a Graph client with the stored
// token. Without a token it returns graph.ErrReauthRequired, or
// ErrLoginPending if a device code login is waiting to be finished.
func NewApp(cmd *cobra.Command) (*App, error) {
	a, err := Load(cmd)
	if err != nil {
		return nil, err
	}
	if err := a.connect(commandContext(cmd)); err != nil {
		// Forward the sentinels unwrapped for the command layer.
		if errors.Is(err, ErrLoginPending) || errors.Is(err, graph.ErrReauthRequired) {
			return nil, err
		}
		return nil, fmt.Errorf("initializing graph client: %w", err)
	}
	return a, nil
}

// HTTPConfig returns the transport settings for every client the app builds.
func (a *App) HTTPConfig() graph.HTTPConfig {
	return graph.HTTPConfig{
		Timeout:      a.Settings.Timeout,
		ProxyURL:     a.Settings.ProxyURL,
		Debug:        a.Settings.Debug,
		ChaosPercent: a.Settings.ChaosPercent,
		Logger:       a.Logger,
	}
}

// OAuthConfig returns the OAuth client configuration for the configured
// application and cloud.
func (a *App) OAuthConfig(redirectURL string) (*oauth2.Config, error) {
	return graph.OAuthConfig(a.Settings.AuthConfig(redirectURL))
}

// AuthContext returns ctx carrying an HTTP client with the configured proxy
// and middleware, used by oauth2 for token endpoint calls.
func (a *App) AuthContext(ctx context.Context) (context.Context, error) {
	cfg := a.HTTPConfig()
	// Injected faults would make sign-in flaky without exercising anything.
	cfg.ChaosPercent = 0
	httpClient, err := graph.NewConfiguredHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	return context.WithValue(ctx, oauth2.HTTPClient, httpClient), nil
}

func (a *App) connect(ctx context.Context) error {
	token, err := a.Tokens.Load()
	if err != nil {
		return fmt.Errorf("loading token: %w", err)
	}
	if token == nil {
		pending, err := a.Sessions.LoadAuthState()
		if err != nil {
			return fmt.Errorf("could not load auth state: %w", err)
		}
		if pending != nil {
			return fmt.Errorf("%w: go to %s and enter code %s, then run 'graph-snippets auth login' to finish", ErrLoginPending, pending.VerificationURI, pending.UserCode)
		}
		return graph.ErrReauthRequired
	}

	conf, err := a.OAuthConfig("")
	if err != nil {
		return err
	}
	authCtx, err := a.AuthContext(ctx)
	if err != nil {
		return err
	}
	endpoints, err := graph.EndpointsFor(a.Settings.Cloud)
	if err != nil {
		return err
	}

	ts := newPersistingTokenSource(conf.TokenSource(authCtx, token), token, a.Tokens.Save, a.Logger)
	client, err := graph.NewClient(ctx, ts, graph.ClientOptions{
		BaseURL:     endpoints.GraphBaseURL,
		HTTP:        a.HTTPConfig(),
		RateLimiter: graph.NewRateLimiter(a.Settings.RequestsPerSecond, a.Settings.Burst),
		Logger:      a.Logger,
	})
	if err != nil {
		return err
	}
	a.Client = client
	a.SDK = NewGraphSDK(client)
	return nil
}

// GetMe fetches the signed-in user.
func (a *App) GetMe(ctx context.Context) (graph.User, error) {
	return a.SDK.GetMe(ctx)
}

// Logout clears the stored token and any pending device code login.
// Persisted upload sessions are kept; they are not tied to the token.
func (a *App) Logout() error {
	if err := a.Tokens.Delete(); err != nil {
		return fmt.Errorf("could not clear token: %w", err)
	}
	if err := a.Sessions.DeleteAuthState(); err != nil {
		a.Logger.Warnf("could not delete auth session file during logout: %v", err)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
