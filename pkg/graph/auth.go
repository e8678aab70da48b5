// Package graph (auth.go) builds OAuth2 configurations for the Microsoft
// identity platform and wraps the two interactive grants used by the CLI:
// the device authorization grant and the authorization code grant with PKCE.
// Token requests themselves are made by golang.org/x/oauth2.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	cv "github.com/nirasan/go-oauth-pkce-code-verifier"
	"golang.org/x/oauth2"
)

// AuthConfig identifies the application registration and the tenant to sign
// in to.
type AuthConfig struct {
	ClientID    string
	TenantID    string
	Scopes      []string
	Cloud       Cloud
	RedirectURL string
}

// OAuthConfig returns the oauth2 configuration for the v2.0 endpoints of the
// configured cloud and tenant.
func OAuthConfig(cfg AuthConfig) (*oauth2.Config, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: client ID must not be empty", ErrInvalidRequest)
	}
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}
	ep, err := EndpointsFor(cfg.Cloud)
	if err != nil {
		return nil, err
	}

	authority := strings.TrimSuffix(ep.AuthorityHost, "/") + "/" + tenant + "/oauth2/v2.0"
	return &oauth2.Config{
		ClientID:    cfg.ClientID,
		Scopes:      cfg.Scopes,
		RedirectURL: cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:       authority + "/authorize",
			TokenURL:      authority + "/token",
			DeviceAuthURL: authority + "/devicecode",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}, nil
}

// StartDeviceLogin requests a device code. The returned response carries the
// user code and verification URI to show the user; pass it to
// PollDeviceLogin to wait for the user to finish signing in.
//
// Example:
//
//	conf, _ := graph.OAuthConfig(graph.AuthConfig{ClientID: id, Scopes: scopes})
//	da, err := graph.StartDeviceLogin(ctx, conf)
//	if err != nil { log.Fatal(err) }
//	fmt.Printf("Go to %s and enter %s\n", da.VerificationURI, da.UserCode)
//	token, err := graph.PollDeviceLogin(ctx, conf, da)
func StartDeviceLogin(ctx context.Context, conf *oauth2.Config) (*oauth2.DeviceAuthResponse, error) {
	da, err := conf.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("requesting device code: %w", mapOAuthError(err))
	}
	return da, nil
}

// PollDeviceLogin polls the token endpoint at the interval the server asked
// for until the user completes or declines the sign-in, or the device code
// expires.
func PollDeviceLogin(ctx context.Context, conf *oauth2.Config, da *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	if !da.Expiry.IsZero() && !time.Now().Before(da.Expiry) {
		return nil, fmt.Errorf("%w: device code expired at %s", ErrTokenExpired, da.Expiry.Format(time.RFC3339))
	}

	token, err := conf.DeviceAccessToken(ctx, da)
	if err != nil {
		// DeviceAccessToken bounds polling by the device code's expiry.
		if errors.Is(err, context.DeadlineExceeded) && !da.Expiry.IsZero() && !time.Now().Before(da.Expiry) {
			return nil, fmt.Errorf("%w: device code expired before sign-in completed", ErrTokenExpired)
		}
		return nil, fmt.Errorf("polling for device token: %w", mapOAuthError(err))
	}
	return token, nil
}

// StartAuthentication begins the authorization code grant with PKCE. It
// returns the URL the user must open and the code verifier that
// CompleteAuthentication needs later.
func StartAuthentication(conf *oauth2.Config, state string) (authURL, codeVerifier string, err error) {
	verifier, err := cv.CreateCodeVerifier()
	if err != nil {
		return "", "", fmt.Errorf("could not create PKCE code verifier: %w", err)
	}

	authURL = conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", verifier.CodeChallengeS256()),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	return authURL, verifier.String(), nil
}

// CompleteAuthentication exchanges an authorization code for a token.
func CompleteAuthentication(ctx context.Context, conf *oauth2.Config, code, codeVerifier string) (*oauth2.Token, error) {
	token, err := conf.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: exchanging authorization code for token: %w", ErrOperationFailed, mapOAuthError(err))
	}
	return token, nil
}

// mapOAuthError attaches the matching sentinel to an oauth2 RetrieveError.
func mapOAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return err
	}
	switch retrieveErr.ErrorCode {
	case "authorization_pending":
		return fmt.Errorf("%w: %w", ErrAuthorizationPending, err)
	case "authorization_declined", "access_denied":
		return fmt.Errorf("%w: %w", ErrAuthorizationDeclined, err)
	case "expired_token", "code_expired":
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case "invalid_request", "invalid_grant", "invalid_client", "invalid_scope", "unauthorized_client":
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	case "server_error", "temporarily_unavailable":
		return fmt.Errorf("%w: %w", ErrRetryLater, err)
	}
	return err
}
