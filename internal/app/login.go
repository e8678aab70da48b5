package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/tonimelisma/graph-snippets/internal/session"
	"github.com/tonimelisma/graph-snippets/pkg/graph"
	"golang.org/x/oauth2"
)

// DevicePrompt shows the user where to enter the device code. resumed is
// true when the code comes from a login started in an earlier run.
type DevicePrompt func(da *oauth2.DeviceAuthResponse, resumed bool)

// LoginWithDeviceCode signs in with the device authorization grant and saves
// the token. The device code is persisted until the login finishes, so an
// interrupted login continues with the same code in the next run.
func (a *App) LoginWithDeviceCode(ctx context.Context, prompt DevicePrompt) (*oauth2.Token, error) {
	conf, err := a.OAuthConfig("")
	if err != nil {
		return nil, err
	}
	authCtx, err := a.AuthContext(ctx)
	if err != nil {
		return nil, err
	}
	return a.deviceLogin(authCtx, conf, prompt)
}

func (a *App) deviceLogin(ctx context.Context, conf *oauth2.Config, prompt DevicePrompt) (*oauth2.Token, error) {
	pending, err := a.Sessions.LoadAuthState()
	if err != nil {
		return nil, fmt.Errorf("could not load auth state: %w", err)
	}

	var da *oauth2.DeviceAuthResponse
	resumed := pending != nil
	if resumed {
		da = pending.DeviceAuth()
		a.Logger.Debug("continuing pending device login", "expiry", da.Expiry)
	} else {
		da, err = graph.StartDeviceLogin(ctx, conf)
		if err != nil {
			return nil, fmt.Errorf("login initiation failed: %w", err)
		}
		if err := a.Sessions.SaveAuthState(session.NewAuthState(da)); err != nil {
			return nil, fmt.Errorf("saving auth session state failed: %w", err)
		}
	}
	prompt(da, resumed)

	token, err := graph.PollDeviceLogin(ctx, conf, da)
	if err != nil {
		// An interrupted login can be finished later; these cannot.
		if errors.Is(err, graph.ErrAuthorizationDeclined) || errors.Is(err, graph.ErrTokenExpired) || errors.Is(err, graph.ErrInvalidRequest) {
			if delErr := a.Sessions.DeleteAuthState(); delErr != nil {
				a.Logger.Warnf("could not delete auth session file: %v", delErr)
			}
		}
		return nil, err
	}
	return token, a.finishLogin(token)
}

// LoginWithBrowser signs in with the authorization code grant and PKCE. The
// redirect is received by a listener on a loopback port; show is given the
// URL the user has to open.
func (a *App) LoginWithBrowser(ctx context.Context, show func(authURL string)) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("starting redirect listener: %w", err)
	}
	redirectURL := fmt.Sprintf("http://localhost:%d/callback", ln.Addr().(*net.TCPAddr).Port)

	conf, err := a.OAuthConfig(redirectURL)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	authCtx, err := a.AuthContext(ctx)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	token, err := browserLogin(authCtx, conf, ln, show)
	if err != nil {
		return nil, err
	}
	return token, a.finishLogin(token)
}

func (a *App) finishLogin(token *oauth2.Token) error {
	if err := a.Tokens.Save(token); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	if err := a.Sessions.DeleteAuthState(); err != nil {
		a.Logger.Warnf("could not delete auth session file: %v", err)
	}
	return nil
}

type callbackResult struct {
	code string
	err  error
}

// browserLogin serves the redirect on ln until one callback arrives or ctx
// is done. It closes ln.
func browserLogin(ctx context.Context, conf *oauth2.Config, ln net.Listener, show func(string)) (*oauth2.Token, error) {
	state := uuid.NewString()
	authURL, verifier, err := graph.StartAuthentication(conf, state)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		code, err := parseCallback(r.URL.Query(), state)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "Signed in. You can close this window.")
		}
		select {
		case results <- callbackResult{code: code, err: err}:
		default:
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	show(authURL)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		return graph.CompleteAuthentication(ctx, conf, res.code, verifier)
	}
}

// parseCallback extracts the authorization code from the redirect query.
func parseCallback(query url.Values, state string) (string, error) {
	if query.Has("error") {
		if query.Has("error_description") {
			return "", fmt.Errorf("%w: oauth authorization failed: %s: %s", graph.ErrAuthorizationDeclined, query.Get("error"), query.Get("error_description"))
		}
		return "", fmt.Errorf("%w: oauth authorization failed: %s", graph.ErrAuthorizationDeclined, query.Get("error"))
	}
	if query.Get("state") != state {
		return "", fmt.Errorf("%w: state mismatch in oauth callback", graph.ErrInvalidRequest)
	}
	if !query.Has("code") {
		return "", fmt.Errorf("%w: couldn't parse code in callback: %s", graph.ErrInvalidRequest, query.Encode())
	}
	return query.Get("code"), nil
}
