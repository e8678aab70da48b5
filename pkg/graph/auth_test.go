package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestOAuthConfig(t *testing.T) {
	conf, err := OAuthConfig(AuthConfig{
		ClientID: "client-1",
		TenantID: "contoso.onmicrosoft.com",
		Scopes:   []string{"user.read", "offline_access"},
		Cloud:    CloudUSGov,
	})
	require.NoError(t, err)

	assert.Equal(t, "client-1", conf.ClientID)
	assert.Equal(t, "https://login.microsoftonline.us/contoso.onmicrosoft.com/oauth2/v2.0/authorize", conf.Endpoint.AuthURL)
	assert.Equal(t, "https://login.microsoftonline.us/contoso.onmicrosoft.com/oauth2/v2.0/token", conf.Endpoint.TokenURL)
	assert.Equal(t, "https://login.microsoftonline.us/contoso.onmicrosoft.com/oauth2/v2.0/devicecode", conf.Endpoint.DeviceAuthURL)

	conf, err = OAuthConfig(AuthConfig{ClientID: "client-1"})
	require.NoError(t, err)
	assert.Contains(t, conf.Endpoint.TokenURL, "/common/")

	_, err = OAuthConfig(AuthConfig{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = OAuthConfig(AuthConfig{ClientID: "client-1", Cloud: "mars"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStartAuthenticationAddsPKCEChallenge(t *testing.T) {
	conf := &oauth2.Config{
		ClientID:    "client-1",
		RedirectURL: "http://localhost:53682/callback",
		Endpoint:    oauth2.Endpoint{AuthURL: "https://login.example/authorize", TokenURL: "https://login.example/token"},
	}

	authURL, verifier, err := StartAuthentication(conf, "state-1")
	require.NoError(t, err)
	assert.NotEmpty(t, verifier)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEqual(t, verifier, q.Get("code_challenge"))
	assert.Equal(t, "state-1", q.Get("state"))
}

func TestCompleteAuthenticationSendsVerifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.Form.Get("code"))
		assert.Equal(t, "the-verifier", r.Form.Get("code_verifier"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	conf := &oauth2.Config{ClientID: "client-1", Endpoint: oauth2.Endpoint{TokenURL: server.URL, AuthStyle: oauth2.AuthStyleInParams}}
	token, err := CompleteAuthentication(context.Background(), conf, "the-code", "the-verifier")
	require.NoError(t, err)
	assert.Equal(t, "at", token.AccessToken)
	assert.Equal(t, "rt", token.RefreshToken)
	assert.False(t, token.Expiry.IsZero())
}

func TestDeviceLogin(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/devicecode", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"device_code":      "dev-1",
			"user_code":        "ABCD-EFGH",
			"verification_uri": "https://microsoft.com/devicelogin",
			"expires_in":       900,
			"interval":         1,
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "dev-1", r.Form.Get("device_code"))
		polls++
		w.Header().Set("Content-Type", "application/json")
		if polls == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"authorization_pending"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	conf := &oauth2.Config{ClientID: "client-1", Endpoint: oauth2.Endpoint{
		DeviceAuthURL: server.URL + "/devicecode",
		TokenURL:      server.URL + "/token",
		AuthStyle:     oauth2.AuthStyleInParams,
	}}

	ctx := context.Background()
	da, err := StartDeviceLogin(ctx, conf)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-EFGH", da.UserCode)
	assert.Equal(t, "https://microsoft.com/devicelogin", da.VerificationURI)

	token, err := PollDeviceLogin(ctx, conf, da)
	require.NoError(t, err)
	assert.Equal(t, "at", token.AccessToken)
	assert.Equal(t, 2, polls)
}

func TestDeviceLoginDeclined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"authorization_declined","error_description":"the user said no"}`))
	}))
	defer server.Close()

	conf := &oauth2.Config{ClientID: "client-1", Endpoint: oauth2.Endpoint{TokenURL: server.URL, AuthStyle: oauth2.AuthStyleInParams}}
	da := &oauth2.DeviceAuthResponse{DeviceCode: "dev-1", Interval: 1, Expiry: time.Now().Add(time.Minute)}

	_, err := PollDeviceLogin(context.Background(), conf, da)
	assert.ErrorIs(t, err, ErrAuthorizationDeclined)
}

func TestPollDeviceLoginExpiredCode(t *testing.T) {
	conf := &oauth2.Config{ClientID: "client-1"}
	da := &oauth2.DeviceAuthResponse{DeviceCode: "dev-1", Expiry: time.Now().Add(-time.Minute)}

	_, err := PollDeviceLogin(context.Background(), conf, da)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestMapOAuthError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{code: "authorization_pending", want: ErrAuthorizationPending},
		{code: "access_denied", want: ErrAuthorizationDeclined},
		{code: "expired_token", want: ErrTokenExpired},
		{code: "invalid_grant", want: ErrInvalidRequest},
		{code: "temporarily_unavailable", want: ErrRetryLater},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := mapOAuthError(&oauth2.RetrieveError{ErrorCode: tt.code})
			assert.ErrorIs(t, err, tt.want)
			var retrieveErr *oauth2.RetrieveError
			assert.ErrorAs(t, err, &retrieveErr)
		})
	}
}
