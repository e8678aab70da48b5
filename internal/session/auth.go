package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// authSessionFile holds the device code of a login the user has not
// finished yet.
const authSessionFile = "auth_session.json"

// AuthState is a pending device code login.
type AuthState struct {
	DeviceCode              string    `json:"device_code"`
	UserCode                string    `json:"user_code"`
	VerificationURI         string    `json:"verification_uri"`
	VerificationURIComplete string    `json:"verification_uri_complete,omitempty"`
	Expiry                  time.Time `json:"expiry"`
	Interval                int64     `json:"interval"`
}

// NewAuthState captures the parts of a device authorization response needed
// to continue polling in a later run.
func NewAuthState(da *oauth2.DeviceAuthResponse) *AuthState {
	return &AuthState{
		DeviceCode:              da.DeviceCode,
		UserCode:                da.UserCode,
		VerificationURI:         da.VerificationURI,
		VerificationURIComplete: da.VerificationURIComplete,
		Expiry:                  da.Expiry,
		Interval:                da.Interval,
	}
}

// DeviceAuth converts the state back into the response oauth2 polls with.
func (s *AuthState) DeviceAuth() *oauth2.DeviceAuthResponse {
	return &oauth2.DeviceAuthResponse{
		DeviceCode:              s.DeviceCode,
		UserCode:                s.UserCode,
		VerificationURI:         s.VerificationURI,
		VerificationURIComplete: s.VerificationURIComplete,
		Expiry:                  s.Expiry,
		Interval:                s.Interval,
	}
}

func (m *Manager) getAuthSessionFilePath() string {
	return filepath.Join(m.getSessionDir(), authSessionFile)
}

// SaveAuthState persists a pending login.
func (m *Manager) SaveAuthState(state *AuthState) error {
	filePath := m.getAuthSessionFilePath()
	return m.withLock(filePath, func() error {
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Errorf("marshalling auth session state: %w", err)
		}
		return os.WriteFile(filePath, data, 0600)
	})
}

// LoadAuthState returns the pending login, or nil if there is none or its
// device code has expired.
func (m *Manager) LoadAuthState() (*AuthState, error) {
	filePath := m.getAuthSessionFilePath()

	var state *AuthState
	err := m.withLock(filePath, func() error {
		data, err := os.ReadFile(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("reading auth session file '%s': %w", filePath, err)
		}

		var s AuthState
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("unmarshalling auth session state from '%s': %w", filePath, err)
		}
		if !s.Expiry.IsZero() && !m.now().Before(s.Expiry) {
			return removeIfExists(filePath)
		}
		state = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// DeleteAuthState removes a pending login. It is a no-op if there is none.
func (m *Manager) DeleteAuthState() error {
	filePath := m.getAuthSessionFilePath()
	return m.withLock(filePath, func() error {
		return removeIfExists(filePath)
	})
}
