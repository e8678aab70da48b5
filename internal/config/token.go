package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/oauth2"
)

const tokenFile = "token.json"

// lockTimeout bounds how long token file operations wait for another
// process holding the lock.
const lockTimeout = 2 * time.Second

// TokenStore persists the OAuth token as JSON, readable by the user only.
// Access is serialised across processes with a lock file.
type TokenStore struct {
	path string
}

// NewTokenStore returns a store for dir/token.json.
func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{path: filepath.Join(dir, tokenFile)}
}

// Path returns the token file location.
func (s *TokenStore) Path() string { return s.path }

// Load returns the stored token, or nil if none has been saved.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading token file '%s': %w", s.path, err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("unmarshalling token from '%s': %w", s.path, err)
	}
	return &token, nil
}

// Save writes token, replacing any previous one.
func (s *TokenStore) Save(token *oauth2.Token) error {
	if token == nil {
		return errors.New("token must not be nil")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling token: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}

// Delete removes the stored token. Deleting a missing token is not an error.
func (s *TokenStore) Delete() error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting token file '%s': %w", s.path, err)
	}
	return nil
}

func (s *TokenStore) lock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	fileLock := flock.New(s.path + ".lock")
	locked, err := fileLock.TryLockContext(ctx, 50*time.Millisecond)
	if err == nil && !locked {
		err = ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("could not acquire lock on token file '%s', another instance may be running: %w", s.path, err)
	}
	return func() { _ = fileLock.Unlock() }, nil
}
