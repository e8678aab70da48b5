// Package session persists state that must survive the process: the upload
// session of an interrupted large file upload, so that the next run resumes
// it, and a pending device code login.
//
// Every file is guarded by a lock file so that two CLI instances cannot
// interleave reads and writes.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/tonimelisma/graph-snippets/pkg/graph"
)

// Upload target kinds.
const (
	KindDrive      = "drive"
	KindAttachment = "attachment"
)

// State is the persisted form of an interrupted upload.
type State struct {
	Kind               string    `json:"kind"`
	UploadURL          string    `json:"uploadUrl"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	NextExpectedRanges []string  `json:"nextExpectedRanges,omitempty"`
	LocalPath          string    `json:"localPath"`
	// RemotePath is the drive path for drive uploads and the message id for
	// attachment uploads.
	RemotePath string `json:"remotePath"`
	// Size and ModTime identify the local file version the session was
	// created for; a changed file cannot be resumed.
	Size           int64     `json:"size"`
	ModTime        time.Time `json:"modTime"`
	CompletedBytes int64     `json:"completedBytes"`
}

// NewState records session as the upload of localPath to remotePath.
func NewState(kind, localPath, remotePath string, info os.FileInfo, session graph.UploadSession) *State {
	s := &State{
		Kind:       kind,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
	}
	s.Update(session, 0)
	return s
}

// Update replaces the session part of the state after progress.
func (s *State) Update(session graph.UploadSession, completed int64) {
	s.UploadURL = session.UploadURL
	if session.ExpirationDateTime != nil {
		s.ExpirationDateTime = *session.ExpirationDateTime
	}
	s.NextExpectedRanges = session.NextExpectedRanges
	s.CompletedBytes = completed
}

// UploadSession returns the stored session.
func (s *State) UploadSession() graph.UploadSession {
	session := graph.UploadSession{
		UploadURL:          s.UploadURL,
		NextExpectedRanges: s.NextExpectedRanges,
	}
	if !s.ExpirationDateTime.IsZero() {
		expiry := s.ExpirationDateTime
		session.ExpirationDateTime = &expiry
	}
	return session
}

// Matches reports whether info still describes the file the session was
// created for.
func (s *State) Matches(info os.FileInfo) bool {
	return s.Size == info.Size() && s.ModTime.Equal(info.ModTime())
}

// Manager reads and writes state files below a config directory.
type Manager struct {
	configDir string
	now       func() time.Time
}

// NewManager creates a manager storing its files in configDir/sessions.
func NewManager(configDir string) *Manager {
	return &Manager{configDir: configDir, now: time.Now}
}

func (m *Manager) getSessionDir() string {
	return filepath.Join(m.configDir, "sessions")
}

// GetSessionFilePath returns the state file for an upload of localPath to
// remotePath. The name is a hash so that any path is a valid file name.
func (m *Manager) GetSessionFilePath(kind, localPath, remotePath string) string {
	hash := sha256.Sum256([]byte(kind + ":" + localPath + ":" + remotePath))
	return filepath.Join(m.getSessionDir(), hex.EncodeToString(hash[:])+".json")
}

// Save persists state.
func (m *Manager) Save(state *State) error {
	filePath := m.GetSessionFilePath(state.Kind, state.LocalPath, state.RemotePath)
	return m.withLock(filePath, func() error {
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Errorf("marshalling session state: %w", err)
		}
		if err := os.WriteFile(filePath, data, 0600); err != nil {
			return fmt.Errorf("writing session file: %w", err)
		}
		return nil
	})
}

// Load returns the saved state for an upload, or nil if there is none or it
// has expired. Expired state files are removed.
func (m *Manager) Load(kind, localPath, remotePath string) (*State, error) {
	filePath := m.GetSessionFilePath(kind, localPath, remotePath)

	var state *State
	err := m.withLock(filePath, func() error {
		data, err := os.ReadFile(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("reading session file: %w", err)
		}

		var s State
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("unmarshalling session state from '%s': %w", filePath, err)
		}
		if !s.ExpirationDateTime.IsZero() && !m.now().Before(s.ExpirationDateTime) {
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

// Delete removes the state file of an upload.
func (m *Manager) Delete(kind, localPath, remotePath string) error {
	filePath := m.GetSessionFilePath(kind, localPath, remotePath)
	return m.withLock(filePath, func() error {
		return removeIfExists(filePath)
	})
}

// withLock runs fn while holding the lock file of filePath.
func (m *Manager) withLock(filePath string, fn func() error) error {
	if err := os.MkdirAll(m.getSessionDir(), 0700); err != nil {
		return fmt.Errorf("creating session directory '%s': %w", m.getSessionDir(), err)
	}

	lock := flock.New(filePath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring file lock for '%s': %w", filePath, err)
	}
	if !locked {
		return fmt.Errorf("could not acquire file lock for '%s', another instance may be running", filePath)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting session file '%s': %w", path, err)
	}
	return nil
}
