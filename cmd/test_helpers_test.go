package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/tonimelisma/graph-snippets/internal/app"
	"github.com/tonimelisma/graph-snippets/internal/config"
	"github.com/tonimelisma/graph-snippets/internal/logger"
	"github.com/tonimelisma/graph-snippets/internal/session"
	"github.com/tonimelisma/graph-snippets/pkg/graph"
)

// MockSDK is a mock implementation of the SDK interface for testing.
type MockSDK struct {
	GetMeFunc                         func(ctx context.Context) (graph.User, error)
	FetchPageFunc                     func(ctx context.Context, link string, header http.Header) (*http.Response, error)
	CreateDraftMessageFunc            func(ctx context.Context, subject string) (graph.Message, error)
	CreateDriveUploadSessionFunc      func(ctx context.Context, remotePath string) (graph.UploadSession, error)
	CreateAttachmentUploadSessionFunc func(ctx context.Context, messageID string, item graph.AttachmentItem) (graph.UploadSession, error)
	GetUploadSessionFunc              func(ctx context.Context, uploadURL string) (graph.UploadSession, error)
	CancelUploadSessionFunc           func(ctx context.Context, uploadURL string) error
	Doer                              graph.Doer
}

func (m *MockSDK) GetMe(ctx context.Context) (graph.User, error) {
	if m.GetMeFunc != nil {
		return m.GetMeFunc(ctx)
	}
	return graph.User{}, nil
}

func (m *MockSDK) MessagesURL(top int, selectFields []string) string {
	return fmt.Sprintf("https://graph.test/v1.0/me/messages?$top=%d", top)
}

func (m *MockSDK) FetchPage(ctx context.Context, link string, header http.Header) (*http.Response, error) {
	if m.FetchPageFunc != nil {
		return m.FetchPageFunc(ctx, link, header)
	}
	return nil, errors.New("not implemented")
}

func (m *MockSDK) CreateDraftMessage(ctx context.Context, subject string) (graph.Message, error) {
	if m.CreateDraftMessageFunc != nil {
		return m.CreateDraftMessageFunc(ctx, subject)
	}
	return graph.Message{}, errors.New("not implemented")
}

func (m *MockSDK) CreateDriveUploadSession(ctx context.Context, remotePath string) (graph.UploadSession, error) {
	if m.CreateDriveUploadSessionFunc != nil {
		return m.CreateDriveUploadSessionFunc(ctx, remotePath)
	}
	return graph.UploadSession{}, errors.New("not implemented")
}

func (m *MockSDK) CreateAttachmentUploadSession(ctx context.Context, messageID string, item graph.AttachmentItem) (graph.UploadSession, error) {
	if m.CreateAttachmentUploadSessionFunc != nil {
		return m.CreateAttachmentUploadSessionFunc(ctx, messageID, item)
	}
	return graph.UploadSession{}, errors.New("not implemented")
}

func (m *MockSDK) GetUploadSession(ctx context.Context, uploadURL string) (graph.UploadSession, error) {
	if m.GetUploadSessionFunc != nil {
		return m.GetUploadSessionFunc(ctx, uploadURL)
	}
	return graph.UploadSession{}, errors.New("not implemented")
}

func (m *MockSDK) CancelUploadSession(ctx context.Context, uploadURL string) error {
	if m.CancelUploadSessionFunc != nil {
		return m.CancelUploadSessionFunc(ctx, uploadURL)
	}
	return nil
}

func (m *MockSDK) UploadDoer() graph.Doer {
	if m.Doer != nil {
		return m.Doer
	}
	return http.DefaultClient
}

// newTestApp returns an app backed by sdk with its state in a temp dir and
// fast upload retries.
func newTestApp(t *testing.T, sdk app.SDK) *app.App {
	t.Helper()
	dir := t.TempDir()
	return &app.App{
		Settings: &config.Settings{
			ClientID:      "client",
			TenantID:      "common",
			Scopes:        config.DefaultScopes,
			Cloud:         graph.CloudGlobal,
			SliceSize:     graph.SliceAlignment,
			MaxAttempts:   2,
			RetryDelay:    time.Millisecond,
			MaxRetryDelay: 5 * time.Millisecond,
			Dir:           dir,
		},
		Tokens:   config.NewTokenStore(dir),
		Sessions: session.NewManager(dir),
		Logger:   logger.NoopLogger{},
		SDK:      sdk,
	}
}
