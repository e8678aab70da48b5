package app

import (
	"context"
	"net/http"

	"github.com/tonimelisma/graph-snippets/pkg/graph"
)

// SDK defines the Graph operations the commands use.
// This allows for mocking in tests.
type SDK interface {
	GetMe(ctx context.Context) (graph.User, error)
	MessagesURL(top int, selectFields []string) string
	FetchPage(ctx context.Context, link string, header http.Header) (*http.Response, error)
	CreateDraftMessage(ctx context.Context, subject string) (graph.Message, error)
	CreateDriveUploadSession(ctx context.Context, remotePath string) (graph.UploadSession, error)
	CreateAttachmentUploadSession(ctx context.Context, messageID string, item graph.AttachmentItem) (graph.UploadSession, error)
	GetUploadSession(ctx context.Context, uploadURL string) (graph.UploadSession, error)
	CancelUploadSession(ctx context.Context, uploadURL string) error
	UploadDoer() graph.Doer
}

// GraphSDK is the SDK implementation that makes real API calls.
type GraphSDK struct {
	client *graph.Client
}

// NewGraphSDK returns an SDK backed by client.
func NewGraphSDK(client *graph.Client) *GraphSDK {
	return &GraphSDK{client: client}
}

func (s *GraphSDK) GetMe(ctx context.Context) (graph.User, error) {
	return s.client.GetMe(ctx)
}

func (s *GraphSDK) MessagesURL(top int, selectFields []string) string {
	return s.client.MessagesURL(top, selectFields)
}

func (s *GraphSDK) FetchPage(ctx context.Context, link string, header http.Header) (*http.Response, error) {
	return s.client.FetchPage(ctx, link, header)
}

func (s *GraphSDK) CreateDraftMessage(ctx context.Context, subject string) (graph.Message, error) {
	return s.client.CreateDraftMessage(ctx, subject)
}

func (s *GraphSDK) CreateDriveUploadSession(ctx context.Context, remotePath string) (graph.UploadSession, error) {
	return s.client.CreateDriveUploadSession(ctx, remotePath)
}

func (s *GraphSDK) CreateAttachmentUploadSession(ctx context.Context, messageID string, item graph.AttachmentItem) (graph.UploadSession, error) {
	return s.client.CreateAttachmentUploadSession(ctx, messageID, item)
}

func (s *GraphSDK) GetUploadSession(ctx context.Context, uploadURL string) (graph.UploadSession, error) {
	return s.client.GetUploadSession(ctx, uploadURL)
}

func (s *GraphSDK) CancelUploadSession(ctx context.Context, uploadURL string) error {
	return s.client.CancelUploadSession(ctx, uploadURL)
}

// UploadDoer returns the unauthenticated client slices are sent through.
func (s *GraphSDK) UploadDoer() graph.Doer {
	return s.client.UploadDoer()
}
