// Package graph (session.go) creates, queries and cancels the upload
// sessions consumed by UploadTask. Creating a session is an authenticated
// Graph call; the returned upload URL is pre-authenticated, so queries and
// cancellation go through the unauthenticated upload client.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// CreateDriveUploadSession initiates a resumable upload session for a file at
// remotePath (including the file name) in the user's default drive. Name
// conflicts are resolved by renaming.
//
// Example:
//
//	session, err := client.CreateDriveUploadSession(ctx, "/Documents/big.iso")
//	if err != nil { log.Fatal(err) }
//	task, err := graph.NewUploadTask(client.UploadDoer(), src, session, graph.UploadOptions{})
func (c *Client) CreateDriveUploadSession(ctx context.Context, remotePath string) (UploadSession, error) {
	c.logger.Debugf("CreateDriveUploadSession called for remotePath: '%s'", remotePath)
	var session UploadSession

	body, err := json.Marshal(map[string]any{
		"item": map[string]string{"@microsoft.graph.conflictBehavior": "rename"},
	})
	if err != nil {
		return session, fmt.Errorf("marshalling upload session request: %w", err)
	}

	apiURL := c.BuildPathURL(remotePath) + "/createUploadSession"
	err = c.makeAPICallAndDecode(ctx, http.MethodPost, apiURL, nil, bytes.NewReader(body), &session, "create drive upload session")
	return session, err
}

// CreateAttachmentUploadSession initiates an upload session for a file
// attachment on the message identified by messageID.
func (c *Client) CreateAttachmentUploadSession(ctx context.Context, messageID string, item AttachmentItem) (UploadSession, error) {
	c.logger.Debugf("CreateAttachmentUploadSession called for message: '%s', attachment: '%s'", messageID, item.Name)
	var session UploadSession

	if item.AttachmentType == "" {
		item.AttachmentType = "file"
	}
	body, err := json.Marshal(map[string]AttachmentItem{"AttachmentItem": item})
	if err != nil {
		return session, fmt.Errorf("marshalling attachment upload session request: %w", err)
	}

	apiURL := c.baseURL + "/me/messages/" + url.PathEscape(messageID) + "/attachments/createUploadSession"
	err = c.makeAPICallAndDecode(ctx, http.MethodPost, apiURL, nil, bytes.NewReader(body), &session, "create attachment upload session")
	return session, err
}

// GetUploadSession retrieves the current state of an upload session,
// including the byte ranges the server still expects.
func (c *Client) GetUploadSession(ctx context.Context, uploadURL string) (UploadSession, error) {
	c.logger.Debugf("GetUploadSession called for uploadURL: '%s'", uploadURL)
	return getUploadSession(ctx, c.uploadClient, uploadURL)
}

// CancelUploadSession deletes an upload session so the server can release
// its resources. The server answers 204 No Content.
func (c *Client) CancelUploadSession(ctx context.Context, uploadURL string) error {
	c.logger.Debugf("CancelUploadSession called for uploadURL: '%s'", uploadURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, uploadURL, nil)
	if err != nil {
		return fmt.Errorf("creating cancel upload session request for URL '%s': %w", uploadURL, err)
	}

	res, err := c.uploadClient.Do(req)
	if err != nil {
		return &TransportError{Method: http.MethodDelete, URL: uploadURL, Err: err}
	}
	defer closeBodySafely(res.Body, c.logger, "cancel upload session")

	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		return newAPIError(res)
	}
	return nil
}

// getUploadSession GETs a pre-authenticated upload URL through doer.
func getUploadSession(ctx context.Context, doer Doer, uploadURL string) (UploadSession, error) {
	var session UploadSession

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uploadURL, nil)
	if err != nil {
		return session, fmt.Errorf("creating get upload session request for URL '%s': %w", uploadURL, err)
	}

	res, err := doer.Do(req)
	if err != nil {
		return session, &TransportError{Method: http.MethodGet, URL: uploadURL, Err: err}
	}
	defer closeBodySafely(res.Body, nil, "get upload session")

	if res.StatusCode != http.StatusOK {
		return session, newAPIError(res)
	}

	if err := json.NewDecoder(res.Body).Decode(&session); err != nil {
		return session, fmt.Errorf("%w: decoding upload session from '%s': %w", ErrDecodingFailed, uploadURL, err)
	}
	if session.UploadURL == "" {
		session.UploadURL = uploadURL
	}
	return session, nil
}
