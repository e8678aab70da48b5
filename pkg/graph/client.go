package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tonimelisma/graph-snippets/internal/logger"
	"golang.org/x/oauth2"
)

// Client is a stateful client for the Microsoft Graph API. Requests made
// through it are authenticated by the token source it was created with and
// throttled by its rate limiter. It is safe for concurrent use.
type Client struct {
	httpClient   *http.Client
	uploadClient Doer
	baseURL      string
	limiter      *RateLimiter
	logger       logger.Logger
	requestID    func() string
}

// ClientOptions configures NewClient. Zero values select defaults.
type ClientOptions struct {
	// BaseURL is the Graph root including the version, e.g.
	// https://graph.microsoft.com/v1.0.
	BaseURL     string
	HTTP        HTTPConfig
	RateLimiter *RateLimiter
	Logger      logger.Logger
}

// NewClient creates a Graph client whose requests carry tokens from ts.
func NewClient(ctx context.Context, ts oauth2.TokenSource, opts ClientOptions) (*Client, error) {
	if ts == nil {
		return nil, fmt.Errorf("%w: token source must not be nil", ErrInvalidRequest)
	}
	log := opts.Logger
	if log == nil {
		log = logger.NoopLogger{}
	}
	if opts.HTTP.Logger == nil {
		opts.HTTP.Logger = log
	}

	base, err := NewConfiguredHTTPClient(opts.HTTP)
	if err != nil {
		return nil, err
	}
	// Token refreshes go through the same proxy and middleware.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = base.Timeout

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = cloudEndpoints[CloudGlobal].GraphBaseURL
	}
	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = NewRateLimiter(DefaultRequestsPerSecond, DefaultBurstSize)
	}

	return &Client{
		httpClient:   httpClient,
		uploadClient: base,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		limiter:      limiter,
		logger:       log,
		requestID:    func() string { return uuid.NewString() },
	}, nil
}

// BaseURL returns the Graph root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// UploadDoer returns the unauthenticated client used for pre-authenticated
// upload URLs. Upload tasks send their slices through it.
func (c *Client) UploadDoer() Doer { return c.uploadClient }

// BuildPathURL constructs the API URL for a path in the user's default drive.
func (c *Client) BuildPathURL(path string) string {
	if path == "" || path == "/" {
		return c.baseURL + "/me/drive/root"
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return c.baseURL + "/me/drive/root:/" + strings.Join(segments, "/") + ":"
}

// MessagesURL returns the URL of the signed-in user's messages, with an
// optional page size and $select list.
func (c *Client) MessagesURL(top int, selectFields []string) string {
	q := url.Values{}
	if top > 0 {
		q.Set("$top", strconv.Itoa(top))
	}
	if len(selectFields) > 0 {
		q.Set("$select", strings.Join(selectFields, ","))
	}
	u := c.baseURL + "/me/messages"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// GetMe retrieves the profile of the signed-in user.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	c.logger.Debug("GetMe called")
	var user User
	err := c.makeAPICallAndDecode(ctx, http.MethodGet, c.baseURL+"/me", nil, nil, &user, "get me")
	return user, err
}

// CreateDraftMessage creates a draft message in the signed-in user's mailbox.
func (c *Client) CreateDraftMessage(ctx context.Context, subject string) (Message, error) {
	c.logger.Debugf("CreateDraftMessage called with subject: '%s'", subject)
	var msg Message
	body, err := json.Marshal(map[string]string{"subject": subject})
	if err != nil {
		return msg, fmt.Errorf("marshalling draft message: %w", err)
	}
	err = c.makeAPICallAndDecode(ctx, http.MethodPost, c.baseURL+"/me/messages", nil, bytes.NewReader(body), &msg, "create draft message")
	return msg, err
}

// FetchPage issues an authenticated GET for a page of a collection. link is
// used as-is; header is added to the request. The caller owns the response
// body.
func (c *Client) FetchPage(ctx context.Context, link string, header http.Header) (*http.Response, error) {
	return c.apiCall(ctx, http.MethodGet, link, header, nil)
}

// GetPage fetches and decodes a single page of a collection.
func GetPage[T any](ctx context.Context, f PageFetcher, link string, header http.Header) (Page[T], error) {
	var page Page[T]
	res, err := f.FetchPage(ctx, link, header)
	if err != nil {
		return page, err
	}
	defer closeBodySafely(res.Body, nil, "get page")

	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return page, fmt.Errorf("%w: decoding page from '%s': %w", ErrDecodingFailed, link, err)
	}
	return page, nil
}

// apiCall sends an authenticated request and maps failures to the SDK's
// errors. It retries once on 401 Unauthorized so that a refreshed token is
// used. The caller owns the body of a successful response.
func (c *Client) apiCall(ctx context.Context, method, apiURL string, header http.Header, body io.ReadSeeker) (*http.Response, error) {
	if c.httpClient == nil {
		return nil, errors.New("HTTP client is nil, please provide a valid HTTP client")
	}

	var res *http.Response
	for attempt := 0; attempt < 2; attempt++ {
		c.logger.Debugf("apiCall invoked with method: %s, URL: %s", method, apiURL)

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := c.newRequest(ctx, method, apiURL, header, body)
		if err != nil {
			return nil, err
		}

		res, err = c.httpClient.Do(req)
		if err != nil {
			return nil, classifyDoError(method, apiURL, err)
		}

		if res.StatusCode != http.StatusUnauthorized || attempt == 1 {
			break
		}

		c.logger.Debug("Received 401 Unauthorized, retrying with a refreshed token")
		closeBodySafely(res.Body, c.logger, "unauthorized response")
		if err := seekToStart(body); err != nil {
			return nil, fmt.Errorf("rewinding request body for retry: %w", err)
		}
	}

	if res.StatusCode >= http.StatusBadRequest {
		defer closeBodySafely(res.Body, c.logger, "error response")
		if res.StatusCode == http.StatusTooManyRequests {
			c.limiter.RecordRateLimit(res)
		}
		return nil, newAPIError(res)
	}

	return res, nil
}

func (c *Client) newRequest(ctx context.Context, method, apiURL string, header http.Header, body io.ReadSeeker) (*http.Request, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = body
	}
	req, err := http.NewRequestWithContext(ctx, method, apiURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s %s: %w", method, apiURL, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerClientRequestID, c.requestID())
	return req, nil
}

// makeAPICallAndDecode performs an API call and decodes the JSON response into dest.
func (c *Client) makeAPICallAndDecode(ctx context.Context, method, apiURL string, header http.Header, body io.ReadSeeker, dest any, operation string) error {
	res, err := c.apiCall(ctx, method, apiURL, header, body)
	if err != nil {
		return err
	}
	defer closeBodySafely(res.Body, c.logger, operation)

	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: decoding %s response: %w", ErrDecodingFailed, operation, err)
	}
	return nil
}

// classifyDoError turns an error from http.Client.Do into either an auth
// sentinel (token refresh failed) or a TransportError.
func classifyDoError(method, apiURL string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_request", "invalid_client", "invalid_grant",
			"unauthorized_client", "unsupported_grant_type",
			"invalid_scope", "access_denied":
			return fmt.Errorf("%w: %w", ErrReauthRequired, err)
		case "server_error", "temporarily_unavailable":
			return fmt.Errorf("%w: %w", ErrRetryLater, err)
		default:
			return fmt.Errorf("other oauth2 error: %w", err)
		}
	}
	return &TransportError{Method: method, URL: apiURL, Err: err}
}

// newAPIError builds an APIError from an error response, mapping the Graph
// error code first and the status code second.
func newAPIError(res *http.Response) *APIError {
	apiErr := &APIError{StatusCode: res.StatusCode, Status: res.Status}

	raw := readErrorBody(res.Body)
	var body graphErrorBody
	if err := json.Unmarshal([]byte(raw), &body); err == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		apiErr.sentinel = sentinelForCode(body.Error.Code)
	} else {
		apiErr.Message = raw
	}
	if apiErr.sentinel == nil {
		apiErr.sentinel = sentinelForStatus(res.StatusCode)
	}
	return apiErr
}
