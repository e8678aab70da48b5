// Package graph (upload.go) implements resumable large file uploads against
// a pre-created upload session. The file is sent in fixed-size slices, one
// PUT per slice with a Content-Range header, and the server's
// nextExpectedRanges decide where the next slice starts.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tonimelisma/graph-snippets/internal/logger"
)

// UploadOptions configures an UploadTask. Zero values select defaults.
type UploadOptions struct {
	// SliceSize is the number of bytes sent per request. Graph expects a
	// multiple of SliceAlignment; the task itself accepts any positive size.
	SliceSize int64
	// MaxAttempts bounds how often one slice is sent before the upload fails.
	MaxAttempts int
	// RetryDelay and MaxRetryDelay bound the exponential backoff between
	// attempts of the same slice.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// Progress is called synchronously after every acknowledged slice.
	Progress func(UploadProgress)
	// RefreshOnResume makes Resume query the session before continuing
	// instead of trusting the last known nextExpectedRanges.
	RefreshOnResume bool
	// Clock returns the current time for expiry checks. Defaults to time.Now.
	Clock  func() time.Time
	Logger logger.Logger
}

func (o *UploadOptions) applyDefaults() error {
	if o.SliceSize < 0 {
		return fmt.Errorf("%w: slice size must be positive, got %d", ErrInvalidRequest, o.SliceSize)
	}
	if o.SliceSize == 0 {
		o.SliceSize = DefaultSliceSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultRetryAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxRetryDelay < o.RetryDelay {
		o.MaxRetryDelay = max(DefaultMaxRetryDelay, o.RetryDelay)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = logger.NoopLogger{}
	}
	return nil
}

// UploadTask uploads one UploadSource to one UploadSession. It issues one
// request at a time and is not safe for concurrent use.
type UploadTask struct {
	doer    Doer
	source  UploadSource
	session UploadSession
	opts    UploadOptions

	// offset is the first byte the server still expects; expectedEnd is
	// the inclusive end of that range, or -1 when open-ended.
	offset      int64
	expectedEnd int64
	// acked is set once the server has acknowledged a range, or when the
	// task was restored from a persisted session.
	acked bool
	done  bool
}

// NewUploadTask creates a task for a freshly created session. Slices are
// sent through doer without an Authorization header; upload URLs are
// pre-authenticated.
//
// Example:
//
//	session, err := client.CreateDriveUploadSession(ctx, "/Documents/big.iso")
//	if err != nil { return err }
//	src, err := graph.NewFileSource("big.iso")
//	if err != nil { return err }
//	task, err := graph.NewUploadTask(client.UploadDoer(), src, session, graph.UploadOptions{
//	    Progress: func(p graph.UploadProgress) { fmt.Println(p.BytesUploaded, "/", p.TotalBytes) },
//	})
//	if err != nil { return err }
//	result, err := task.Upload(ctx)
func NewUploadTask(doer Doer, source UploadSource, session UploadSession, opts UploadOptions) (*UploadTask, error) {
	if doer == nil {
		return nil, fmt.Errorf("%w: HTTP client must not be nil", ErrInvalidRequest)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: upload source must not be nil", ErrInvalidRequest)
	}
	if source.Size() <= 0 {
		return nil, fmt.Errorf("%w: upload source is empty", ErrInvalidRequest)
	}
	if session.UploadURL == "" {
		return nil, fmt.Errorf("%w: upload session has no upload URL", ErrInvalidRequest)
	}
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}

	t := &UploadTask{
		doer:        doer,
		source:      source,
		opts:        opts,
		expectedEnd: -1,
	}
	if err := t.applySession(session); err != nil {
		return nil, err
	}
	return t, nil
}

// RestoreUploadTask recreates a task from a session persisted by an earlier,
// interrupted run. The session's nextExpectedRanges must be known.
func RestoreUploadTask(doer Doer, source UploadSource, session UploadSession, opts UploadOptions) (*UploadTask, error) {
	if len(session.NextExpectedRanges) == 0 {
		return nil, fmt.Errorf("%w: upload session has no acknowledged range to resume from", ErrInvalidState)
	}
	t, err := NewUploadTask(doer, source, session, opts)
	if err != nil {
		return nil, err
	}
	t.acked = true
	return t, nil
}

// Session returns the session as last reported by the server.
func (t *UploadTask) Session() UploadSession { return t.session }

// Offset returns the first byte the server has not acknowledged yet.
func (t *UploadTask) Offset() int64 { return t.offset }

// Size returns the total number of bytes to upload.
func (t *UploadTask) Size() int64 { return t.source.Size() }

// Upload sends the source slice by slice, starting at the offset the session
// expects, until the server reports the item created.
func (t *UploadTask) Upload(ctx context.Context) (*UploadResult, error) {
	if t.done {
		return nil, fmt.Errorf("%w: upload already completed", ErrInvalidState)
	}
	if t.session.Expired(t.opts.Clock()) {
		return nil, fmt.Errorf("%w: session expired at %s", ErrSessionExpired, t.session.ExpirationDateTime.Format(time.RFC3339))
	}
	return t.run(ctx)
}

// Resume continues an interrupted upload from the last acknowledged byte,
// re-opening the source there. It fails with ErrInvalidState when no range
// has been acknowledged and with ErrSessionExpired once the session expired.
func (t *UploadTask) Resume(ctx context.Context) (*UploadResult, error) {
	if t.done {
		return nil, fmt.Errorf("%w: upload already completed", ErrInvalidState)
	}
	if !t.acked {
		return nil, fmt.Errorf("%w: no acknowledged range to resume from", ErrInvalidState)
	}
	if t.session.Expired(t.opts.Clock()) {
		return nil, fmt.Errorf("%w: session expired at %s", ErrSessionExpired, t.session.ExpirationDateTime.Format(time.RFC3339))
	}

	if t.opts.RefreshOnResume {
		status, err := getUploadSession(ctx, t.doer, t.session.UploadURL)
		if err != nil {
			return nil, fmt.Errorf("refreshing upload session before resume: %w", err)
		}
		if err := t.applySession(status); err != nil {
			return nil, err
		}
	}

	t.opts.Logger.Debugf("Resuming upload at byte %d of %d", t.offset, t.source.Size())
	return t.run(ctx)
}

// sliceOutcome is the classified response to one slice request.
type sliceOutcome struct {
	result  *UploadResult
	session *UploadSession
	resync  bool
}

func (t *UploadTask) run(ctx context.Context) (*UploadResult, error) {
	total := t.source.Size()
	reported := int64(-1)
	resyncs := 0

	var stream io.ReadCloser
	var pos int64
	defer func() {
		if stream != nil {
			_ = stream.Close()
		}
	}()

	for {
		if t.offset >= total {
			return nil, &UploadError{Offset: t.offset, Err: fmt.Errorf("server expects byte %d of a %d byte upload", t.offset, total)}
		}

		slice := t.nextSlice(total)
		if stream == nil || pos != slice.Start {
			if stream != nil {
				_ = stream.Close()
			}
			var err error
			if stream, err = t.source.Open(slice.Start); err != nil {
				stream = nil
				return nil, &UploadError{Offset: t.offset, Err: err}
			}
			pos = slice.Start
		}

		slice.Payload = make([]byte, slice.Len())
		n, err := io.ReadFull(stream, slice.Payload)
		pos += int64(n)
		if err != nil {
			return nil, &UploadError{Offset: t.offset, Err: fmt.Errorf("reading bytes %d-%d: %w", slice.Start, slice.End, err)}
		}

		outcome, err := t.sendSlice(ctx, slice)
		if err != nil {
			return nil, err
		}

		switch {
		case outcome.result != nil:
			t.done = true
			t.acked = true
			t.offset = total
			t.expectedEnd = -1
			t.report(&reported, total)
			t.opts.Logger.Debugf("Upload to '%s' completed with status %d", t.session.UploadURL, outcome.result.StatusCode)
			return outcome.result, nil

		case outcome.resync:
			resyncs++
			if resyncs > t.opts.MaxAttempts {
				return nil, &UploadError{StatusCode: http.StatusRequestedRangeNotSatisfiable, Offset: t.offset, Attempts: resyncs, Err: ErrInvalidRequest}
			}
			if err := t.applySession(*outcome.session); err != nil {
				return nil, &UploadError{Offset: t.offset, Err: err}
			}

		default:
			resyncs = 0
			if err := t.acknowledge(slice, outcome.session); err != nil {
				return nil, &UploadError{Offset: t.offset, Err: err}
			}
			t.report(&reported, total)
		}
	}
}

// nextSlice computes the bounds of the next slice from the expected range.
func (t *UploadTask) nextSlice(total int64) Slice {
	start := t.offset
	// Compare against the remaining bytes so that huge slice sizes cannot
	// overflow.
	end := total - 1
	if t.opts.SliceSize < total-start {
		end = start + t.opts.SliceSize - 1
	}
	if t.expectedEnd >= start && t.expectedEnd < end {
		end = t.expectedEnd
	}
	return Slice{Start: start, End: end, Total: total}
}

// acknowledge advances the offset after the server accepted a slice.
func (t *UploadTask) acknowledge(slice Slice, session *UploadSession) error {
	t.acked = true
	if session == nil || len(session.NextExpectedRanges) == 0 {
		t.offset = slice.End + 1
		t.expectedEnd = -1
		// Keep Session() usable for persisting and restoring the task.
		t.session.NextExpectedRanges = []string{strconv.FormatInt(t.offset, 10) + "-"}
		return nil
	}
	return t.applySession(*session)
}

// applySession adopts the server's view of the session: where the next
// range starts and, if sent, when the session expires.
func (t *UploadTask) applySession(s UploadSession) error {
	if s.UploadURL != "" {
		t.session.UploadURL = s.UploadURL
	}
	if s.ExpirationDateTime != nil {
		t.session.ExpirationDateTime = s.ExpirationDateTime
	}
	t.session.NextExpectedRanges = s.NextExpectedRanges

	r, ok, err := nextExpectedRange(s.NextExpectedRanges)
	if err != nil {
		return err
	}
	if ok {
		t.offset = r.Start
		t.expectedEnd = r.End
	}
	return nil
}

func (t *UploadTask) report(reported *int64, total int64) {
	if t.opts.Progress == nil {
		return
	}
	*reported = max(*reported, t.offset)
	t.opts.Progress(UploadProgress{BytesUploaded: *reported, TotalBytes: total})
}

// sendSlice PUTs one slice, retrying retryable failures with the same byte
// range and backoff between attempts.
func (t *UploadTask) sendSlice(ctx context.Context, slice Slice) (sliceOutcome, error) {
	for attempt := 1; ; attempt++ {
		t.opts.Logger.Debugf("Uploading %s (attempt %d/%d)", slice.ContentRange(), attempt, t.opts.MaxAttempts)

		res, err := t.putSlice(ctx, slice)
		if err == nil && res.StatusCode >= 200 && res.StatusCode < 300 {
			return t.classify(res)
		}

		if err == nil && res.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			closeBodySafely(res.Body, t.opts.Logger, "range not satisfiable response")
			t.opts.Logger.Debugf("Server rejected %s, querying session status", slice.ContentRange())
			status, qerr := getUploadSession(ctx, t.doer, t.session.UploadURL)
			if qerr != nil {
				return sliceOutcome{}, t.uploadError(attempt, qerr)
			}
			return sliceOutcome{session: &status, resync: true}, nil
		}

		retry, policyErr := retryablehttp.DefaultRetryPolicy(ctx, res, err)
		if ctx.Err() != nil {
			closeResponse(res, t.opts.Logger)
			return sliceOutcome{}, t.uploadError(attempt, ctx.Err())
		}
		if !retry || attempt >= t.opts.MaxAttempts {
			return sliceOutcome{}, t.failure(attempt, slice, res, err, policyErr)
		}

		wait := retryablehttp.DefaultBackoff(t.opts.RetryDelay, t.opts.MaxRetryDelay, attempt-1, res)
		closeResponse(res, t.opts.Logger)
		t.opts.Logger.Warnf("Uploading %s failed (attempt %d/%d), retrying in %s", slice.ContentRange(), attempt, t.opts.MaxAttempts, wait)
		if err := sleepContext(ctx, wait); err != nil {
			return sliceOutcome{}, t.uploadError(attempt, err)
		}
	}
}

func (t *UploadTask) putSlice(ctx context.Context, slice Slice) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.session.UploadURL, bytes.NewReader(slice.Payload))
	if err != nil {
		return nil, fmt.Errorf("creating slice upload request for URL '%s': %w", t.session.UploadURL, err)
	}
	req.ContentLength = slice.Len()
	req.Header.Set(headerContentRange, slice.ContentRange())

	res, err := t.doer.Do(req)
	if err != nil {
		return nil, &TransportError{Method: http.MethodPut, URL: t.session.UploadURL, Err: err}
	}
	return res, nil
}

// classify reads a 2xx slice response. OneDrive answers intermediate slices
// with 202 and the final one with 200/201 plus the item; Outlook answers
// intermediate slices with 200 plus nextExpectedRanges and the final one
// with 201 plus a Location header.
func (t *UploadTask) classify(res *http.Response) (sliceOutcome, error) {
	defer closeBodySafely(res.Body, t.opts.Logger, "upload slice")

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return sliceOutcome{}, t.uploadError(1, fmt.Errorf("reading slice response: %w", err))
	}

	var probe struct {
		ID *string `json:"id"`
		UploadSession
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &probe); err != nil {
			probe = struct {
				ID *string `json:"id"`
				UploadSession
			}{}
		}
	}

	partial := res.StatusCode == http.StatusAccepted || res.StatusCode == http.StatusPartialContent ||
		(res.StatusCode == http.StatusOK && probe.ID == nil && len(probe.NextExpectedRanges) > 0)
	if partial {
		return sliceOutcome{session: &probe.UploadSession}, nil
	}

	return sliceOutcome{result: &UploadResult{
		StatusCode: res.StatusCode,
		Location:   res.Header.Get("Location"),
		Body:       json.RawMessage(body),
	}}, nil
}

// failure builds the terminal error for a slice that could not be sent.
func (t *UploadTask) failure(attempt int, slice Slice, res *http.Response, err, policyErr error) error {
	if res == nil {
		if err == nil {
			err = policyErr
		}
		return t.uploadError(attempt, err)
	}

	defer closeBodySafely(res.Body, t.opts.Logger, "failed slice")
	apiErr := newAPIError(res)
	t.opts.Logger.Debugf("Uploading %s failed with status %s: %s", slice.ContentRange(), res.Status, apiErr.Message)
	return &UploadError{
		StatusCode: res.StatusCode,
		Body:       apiErr.Message,
		Offset:     t.offset,
		Attempts:   attempt,
		Err:        apiErr,
	}
}

func (t *UploadTask) uploadError(attempts int, err error) error {
	return &UploadError{Offset: t.offset, Attempts: attempts, Err: err}
}

func closeResponse(res *http.Response, log logger.Logger) {
	if res != nil && res.Body != nil {
		closeBodySafely(res.Body, log, "retried slice")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
