package graph

import (
	"encoding/json"
	"fmt"
	"time"
)

// Page is one server-returned batch of a collection. NextLink is nil once
// the collection is exhausted.
type Page[T any] struct {
	Value     []T     `json:"value"`
	NextLink  *string `json:"@odata.nextLink,omitempty"`
	DeltaLink *string `json:"@odata.deltaLink,omitempty"`
}

// User is the subset of the Graph user resource the samples display.
type User struct {
	ID                *string `json:"id,omitempty"`
	DisplayName       string  `json:"displayName"`
	Mail              *string `json:"mail,omitempty"`
	UserPrincipalName string  `json:"userPrincipalName"`
}

// EmailAddress names a sender or recipient.
type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Recipient wraps an EmailAddress as Graph does.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// ItemBody is a message body.
type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Message is the subset of the Graph message resource used by the paging samples.
type Message struct {
	ID               *string    `json:"id,omitempty"`
	Subject          string     `json:"subject"`
	Sender           *Recipient `json:"sender,omitempty"`
	Body             *ItemBody  `json:"body,omitempty"`
	ReceivedDateTime *time.Time `json:"receivedDateTime,omitempty"`
	IsDraft          bool       `json:"isDraft"`
}

// DriveItem is the subset of a drive item returned when an upload completes.
type DriveItem struct {
	ID                   *string    `json:"id,omitempty"`
	Name                 string     `json:"name"`
	Size                 int64      `json:"size"`
	WebURL               string     `json:"webUrl"`
	CreatedDateTime      *time.Time `json:"createdDateTime,omitempty"`
	LastModifiedDateTime *time.Time `json:"lastModifiedDateTime,omitempty"`
}

// AttachmentItem describes a file attachment for which an upload session is
// requested.
type AttachmentItem struct {
	AttachmentType string `json:"attachmentType"`
	Name           string `json:"name"`
	Size           int64  `json:"size"`
}

// UploadSession is the server-side resource tracking a chunked upload.
type UploadSession struct {
	UploadURL          string     `json:"uploadUrl"`
	ExpirationDateTime *time.Time `json:"expirationDateTime,omitempty"`
	NextExpectedRanges []string   `json:"nextExpectedRanges,omitempty"`
}

// Expired reports whether the session's expiration time is known and has
// passed at now.
func (s UploadSession) Expired(now time.Time) bool {
	return s.ExpirationDateTime != nil && !now.Before(*s.ExpirationDateTime)
}

// Slice is one contiguous byte range of an upload, sent as one request.
// End is inclusive.
type Slice struct {
	Start   int64
	End     int64
	Total   int64
	Payload []byte
}

// Len returns the number of bytes in the slice.
func (s Slice) Len() int64 { return s.End - s.Start + 1 }

// ContentRange formats the Content-Range header value for the slice.
func (s Slice) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", s.Start, s.End, s.Total)
}

// UploadProgress is reported after every acknowledged slice.
type UploadProgress struct {
	BytesUploaded int64
	TotalBytes    int64
}

// UploadResult is returned by a completed upload.
type UploadResult struct {
	StatusCode int
	// Location is set by services that answer the final slice with a
	// Location header (attachments) instead of a body.
	Location string
	Body     json.RawMessage
}

// Decode unmarshals the created resource, e.g. into a DriveItem.
func (r *UploadResult) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("%w: upload result has no body", ErrDecodingFailed)
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: decoding upload result: %w", ErrDecodingFailed, err)
	}
	return nil
}
