package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/tonimelisma/graph-snippets/pkg/graph"
)

// NewProgressBar creates a progress bar configured for file transfers.
// maxBytes is the total size of the transfer and description is the text
// shown next to the bar. Output goes to w, normally stderr, so it does not
// interfere with data on stdout.
func NewProgressBar(w io.Writer, maxBytes int64, description string) *progressbar.ProgressBar {
	if description == "" {
		description = "Uploading..."
	}
	return progressbar.NewOptions64(
		maxBytes,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
	)
}

// UploadProgressHandler moves bar to the acknowledged byte count of every
// progress report.
func UploadProgressHandler(bar *progressbar.ProgressBar) func(graph.UploadProgress) {
	return func(p graph.UploadProgress) {
		_ = bar.Set64(p.BytesUploaded)
	}
}
