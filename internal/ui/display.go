// Package ui (display.go) provides functions for printing Graph resources,
// upload sessions and results to the console, plus the upload progress bar
// and standardized success messages.
package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tonimelisma/graph-snippets/pkg/graph"
)

// Success prints a simple success message.
func Success(w io.Writer, msg string) {
	fmt.Fprintln(w, msg)
}

// FormatBytes converts a size in bytes to a human-readable string using IEC
// units (KiB, MiB, GiB, etc.).
func FormatBytes(b int64) string {
	if b < 0 {
		return fmt.Sprintf("%d B", b)
	}
	return humanize.IBytes(uint64(b))
}

// DisplayGreeting prints the greeting of the `me` command.
func DisplayGreeting(w io.Writer, user graph.User) {
	fmt.Fprintf(w, "Hello, %s!\n", user.DisplayName)
}

// DisplayUser prints information about the authenticated user.
func DisplayUser(w io.Writer, user graph.User) {
	id := "N/A"
	if user.ID != nil {
		id = *user.ID
	}
	fmt.Fprintf(w, "Logged in as: %s (User Principal Name: %s, ID: %s)\n", user.DisplayName, user.UserPrincipalName, id)
	if user.Mail != nil && *user.Mail != "" {
		fmt.Fprintf(w, "  Mail: %s\n", *user.Mail)
	}
}

// DisplayMessage prints one line for a message: its position, sender and
// subject. With showBody the text body follows, indented and truncated.
func DisplayMessage(w io.Writer, index int, msg graph.Message, showBody bool) {
	sender := "(unknown sender)"
	if msg.Sender != nil {
		sender = msg.Sender.EmailAddress.Name
		if sender == "" {
			sender = msg.Sender.EmailAddress.Address
		}
	}
	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	fmt.Fprintf(w, "%4d  %-30.30s %s\n", index, sender, subject)

	if showBody && msg.Body != nil {
		body := strings.Join(strings.Fields(msg.Body.Content), " ")
		if len(body) > 120 {
			body = body[:117] + "..."
		}
		if body != "" {
			fmt.Fprintf(w, "      %s\n", body)
		}
	}
}

// DisplayUploadSession prints the state of an upload session.
func DisplayUploadSession(w io.Writer, session graph.UploadSession, now time.Time) {
	fmt.Fprintln(w, "Upload Session:")
	fmt.Fprintf(w, "  Upload URL:       %s\n", session.UploadURL)
	if session.ExpirationDateTime != nil {
		state := "expires " + humanize.RelTime(*session.ExpirationDateTime, now, "ago", "from now")
		if session.Expired(now) {
			state = "expired " + humanize.RelTime(*session.ExpirationDateTime, now, "ago", "from now")
		}
		fmt.Fprintf(w, "  Expiration:       %s (%s)\n", session.ExpirationDateTime.Local().Format(time.RFC1123), state)
	}
	if len(session.NextExpectedRanges) > 0 {
		fmt.Fprintf(w, "  Expected Ranges:  %s\n", strings.Join(session.NextExpectedRanges, ", "))
	} else {
		fmt.Fprintln(w, "  Expected Ranges:  none")
	}
}

// DisplayDriveItem prints the metadata of an uploaded drive item.
func DisplayDriveItem(w io.Writer, item graph.DriveItem) {
	fmt.Fprintln(w, "Item Metadata:")
	fmt.Fprintf(w, "  Name:             %s\n", item.Name)
	if item.ID != nil {
		fmt.Fprintf(w, "  ID:               %s\n", *item.ID)
	}
	fmt.Fprintf(w, "  Size:             %s (%d bytes)\n", FormatBytes(item.Size), item.Size)
	if item.LastModifiedDateTime != nil {
		fmt.Fprintf(w, "  Last Modified:    %s\n", item.LastModifiedDateTime.Local().Format(time.RFC1123))
	}
	if item.WebURL != "" {
		fmt.Fprintf(w, "  Web URL:          %s\n", item.WebURL)
	}
}

// DisplayUploadResult prints what the server returned for a completed
// upload. Drive uploads return the item; attachment uploads only a Location.
func DisplayUploadResult(w io.Writer, result *graph.UploadResult) {
	var item graph.DriveItem
	if len(result.Body) > 0 && result.Decode(&item) == nil && item.ID != nil {
		DisplayDriveItem(w, item)
		return
	}
	fmt.Fprintf(w, "Upload complete (HTTP %d).\n", result.StatusCode)
	if result.Location != "" {
		fmt.Fprintf(w, "  Location:         %s\n", result.Location)
	}
}
