package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Paging defaults for listing messages.
const (
	DefaultTop        = 10
	DefaultPauseAfter = 25
	DefaultPause      = 5 * time.Second
)

// DefaultSelect is the $select list used when none is given.
var DefaultSelect = []string{"sender", "subject", "body"}

// Paging holds the options of a paged listing.
type Paging struct {
	// Top is the page size requested from the server.
	Top    int
	Select []string
	// PauseAfter items the iteration pauses for Pause before resuming.
	// Zero disables pausing.
	PauseAfter int
	Pause      time.Duration
	// Manual follows next links by hand instead of using the page iterator.
	Manual bool
	// TextBody asks the server for plain text bodies.
	TextBody bool
}

// AddPagingFlags adds the standard pagination flags to a command.
func AddPagingFlags(cmd *cobra.Command) {
	cmd.Flags().Int("top", DefaultTop, "Number of items requested per page")
	cmd.Flags().StringSlice("select", DefaultSelect, "Properties to return for each item")
	cmd.Flags().Int("pause-after", DefaultPauseAfter, "Pause the iteration after this many items (0 disables pausing)")
	cmd.Flags().Duration("pause", DefaultPause, "How long to pause before resuming")
	cmd.Flags().Bool("manual", false, "Follow next links manually instead of using the page iterator")
	cmd.Flags().Bool("text-body", false, "Request message bodies as plain text")
}

// ParsePagingFlags extracts pagination settings from command flags.
func ParsePagingFlags(cmd *cobra.Command) (Paging, error) {
	top, err := cmd.Flags().GetInt("top")
	if err != nil {
		return Paging{}, fmt.Errorf("error parsing top flag: %w", err)
	}
	if top < 0 {
		return Paging{}, fmt.Errorf("--top must not be negative, got %d", top)
	}

	selectFields, err := cmd.Flags().GetStringSlice("select")
	if err != nil {
		return Paging{}, fmt.Errorf("error parsing select flag: %w", err)
	}
	cleaned := selectFields[:0]
	for _, f := range selectFields {
		if f = strings.TrimSpace(f); f != "" {
			cleaned = append(cleaned, f)
		}
	}

	pauseAfter, err := cmd.Flags().GetInt("pause-after")
	if err != nil {
		return Paging{}, fmt.Errorf("error parsing pause-after flag: %w", err)
	}
	if pauseAfter < 0 {
		return Paging{}, fmt.Errorf("--pause-after must not be negative, got %d", pauseAfter)
	}

	pause, err := cmd.Flags().GetDuration("pause")
	if err != nil {
		return Paging{}, fmt.Errorf("error parsing pause flag: %w", err)
	}
	if pause < 0 {
		return Paging{}, fmt.Errorf("--pause must not be negative, got %s", pause)
	}

	manual, err := cmd.Flags().GetBool("manual")
	if err != nil {
		return Paging{}, fmt.Errorf("error parsing manual flag: %w", err)
	}

	textBody, err := cmd.Flags().GetBool("text-body")
	if err != nil {
		return Paging{}, fmt.Errorf("error parsing text-body flag: %w", err)
	}

	return Paging{
		Top:        top,
		Select:     cleaned,
		PauseAfter: pauseAfter,
		Pause:      pause,
		Manual:     manual,
		TextBody:   textBody,
	}, nil
}
