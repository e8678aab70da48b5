package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteRange is one entry of nextExpectedRanges. End is -1 for an open range
// ("1024-" or, as Outlook sends it, "1024"), meaning up to the end of the file.
type ByteRange struct {
	Start int64
	End   int64
}

// ParseByteRange parses "start-end", "start-" or "start".
func ParseByteRange(s string) (ByteRange, error) {
	startStr, endStr, _ := strings.Cut(strings.TrimSpace(s), "-")
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, fmt.Errorf("%w: malformed byte range start %q", ErrDecodingFailed, s)
	}
	r := ByteRange{Start: start, End: -1}
	if endStr != "" {
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return ByteRange{}, fmt.Errorf("%w: malformed byte range end %q", ErrDecodingFailed, s)
		}
		r.End = end
	}
	return r, nil
}

// nextExpectedRange returns the lowest range the server still expects.
// ok is false when ranges is empty.
func nextExpectedRange(ranges []string) (r ByteRange, ok bool, err error) {
	for i, s := range ranges {
		parsed, err := ParseByteRange(s)
		if err != nil {
			return ByteRange{}, false, err
		}
		if i == 0 || parsed.Start < r.Start {
			r = parsed
		}
	}
	return r, len(ranges) > 0, nil
}
