package services

import (
	"regexp"
	"strconv"
	"strings"
)

var percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

const (
	completionMarker = "[download] 100%"
	errorMarker      = "ERROR:"
)

// ProgressEvent is the parsed meaning of one line of tool output. Lines that
// match nothing are informational only.
type ProgressEvent struct {
	Percent   *float64
	Completed bool
	Error     string
}

// ParseProgressLine translates one output line into an event. It is pure:
// the same line always yields the same event, so recorded transcripts can be
// replayed in tests.
func ParseProgressLine(line string) ProgressEvent {
	var evt ProgressEvent

	if matches := percentRe.FindAllStringSubmatch(line, -1); len(matches) > 0 {
		// Most recent match on the line wins.
		last := matches[len(matches)-1][1]
		if pct, err := strconv.ParseFloat(last, 64); err == nil {
			if pct > 100 {
				pct = 100
			}
			evt.Percent = &pct
		}
	}

	if strings.Contains(line, completionMarker) {
		evt.Completed = true
	}
	if strings.Contains(line, errorMarker) {
		evt.Error = line
	}

	return evt
}
