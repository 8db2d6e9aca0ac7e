package logging

import (
	"fmt"
	"regexp"
	"time"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
)

// TimestampLayout is the millisecond-precision timestamp of a trace line.
const TimestampLayout = "2006-01-02T15:04:05.000"

// Format renders a trace line:
//
//	[2024-01-02T15:04:05.000] Source::producer - sent: 1
func Format(t time.Time, trace Trace, msg string) string {
	return fmt.Sprintf("[%s] %s - %s", t.Format(TimestampLayout), trace, msg)
}

// Entry is a parsed trace line.
type Entry struct {
	Time    time.Time
	Trace   string
	Message string
}

// The message may span lines; the trace ends at the first " - ".
var linePattern = regexp.MustCompile(`(?s)^\[([^\]\n]+)\] ([^\n]+?) - (.*)$`)

// Parse splits a line produced by Format back into its parts.
func Parse(line string) (Entry, error) {
	match := linePattern.FindStringSubmatch(line)
	if match == nil {
		return Entry{}, cnerrors.WrapInvalid(
			fmt.Errorf("%w: %q is not a trace line", cnerrors.ErrFormat, line),
			"logging", "Parse", "match line")
	}

	t, err := time.ParseInLocation(TimestampLayout, match[1], time.Local)
	if err != nil {
		return Entry{}, cnerrors.WrapInvalid(
			fmt.Errorf("%w: %w", cnerrors.ErrFormat, err),
			"logging", "Parse", "parse timestamp")
	}

	return Entry{Time: t, Trace: match[2], Message: match[3]}, nil
}
