// Package iso8601 parses the ISO-8601 durations and timestamps used in
// OpenADR 2.0a payloads (eiActivePeriod/dtstart, eiActivePeriod/duration,
// interval durations) and draws the bounded random offsets the protocol
// uses to smear VEN fleet load ("startafter", cancellation offset).
package iso8601

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"time"
)

// durationPattern matches the subset of ISO-8601 durations OpenADR uses:
// P[n Y][n M][n D][T[n H][n M][n S]]. Fractional seconds are allowed.
var durationPattern = regexp.MustCompile(
	`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:([\d.]+)S)?)?$`,
)

// ParseDuration parses an ISO-8601 duration string (e.g. "PT5M",
// "P1DT4H", "PT0S") into a time.Duration. Years are treated as 365
// days and months as 30 days — OpenADR intervals never actually carry
// calendar-sensitive Y/M components, but the grammar allows them.
//
// An empty string parses to a zero duration, matching the protocol's
// use of an empty/absent element to mean "not present".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("iso8601: malformed duration %q", s)
	}

	var total time.Duration
	add := func(group string, unit time.Duration) error {
		if group == "" {
			return nil
		}
		n, err := strconv.ParseFloat(group, 64)
		if err != nil {
			return fmt.Errorf("iso8601: malformed duration component %q in %q: %w", group, s, err)
		}
		total += time.Duration(n * float64(unit))
		return nil
	}

	if err := add(m[1], 365*24*time.Hour); err != nil {
		return 0, err
	}
	if err := add(m[2], 30*24*time.Hour); err != nil {
		return 0, err
	}
	if err := add(m[3], 24*time.Hour); err != nil {
		return 0, err
	}
	if err := add(m[4], time.Hour); err != nil {
		return 0, err
	}
	if err := add(m[5], time.Minute); err != nil {
		return 0, err
	}
	if err := add(m[6], time.Second); err != nil {
		return 0, err
	}

	return total, nil
}

// layouts are tried in order when parsing an xcal:date-time value.
// VTNs in the wild emit both a trailing "Z" and an explicit numeric
// offset, and some omit sub-second precision entirely.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an xcal:date-time value into a UTC instant.
func ParseTimestamp(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, fmt.Errorf("iso8601: malformed date-time %q: %w", s, firstErr)
}

// FormatTimestamp renders an instant the way it is persisted (and the
// way OpenADR payloads expect it echoed back): RFC3339 in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// RandomOffset draws a single pseudo-random duration uniformly from
// [0, bound] and returns base advanced by that amount. A zero or
// negative bound returns base unchanged, so callers can pass an
// absent "startafter"/cancellation-offset bound unconditionally.
//
// Each call draws independently; callers that must preserve a
// previously-drawn offset (§3's "start_offset is drawn once per
// event_id") are responsible for storing and reusing the resulting
// duration rather than calling this again.
func RandomOffset(base time.Time, bound time.Duration) (time.Time, time.Duration) {
	if bound <= 0 {
		return base, 0
	}
	offset := time.Duration(rand.Int63n(int64(bound) + 1))
	return base.Add(offset), offset
}
