package wba

import (
	"strconv"
	"time"
)

// TimestampWindow is how far a credential timestamp may drift from local
// time, in either direction, before the credential is rejected.
const TimestampWindow = 5 * time.Minute

// FormatTimestamp renders t the way DIDWba headers carry timestamps:
// RFC 3339 in UTC with second precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// VerifyTimestamp reports whether ts lies within TimestampWindow of now.
// It accepts RFC 3339 / ISO-8601 strings and epoch seconds; anything
// unparseable is simply not valid.
func VerifyTimestamp(ts string) bool {
	t, ok := parseTimestamp(ts)
	if !ok {
		return false
	}
	drift := time.Since(t)
	if drift < 0 {
		drift = -drift
	}
	return drift <= TimestampWindow
}

// parseTimestamp tries the accepted timestamp encodings in order.
func parseTimestamp(ts string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t, true
	}
	// ISO-8601 without a zone designator is read as UTC.
	if t, err := time.Parse("2006-01-02T15:04:05", ts); err == nil {
		return t.UTC(), true
	}
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.Unix(secs, 0), true
	}
	return time.Time{}, false
}
