package ledger

import (
	"fmt"
	"time"
)

// Unix-milli timestamps are unambiguous above this bound; anything smaller
// is treated as unix seconds.
const unixMilliCutoff = int64(1e12)

// FromUnix canonicalizes a numeric source timestamp to UTC. Providers emit
// either unix seconds or unix milliseconds; the magnitude disambiguates.
func FromUnix(ts int64) time.Time {
	if ts >= unixMilliCutoff {
		return time.UnixMilli(ts).UTC()
	}
	return time.Unix(ts, 0).UTC()
}

// ParseTimestamp canonicalizes a source date string to UTC. RFC 3339 and
// the common date-time variants the providers emit are accepted.
func ParseTimestamp(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp: unrecognized format %q", s)
}

// FormatCursor renders a timestamp as an API-provider cursor (RFC 3339 UTC).
func FormatCursor(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
