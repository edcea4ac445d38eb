package printer

import (
	"fmt"
	"time"
)

// TimeAgo renders how long ago t was in the coarsest whole unit, always
// relative to UTC. Used for the CREATED column of the VM table, e.g.
// "30 seconds ago (UTC)", "2 hours ago (UTC)".
func TimeAgo(t time.Time) string {
	diff := time.Now().UTC().Sub(t.UTC())
	if diff < 0 {
		return "in the future (UTC)"
	}

	switch {
	case diff < time.Minute:
		return agoString(int(diff.Seconds()), "second")
	case diff < time.Hour:
		return agoString(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return agoString(int(diff.Hours()), "hour")
	default:
		return agoString(int(diff.Hours()/24), "day")
	}
}

func agoString(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago (UTC)", unit)
	}
	return fmt.Sprintf("%d %ss ago (UTC)", n, unit)
}

// FormatTimestamp renders an absolute timestamp in UTC, e.g.
// "2026-05-01 10:00:02 UTC".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
