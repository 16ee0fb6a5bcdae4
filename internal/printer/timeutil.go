package printer

import (
	"fmt"
	"time"
)

// TimeAgo returns a compact relative time string.
// Examples: "just now", "12s ago", "5m ago", "3h ago", "2d ago".
func TimeAgo(t, now time.Time) string {
	diff := now.Sub(t)

	switch {
	case diff < 0:
		return "in the future"
	case diff < time.Second:
		return "just now"
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

// FormatTimestamp returns a formatted timestamp string in UTC.
// Format: "2006-01-02 15:04:05 UTC".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

// RunDuration returns how long a task has been (or was) running, "-" if it
// never started.
func RunDuration(started, finished *time.Time, now time.Time) string {
	if started == nil {
		return "-"
	}

	end := now
	if finished != nil {
		end = *finished
	}

	d := end.Sub(*started)
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return d.Round(100 * time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
