package service

import (
	"fmt"
	"time"
)

// durationSeconds converts a duration plus unit into seconds.
func durationSeconds(duration int, unit string) (int, error) {
	if duration < 1 {
		return 0, ErrInvalidDuration
	}
	switch unit {
	case "second":
		return duration, nil
	case "minute":
		return duration * 60, nil
	case "hour":
		return duration * 3600, nil
	default:
		return 0, ErrInvalidDuration
	}
}

// clampDuration caps seconds at the configured maximum and reports whether
// the cap kicked in.
func (s *ShareService) clampDuration(seconds int) (int, bool) {
	max := int(s.cfg.MaxDuration / time.Second)
	if seconds > max {
		return max, true
	}
	return seconds, false
}

// clampMessage is the advisory returned when a requested duration was
// capped. The operation itself still succeeds.
func clampMessage(what string, duration int, unit string, max time.Duration) string {
	return fmt.Sprintf("%s, but the requested duration (%s) exceeds the maximum. Expiration was set to %s.",
		what, formatDurationText(duration, unit), formatDurationText(int(max/time.Hour), "hour"))
}

func formatDurationText(duration int, unit string) string {
	if duration == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", duration, unit)
}
