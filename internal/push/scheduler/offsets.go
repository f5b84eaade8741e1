package scheduler

import "time"

// CumulativeOffsets turns a delay list into absolute offsets by successive summation.
// Non-positive delays are skipped so the result is strictly increasing.
func CumulativeOffsets(delays []int, unit time.Duration) []time.Duration {
	out := make([]time.Duration, 0, len(delays))
	var total time.Duration
	for _, d := range delays {
		if d <= 0 {
			continue
		}
		total += time.Duration(d) * unit
		out = append(out, total)
	}
	return out
}

// NextWeekly returns the next instant strictly after now that falls on weekday at hour:00 in the
// fixed zone tzOffsetHours east of UTC. The result is in UTC.
func NextWeekly(now time.Time, weekday time.Weekday, hour, tzOffsetHours int) time.Time {
	loc := time.FixedZone("", tzOffsetHours*3600)
	local := now.In(loc)
	days := (int(weekday) - int(local.Weekday()) + 7) % 7
	target := time.Date(local.Year(), local.Month(), local.Day()+days, hour, 0, 0, 0, loc)
	if !target.After(local) {
		target = target.AddDate(0, 0, 7)
	}
	return target.UTC()
}
