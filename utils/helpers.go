package utils

import (
	"fmt"
	"time"
)

func IsValidInterval(interval string) bool {
	switch interval {
	case "Minute", "Hour", "Day", "Week", "Month", "Quarter", "Year":
		return true
	default:
		return false
	}
}

const DateLayout = "2006-01-02"

// ParseDateRange parses optional YYYY-MM-DD bounds. Both ends are inclusive:
// the returned end is the first millisecond of the day after endDate, to be
// used as an exclusive bound. Empty inputs yield zero times.
func ParseDateRange(startDate, endDate string) (time.Time, time.Time, error) {
	var start, end time.Time
	if startDate != "" {
		t, err := time.ParseInLocation(DateLayout, startDate, time.UTC)
		if err != nil {
			return start, end, fmt.Errorf("invalid startDate %q: use YYYY-MM-DD", startDate)
		}
		start = t
	}
	if endDate != "" {
		t, err := time.ParseInLocation(DateLayout, endDate, time.UTC)
		if err != nil {
			return start, end, fmt.Errorf("invalid endDate %q: use YYYY-MM-DD", endDate)
		}
		end = t.AddDate(0, 0, 1)
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return start, end, fmt.Errorf("startDate %s is after endDate %s", startDate, endDate)
	}
	return start, end, nil
}

// TruncateToInterval mirrors ClickHouse's toStartOf<Interval> in UTC. Weeks
// start on Sunday.
func TruncateToInterval(t time.Time, interval string) time.Time {
	t = t.UTC()
	switch interval {
	case "Minute":
		return t.Truncate(time.Minute)
	case "Hour":
		return t.Truncate(time.Hour)
	case "Day":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case "Week":
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -int(day.Weekday()))
	case "Month":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case "Quarter":
		q := (int(t.Month()) - 1) / 3
		return time.Date(t.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
	case "Year":
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}
