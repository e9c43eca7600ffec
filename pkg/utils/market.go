package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets. All scheduling in the
// sandbox is wall-clock in this zone.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// TimeAt returns a time on the same day as t at the specified hour and minute.
func TimeAt(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}

// StartOfDay returns midnight on the day of t.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// LastThursday returns the last Thursday of the given month, the standard
// monthly expiry day on Indian derivatives exchanges.
func LastThursday(year int, month time.Month) time.Time {
	// Day 0 of the next month is the last day of this one.
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, IndiaLocation)
	offset := (int(last.Weekday()) - int(time.Thursday) + 7) % 7
	return last.AddDate(0, 0, -offset)
}
