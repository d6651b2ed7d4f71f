package scheduler

import "time"

const (
	sessionOpen  = 9*60 + 30
	sessionClose = 16 * 60
)

// IsMarketOpen reports whether t falls in the regular NYSE session,
// 09:30 to 16:00 local time on weekdays. Exchange holidays are not
// modelled.
func IsMarketOpen(t time.Time, loc *time.Location) bool {
	now := t.In(loc)

	weekday := now.Weekday()
	if weekday == time.Saturday || weekday == time.Sunday {
		return false
	}

	totalMinutes := now.Hour()*60 + now.Minute()
	return totalMinutes >= sessionOpen && totalMinutes < sessionClose
}
