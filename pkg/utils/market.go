package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// TradingDate returns the IST calendar date of t as YYYY-MM-DD. Broker
// sessions are issued per trading date.
func TradingDate(t time.Time) string {
	return t.In(IndiaLocation).Format("2006-01-02")
}

// SessionExpiry returns when a session issued at t stops working: 6 AM IST
// on the following day.
func SessionExpiry(t time.Time) time.Time {
	now := t.In(IndiaLocation)
	return time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, IndiaLocation)
}

// IsWeekend reports whether t falls on a Saturday or Sunday in IST.
func IsWeekend(t time.Time) bool {
	wd := t.In(IndiaLocation).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
