package timectrl

import (
	"iter"
	"math"
	"time"
)

const (
	// UnixEpochJD is the Julian date of 1970-01-01T00:00:00Z.
	UnixEpochJD = 2440587.5
	// J2000JD is the Julian date of 2000-01-01T12:00:00Z.
	J2000JD = 2451545.0

	secondsPerDay = 86400.0
)

// ToJulianDate converts t to a Julian date with sub-millisecond resolution.
func ToJulianDate(t time.Time) float64 {
	return float64(t.UnixNano())/1e9/secondsPerDay + UnixEpochJD
}

// FromJulianDate converts a Julian date back to a UTC time, rounded to the
// nearest microsecond.
func FromJulianDate(jd float64) time.Time {
	secs := (jd - UnixEpochJD) * secondsPerDay
	whole, frac := math.Modf(secs)
	nanos := math.Round(frac*1e6) * 1e3
	return time.Unix(int64(whole), int64(nanos)).UTC()
}

// DaysSinceJ2000 returns the number of days, possibly fractional and
// negative, since the J2000.0 epoch.
func DaysSinceJ2000(t time.Time) float64 {
	return ToJulianDate(t) - J2000JD
}

// DayOfYear returns the UTC ordinal day, January 1st being 1.
func DayOfYear(t time.Time) int {
	return t.UTC().YearDay()
}

// SolarTime returns the approximate local mean solar time, in fractional
// hours within [0, 24), at the given longitude.
func SolarTime(t time.Time, longitudeDeg float64) float64 {
	u := t.UTC()
	hours := float64(u.Hour()) + float64(u.Minute())/60 + float64(u.Second())/3600
	solar := math.Mod(hours+longitudeDeg/15, 24)
	if solar < 0 {
		solar += 24
	}
	return solar
}

// TimeRange yields start, start+step, ... up to and including end. A
// non-positive step or an end before start yields nothing. The sequence is
// lazy and may be ranged over any number of times.
func TimeRange(start, end time.Time, step time.Duration) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if step <= 0 {
			return
		}
		for cur := start; !cur.After(end); cur = cur.Add(step) {
			if !yield(cur) {
				return
			}
		}
	}
}

// UntilNextInterval returns how long until the wall clock next reaches a
// multiple of interval, so refreshes can be aligned to round times.
func UntilNextInterval(now time.Time, interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	next := now.Truncate(interval).Add(interval)
	return next.Sub(now)
}
