package watcher

import "time"

const creationStampLayout = "20060102150405"

// StartTime returns the instant a process started: the platform creation
// stamp when its YYYYMMDDHHMMSS prefix parses as a valid local time,
// otherwise firstSeen. Trailing fractional seconds and offsets are ignored.
func StartTime(creationDate string, firstSeen time.Time) time.Time {
	if len(creationDate) < len(creationStampLayout) {
		return firstSeen
	}
	t, err := time.ParseInLocation(creationStampLayout, creationDate[:len(creationStampLayout)], time.Local)
	if err != nil {
		return firstSeen
	}
	return t
}
