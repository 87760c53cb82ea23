package utils

import (
	"time"
)

// Tincan version from source control, set with -ldflags at build time.
var TincanVersion string = "unknown"

// IdPtr is the pointer version of id: 'a->'a
func IdPtr[T any](value T) *T {
	return &value
}

// MakeTimestamp converts a time into Unix epoch milliseconds.
func MakeTimestamp(t time.Time) uint64 {
	return uint64(t.UnixNano() / int64(time.Millisecond))
}

// If is the ternary operator (eager evaluation)
func If[T any](cond bool, t, f T) T {
	if cond {
		return t
	} else {
		return f
	}
}

// Millis converts a millisecond count from configuration into a duration.
func Millis[T ~int | ~int64 | ~uint32 | ~uint64](ms T) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
