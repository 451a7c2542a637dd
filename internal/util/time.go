package util

import "time"

// The room log records second-precision timestamps; mailbox messages and
// team config records use millisecond precision. Both are UTC with a
// trailing Z.

// UTCTimestamp returns the current time as e.g. "2026-01-02T15:04:05Z".
func UTCTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z07:00")
}

// UTCTimestampMillis returns the current time as e.g.
// "2026-01-02T15:04:05.123Z".
func UTCTimestampMillis() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// NowMillis returns the current time as epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
