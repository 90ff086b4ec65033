package events

import (
	"strconv"
	"sync/atomic"
	"time"
)

var lastTS int64

// NowTS returns the current time as unix microseconds, strictly increasing
// within this process. Event ids and the row timestamps they are derived from
// both come from here, so a catch-up cursor and a live event id never collide
// on the same instant.
func NowTS() int64 {
	for {
		now := time.Now().UnixMicro()
		last := atomic.LoadInt64(&lastTS)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTS, last, now) {
			return now
		}
	}
}

// Now is NowTS as a wall-clock value, for stamping durable rows.
func Now() time.Time {
	return time.UnixMicro(NowTS())
}

// FormatID renders a timestamp as a tracked-event id / cursor.
func FormatID(ts int64) string {
	return strconv.FormatInt(ts, 10)
}

// ParseID parses a cursor previously produced by FormatID.
func ParseID(id string) (int64, bool) {
	ts, err := strconv.ParseInt(id, 10, 64)
	if err != nil || ts < 0 {
		return 0, false
	}
	return ts, true
}
