// File: reactor/deadline.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"math"
	"time"
)

// InfFuture is the deadline that never expires. Like net.Conn deadlines, the
// zero time means no deadline.
var InfFuture = time.Time{}

// spinThreshold is the remaining time below which poll(2) is issued
// non-blocking rather than rounded up to a full millisecond.
const spinThreshold = 20 * time.Microsecond

// immediate is a deadline already in the past.
var immediate = time.Unix(0, 0)

// DeadlineToMillis converts deadline into a poll(2) timeout relative to now:
// -1 for InfFuture, 0 for a deadline within spinThreshold or already past,
// otherwise the remaining time rounded up to whole milliseconds.
func DeadlineToMillis(deadline, now time.Time) int {
	if deadline.IsZero() {
		return -1
	}
	remaining := deadline.Sub(now)
	if remaining <= spinThreshold {
		return 0
	}
	ms := remaining / time.Millisecond
	if remaining%time.Millisecond != 0 {
		ms++
	}
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
