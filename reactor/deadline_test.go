package reactor_test

import (
	"math"
	"testing"
	"time"

	"github.com/momentics/hioload-poll/reactor"
)

func TestDeadlineToMillis(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name     string
		deadline time.Time
		want     int
	}{
		{"infinite", reactor.InfFuture, -1},
		{"past", now.Add(-time.Millisecond), 0},
		{"now", now, 0},
		{"within spin threshold", now.Add(10 * time.Microsecond), 0},
		{"sub millisecond rounds up", now.Add(300 * time.Microsecond), 1},
		{"2500us rounds up", now.Add(2500 * time.Microsecond), 3},
		{"exact millis", now.Add(40 * time.Millisecond), 40},
		{"huge clamps", now.Add(time.Duration(math.MaxInt64)), math.MaxInt32},
		{"huge minus a microsecond clamps", now.Add(time.Duration(math.MaxInt64) - time.Microsecond), math.MaxInt32},
		{"just over int32 millis clamps", now.Add(time.Duration(math.MaxInt32)*time.Millisecond + time.Microsecond), math.MaxInt32},
	}
	for _, tc := range cases {
		if got := reactor.DeadlineToMillis(tc.deadline, now); got != tc.want {
			t.Errorf("%s: DeadlineToMillis = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestDeadlineToMillisNeverTruncates(t *testing.T) {
	now := time.Now()
	for us := 25; us < 5000; us += 37 {
		remaining := time.Duration(us) * time.Microsecond
		got := reactor.DeadlineToMillis(now.Add(remaining), now)
		if time.Duration(got)*time.Millisecond < remaining {
			t.Fatalf("remaining %v converted to %dms", remaining, got)
		}
	}
}
