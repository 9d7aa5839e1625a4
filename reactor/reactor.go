// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral poller construction.

package reactor

import "time"

// DefaultMaxEvents bounds how many ready descriptors a single Wait reports.
const DefaultMaxEvents = 256

// timeoutMillis converts a wait duration to the millisecond argument of the
// OS wait call. Negative durations block indefinitely; sub-millisecond
// positive durations round up so they never degrade into a busy poll.
func timeoutMillis(d time.Duration) int {
	switch {
	case d < 0:
		return -1
	case d == 0:
		return 0
	}
	ms := int(d / time.Millisecond)
	if d%time.Millisecond != 0 {
		ms++
	}
	return ms
}
