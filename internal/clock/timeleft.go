// Package clock derives countdown state from an absolute expiry timestamp.
//
// Every consumer goes through TimeLeft so the tick at which now reaches the
// end time is exactly the tick that reports Ended, never earlier.
package clock

import (
	"fmt"
	"time"
)

// Ended is the terminal countdown value.
const Ended = "Ended"

// TimeLeft returns Ended when now >= endTime, otherwise the remaining time
// formatted as "{d}d {h}h {m}m {s}s". endTime is in unix seconds.
func TimeLeft(endTime int64, now time.Time) string {
	diff := endTime - now.Unix()
	if diff <= 0 {
		return Ended
	}
	days := diff / 86400
	hours := (diff % 86400) / 3600
	minutes := (diff % 3600) / 60
	seconds := diff % 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}

// HasEnded reports whether an auction ending at endTime is over at now,
// agreeing with TimeLeft on the boundary.
func HasEnded(endTime int64, now time.Time) bool {
	return now.Unix() >= endTime
}
