package cyclic

import "time"

// pacing returns how long to sleep after a pass that handed framesSent frames
// to transmitters. Zero means the pass overran the period and the next one
// starts immediately.
func pacing(framesSent int, period, gap time.Duration) time.Duration {
	elapsed := time.Duration(framesSent) * gap
	if elapsed >= period {
		return 0
	}
	if framesSent == 0 {
		return period
	}
	return period - elapsed
}
