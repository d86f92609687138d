// Package cyclic retransmits a registered set of CAN frames at a fixed
// cadence.
//
// An Engine owns two bounded tables: the frames to resend and the
// auto-increment counters that overlay a live byte onto outgoing payloads.
// A single background goroutine walks the frame table once per pass, hands
// each frame to its Transmitter and paces itself against the cycle period:
//
//	elapsed = framesSent * interFrameGap
//	elapsed >= period  -> next pass immediately
//	otherwise          -> sleep period - elapsed
//
// The cycle period is latched from the first successful Add and is shared by
// all frames; the period passed to later Add calls is stored but not used for
// pacing.
package cyclic
