// Package connection provides retry with exponential backoff for
// connection attempts.
//
// Delays grow from Initial by Multiplier up to Max:
//
//	500ms, 1s, 2s, 4s, 8s, 16s, 30s, 30s, ...
//
// Each delay gets up to Jitter*delay of random extra wait so clients that
// lost the same server do not reconnect in lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
