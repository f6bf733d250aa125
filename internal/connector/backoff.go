package connector

import "time"

// ReconnectBackoff computes the exponential backoff before reconnect
// attempt N (0-indexed): ~500ms * 1.5^attempt, clamped to [0, 10-15s],
// replacing a flat 5s reconnect sleep with exponential growth so repeated
// failures don't hammer a struggling venue.
func ReconnectBackoff(attempt int) time.Duration {
	const (
		base       = 500 * time.Millisecond
		multiplier = 1.5
		ceiling    = 12 * time.Second // clamp band target: 10-15s
	)
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= multiplier
	}
	backoff := time.Duration(d)
	if backoff > ceiling {
		return ceiling
	}
	return backoff
}
