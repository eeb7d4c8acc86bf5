package security

import "time"

// Clock abstracts wall-clock reads so rate-limit tests can simulate
// elapsed time deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real wall clock.
func SystemClock() Clock { return systemClock{} }
