package postgresadapter

import "time"

// SystemClock is the runtime clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
