package util

import "time"

// ImmediateClock is a Clock whose After fires at once. Keeps lifecycle tests
// free of the bootloader's real reset delays.
type ImmediateClock struct{}

func (ImmediateClock) Now() time.Time {
	return time.Now()
}

func (ImmediateClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}
