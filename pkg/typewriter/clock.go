package typewriter

import "time"

// Timer is a scheduled callback that can be cancelled
type Timer interface {
	Stop() bool
}

// Clock schedules tick callbacks
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock schedules on real time
type SystemClock struct{}

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
