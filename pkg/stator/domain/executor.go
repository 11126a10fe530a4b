package domain

import "time"

// Executor is one registered engine process, kept alive via heartbeat and
// used to detect stuck executions after a crash.
type Executor struct {
	ID         int64
	Name       string
	Started    time.Time
	LastActive time.Time
}
