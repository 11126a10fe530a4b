package domain

import "time"

// StateMachineRecord is the persisted form of a validated, expanded graph.
type StateMachineRecord struct {
	ID        int64
	MachineID string
	Name      string
	Graph     string // JSON machine.StateMachine
	Created   time.Time
	Updated   time.Time
}
