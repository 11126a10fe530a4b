package models

// TransitionType is the kind of a directed edge between two states.
type TransitionType string

const (
	TransitionSuccess TransitionType = "SUCCESS"
	TransitionFailure TransitionType = "FAILURE"
	TransitionFork    TransitionType = "FORK"
	TransitionRepeat  TransitionType = "REPEAT"
	TransitionAbort   TransitionType = "ABORT"
)

// RepeatStrategy controls how a repeat state runs its per-element sub-walks.
type RepeatStrategy string

const (
	RepeatSerial   RepeatStrategy = "SERIAL"
	RepeatParallel RepeatStrategy = "PARALLEL"
)
