package models

// InterruptType is an operator-issued command against a running execution.
type InterruptType string

const (
	InterruptPause     InterruptType = "PAUSE"
	InterruptResume    InterruptType = "RESUME"
	InterruptRetry     InterruptType = "RETRY"
	InterruptAbort     InterruptType = "ABORT"
	InterruptPauseAll  InterruptType = "PAUSE_ALL"
	InterruptResumeAll InterruptType = "RESUME_ALL"
	InterruptAbortAll  InterruptType = "ABORT_ALL"
)

// Valid reports whether t is a known interrupt type.
func (t InterruptType) Valid() bool {
	switch t {
	case InterruptPause, InterruptResume, InterruptRetry, InterruptAbort,
		InterruptPauseAll, InterruptResumeAll, InterruptAbortAll:
		return true
	}
	return false
}

// SingleInstance reports whether t targets one state execution instance and
// therefore requires a stateExecutionInstanceId.
func (t InterruptType) SingleInstance() bool {
	switch t {
	case InterruptPause, InterruptResume, InterruptRetry, InterruptAbort:
		return true
	}
	return false
}

// AllScoped reports whether t applies to the whole execution.
func (t InterruptType) AllScoped() bool {
	return t == InterruptPauseAll || t == InterruptResumeAll || t == InterruptAbortAll
}

// Seizes lists the ALL-scoped interrupt types that registering t supersedes.
// PAUSE_ALL and RESUME_ALL seize each other; ABORT_ALL seizes both.
func (t InterruptType) Seizes() []InterruptType {
	switch t {
	case InterruptPauseAll:
		return []InterruptType{InterruptResumeAll}
	case InterruptResumeAll:
		return []InterruptType{InterruptPauseAll}
	case InterruptAbortAll:
		return []InterruptType{InterruptPauseAll, InterruptResumeAll}
	}
	return nil
}
