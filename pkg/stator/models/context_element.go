package models

// ContextElementType tags the kind of infrastructure element a state needs
// bound in its execution context before it can run.
type ContextElementType string

const (
	ElementTypeService   ContextElementType = "SERVICE"
	ElementTypeInstance  ContextElementType = "INSTANCE"
	ElementTypeHost      ContextElementType = "HOST"
	ElementTypePartition ContextElementType = "PARTITION"
)

// ContextElement is one concrete element bound into an execution context,
// for example a single target instance of a service.
type ContextElement struct {
	Type ContextElementType `json:"type"`
	UUID string             `json:"uuid,omitempty"`
	Name string             `json:"name"`
}
