package types

import "time"

// TaskStatus is the lifecycle state of a TaskInstance.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
	TaskSkipped    TaskStatus = "skipped"
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskSkipped
}

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskBlocked, TaskSkipped:
		return true
	}
	return false
}

// Label returns the user-facing label for the status. The switch is the
// presentation boundary: the engine itself never consumes labels.
func (s TaskStatus) Label() string {
	switch s {
	case TaskPending:
		return "Pending"
	case TaskInProgress:
		return "In Progress"
	case TaskCompleted:
		return "Completed"
	case TaskBlocked:
		return "Blocked"
	case TaskSkipped:
		return "Skipped"
	}
	return "Unknown"
}

// EntityKind identifies the kind of business entity a task is bound to.
type EntityKind string

const (
	EntityServiceTicket     EntityKind = "service_ticket"
	EntityInventoryReceipt  EntityKind = "inventory_receipt"
	EntityInventoryIssue    EntityKind = "inventory_issue"
	EntityInventoryTransfer EntityKind = "inventory_transfer"
)

// EntityRef binds a task to exactly one business entity. Construct refs via
// TicketRef, ReceiptRef, IssueRef or TransferRef so the kind tag is always
// one of the known constants.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   uint64     `json:"id"`
}

func TicketRef(id uint64) EntityRef   { return EntityRef{Kind: EntityServiceTicket, ID: id} }
func ReceiptRef(id uint64) EntityRef  { return EntityRef{Kind: EntityInventoryReceipt, ID: id} }
func IssueRef(id uint64) EntityRef    { return EntityRef{Kind: EntityInventoryIssue, ID: id} }
func TransferRef(id uint64) EntityRef { return EntityRef{Kind: EntityInventoryTransfer, ID: id} }

// IsZero reports whether the ref is unset.
func (r EntityRef) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

// TaskType is immutable reference data describing a kind of work.
type TaskType struct {
	ID                       uint64 `json:"id"`
	Name                     string `json:"name"`
	Category                 string `json:"category,omitempty"`
	Description              string `json:"description,omitempty"`
	EstimatedDurationMinutes int    `json:"estimated_duration_minutes,omitempty"`
	IsActive                 bool   `json:"is_active"`
}

// WorkflowTemplate is an ordered definition of tasks to instantiate against
// a business entity. Tasks are ordered by SequenceOrder, which must be a
// dense 1-based range with no duplicates.
type WorkflowTemplate struct {
	ID              uint64            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	EntityKind      EntityKind        `json:"entity_kind"`
	ServiceType     string            `json:"service_type,omitempty"`
	EnforceSequence bool              `json:"enforce_sequence"`
	IsActive        bool              `json:"is_active"`
	Tasks           []TemplateTaskDef `json:"tasks"`
}

// TemplateTaskDef is one task slot within a template. Condition is an
// optional expression evaluated against the entity context at instantiation
// time; a false result means the task is not instantiated for that entity.
type TemplateTaskDef struct {
	TaskTypeID         uint64 `json:"task_type_id"`
	SequenceOrder      int    `json:"sequence_order"`
	IsRequired         bool   `json:"is_required"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
	Condition          string `json:"condition,omitempty"`
}

// TaskInstance is a concrete, stateful occurrence of a template task bound
// to one entity. Instances are mutated only through engine transitions and
// are never deleted. Version backs the compare-and-swap save protocol.
type TaskInstance struct {
	ID              uint64     `json:"id"`
	TemplateID      uint64     `json:"template_id"`
	TaskTypeID      uint64     `json:"task_type_id"`
	Entity          EntityRef  `json:"entity"`
	SequenceOrder   int        `json:"sequence_order"`
	Status          TaskStatus `json:"status"`
	IsRequired      bool       `json:"is_required"`
	Instructions    string     `json:"instructions,omitempty"`
	AssignedTo      string     `json:"assigned_to,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CompletionNotes string     `json:"completion_notes,omitempty"`
	BlockedReason   string     `json:"blocked_reason,omitempty"`
	Version         uint64     `json:"version"`
	CreatedAt       int64      `json:"created_at"`
	UpdatedAt       int64      `json:"updated_at"`
}

// DependencyVerdict is the derived gating result for one task instance.
// It is computed on read and never persisted.
type DependencyVerdict struct {
	IsLocked                bool           `json:"is_locked"`
	HasWarning              bool           `json:"has_warning"`
	IncompletePrerequisites []TaskInstance `json:"incomplete_prerequisites"`
}
