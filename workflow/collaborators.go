package workflow

import "context"

// AttachmentStatus is the upload state reported by the attachment
// collaborator. The engine only reads aggregate status; uploads themselves
// are managed elsewhere.
type AttachmentStatus string

const (
	AttachmentIdle      AttachmentStatus = "idle"
	AttachmentUploading AttachmentStatus = "uploading"
	AttachmentUploaded  AttachmentStatus = "uploaded"
	AttachmentError     AttachmentStatus = "error"
)

// Attachment is one attachment tied to a task's completion requirement.
type Attachment struct {
	ID     uint64
	Status AttachmentStatus
}

// AttachmentSource exposes the attachments recorded for a task.
type AttachmentSource interface {
	ListAttachments(ctx context.Context, taskID uint64) ([]Attachment, error)
}

// TaskRequirements are the completion requirements configured for a task,
// sourced from task-type/category configuration.
type TaskRequirements struct {
	RequiresNotes bool
	RequiresPhoto bool
}

// RequirementSource resolves the completion requirements for a task.
type RequirementSource interface {
	TaskRequirements(ctx context.Context, taskID uint64) (TaskRequirements, error)
}
