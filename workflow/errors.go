package workflow

import "errors"

// Standard error definitions. Callers match with errors.Is; each kind maps to
// a distinct user-facing message in the web layer.
var (
	// ErrInvalidTransition means the task's current status does not permit
	// the requested operation.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTaskLocked means strict sequencing blocks completion until all
	// lower-sequence siblings are completed or skipped.
	ErrTaskLocked = errors.New("task locked by incomplete prerequisites")

	// ErrValidationFailed means a completion requirement (notes, photo) was
	// not satisfied.
	ErrValidationFailed = errors.New("completion validation failed")

	// ErrAttachmentsPending means a required attachment is still uploading.
	ErrAttachmentsPending = errors.New("attachments still uploading")

	// ErrInvariantViolation means a template is malformed: duplicate or
	// non-contiguous sequence orders.
	ErrInvariantViolation = errors.New("template invariant violation")

	// ErrOverrideRequired means a privileged operation was attempted without
	// an authorizing actor.
	ErrOverrideRequired = errors.New("administrative override required")

	// ErrTemplateInactive means the template cannot be attached to new
	// entities.
	ErrTemplateInactive = errors.New("template is not active")
)
