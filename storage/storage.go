package storage

import (
	"context"
	"errors"

	"github.com/servicehub/taskflow-engine/types"
)

// Errors shared by all storage implementations.
var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrTaskNotFound     = errors.New("task instance not found")
	ErrDocumentNotFound = errors.New("stock document not found")

	// ErrVersionConflict is returned by a versioned save whose expected
	// version no longer matches the stored record. The caller lost a
	// concurrent-write race and must re-fetch before retrying.
	ErrVersionConflict = errors.New("version conflict")
)

// Storage defines persistence for templates, task types, task instances and
// stock documents. Task and document saves are compare-and-swap: the write
// succeeds only if the stored record still carries expectedVersion (0 meaning
// "create, must not exist"), and the persisted record carries
// expectedVersion+1.
type Storage interface {
	// SaveTaskType creates or replaces a task type definition.
	SaveTaskType(ctx context.Context, tt types.TaskType) error

	// ListTaskTypes returns all task type definitions.
	ListTaskTypes(ctx context.Context) ([]types.TaskType, error)

	// SaveTemplate creates or replaces a workflow template.
	SaveTemplate(ctx context.Context, tpl types.WorkflowTemplate) error

	// GetTemplate retrieves a workflow template by ID.
	GetTemplate(ctx context.Context, id uint64) (types.WorkflowTemplate, error)

	// SaveTask persists a task instance, conditioned on expectedVersion.
	SaveTask(ctx context.Context, task types.TaskInstance, expectedVersion uint64) error

	// GetTask retrieves a task instance by ID.
	GetTask(ctx context.Context, id uint64) (types.TaskInstance, error)

	// ListTasks returns all task instances bound to an entity, ordered by
	// ascending sequence order. This is the sibling snapshot the dependency
	// evaluator consumes.
	ListTasks(ctx context.Context, entity types.EntityRef) ([]types.TaskInstance, error)

	// SaveDocument persists a stock document, conditioned on expectedVersion.
	SaveDocument(ctx context.Context, doc types.StockDocument, expectedVersion uint64) error

	// GetDocument retrieves a stock document by ID.
	GetDocument(ctx context.Context, id uint64) (types.StockDocument, error)

	// DeleteDocument removes a stock document. Status preconditions are the
	// document engine's responsibility, not the store's.
	DeleteDocument(ctx context.Context, id uint64) error
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
