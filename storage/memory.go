package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/servicehub/taskflow-engine/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
type MemoryStorage struct {
	taskTypes     map[uint64]types.TaskType
	templates     map[uint64]types.WorkflowTemplate
	tasks         map[uint64]types.TaskInstance
	documents     map[uint64]types.StockDocument
	tasksByEntity map[types.EntityRef][]uint64
	mu            sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		taskTypes:     make(map[uint64]types.TaskType),
		templates:     make(map[uint64]types.WorkflowTemplate),
		tasks:         make(map[uint64]types.TaskInstance),
		documents:     make(map[uint64]types.StockDocument),
		tasksByEntity: make(map[types.EntityRef][]uint64),
	}
}

// getItem is a standalone generic helper function.
func getItem[T any](ctx context.Context, mu *sync.RWMutex, m map[uint64]T, id uint64, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		mu.RLock()
		defer mu.RUnlock()
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%d", errNotFound, id)
		}
		return item, nil
	})
}

// SaveTaskType saves a task type to memory.
func (s *MemoryStorage) SaveTaskType(ctx context.Context, tt types.TaskType) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.taskTypes[tt.ID] = tt
		return nil
	})
}

// ListTaskTypes returns all task types, ordered by ID.
func (s *MemoryStorage) ListTaskTypes(ctx context.Context) ([]types.TaskType, error) {
	return withContext(ctx, func() ([]types.TaskType, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]types.TaskType, 0, len(s.taskTypes))
		for _, tt := range s.taskTypes {
			out = append(out, tt)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
}

// SaveTemplate saves a workflow template to memory.
func (s *MemoryStorage) SaveTemplate(ctx context.Context, tpl types.WorkflowTemplate) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.templates[tpl.ID] = tpl
		return nil
	})
}

// GetTemplate retrieves a workflow template from memory.
func (s *MemoryStorage) GetTemplate(ctx context.Context, id uint64) (types.WorkflowTemplate, error) {
	return getItem(ctx, &s.mu, s.templates, id, ErrTemplateNotFound)
}

// SaveTask persists a task instance with a compare-and-swap version check.
func (s *MemoryStorage) SaveTask(ctx context.Context, task types.TaskInstance, expectedVersion uint64) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		stored, exists := s.tasks[task.ID]
		if err := checkVersion(exists, stored.Version, expectedVersion, "task", task.ID); err != nil {
			return err
		}

		task.Version = expectedVersion + 1
		s.tasks[task.ID] = task
		if !exists {
			s.tasksByEntity[task.Entity] = append(s.tasksByEntity[task.Entity], task.ID)
		}
		return nil
	})
}

// GetTask retrieves a task instance from memory.
func (s *MemoryStorage) GetTask(ctx context.Context, id uint64) (types.TaskInstance, error) {
	return getItem(ctx, &s.mu, s.tasks, id, ErrTaskNotFound)
}

// ListTasks returns the entity's task instances ordered by sequence order.
func (s *MemoryStorage) ListTasks(ctx context.Context, entity types.EntityRef) ([]types.TaskInstance, error) {
	return withContext(ctx, func() ([]types.TaskInstance, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		ids := s.tasksByEntity[entity]
		out := make([]types.TaskInstance, 0, len(ids))
		for _, id := range ids {
			out = append(out, s.tasks[id])
		}
		sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
		return out, nil
	})
}

// SaveDocument persists a stock document with a compare-and-swap version check.
func (s *MemoryStorage) SaveDocument(ctx context.Context, doc types.StockDocument, expectedVersion uint64) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		stored, exists := s.documents[doc.ID]
		if err := checkVersion(exists, stored.Version, expectedVersion, "document", doc.ID); err != nil {
			return err
		}

		doc.Version = expectedVersion + 1
		s.documents[doc.ID] = doc
		return nil
	})
}

// GetDocument retrieves a stock document from memory.
func (s *MemoryStorage) GetDocument(ctx context.Context, id uint64) (types.StockDocument, error) {
	return getItem(ctx, &s.mu, s.documents, id, ErrDocumentNotFound)
}

// DeleteDocument removes a stock document from memory.
func (s *MemoryStorage) DeleteDocument(ctx context.Context, id uint64) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.documents[id]; !ok {
			return fmt.Errorf("%w: id=%d", ErrDocumentNotFound, id)
		}
		delete(s.documents, id)
		return nil
	})
}

// checkVersion enforces the CAS protocol shared by task and document saves.
func checkVersion(exists bool, storedVersion, expectedVersion uint64, kind string, id uint64) error {
	if !exists {
		if expectedVersion != 0 {
			return fmt.Errorf("%w: %s %d does not exist, expected version %d", ErrVersionConflict, kind, id, expectedVersion)
		}
		return nil
	}
	if storedVersion != expectedVersion {
		return fmt.Errorf("%w: %s %d is at version %d, expected %d", ErrVersionConflict, kind, id, storedVersion, expectedVersion)
	}
	return nil
}
