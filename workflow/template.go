package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/servicehub/taskflow-engine/types"
)

// ValidateTemplate checks the template's structural invariants: at least one
// task, and sequence orders forming a dense 1-based range with no duplicates.
// Malformed templates are rejected, never silently renumbered.
func ValidateTemplate(tpl types.WorkflowTemplate) error {
	if tpl.ID == 0 {
		return errors.New("template ID cannot be zero")
	}
	if tpl.EntityKind == "" {
		return errors.New("template must declare an entity kind")
	}
	if len(tpl.Tasks) == 0 {
		return errors.New("template must have at least one task")
	}

	seen := make(map[int]bool, len(tpl.Tasks))
	for _, def := range tpl.Tasks {
		if def.TaskTypeID == 0 {
			return errors.New("template task type ID cannot be zero")
		}
		if seen[def.SequenceOrder] {
			return fmt.Errorf("%w: duplicate sequence order %d in template %d", ErrInvariantViolation, def.SequenceOrder, tpl.ID)
		}
		seen[def.SequenceOrder] = true
	}
	for i := 1; i <= len(tpl.Tasks); i++ {
		if !seen[i] {
			return fmt.Errorf("%w: sequence order %d missing in template %d", ErrInvariantViolation, i, tpl.ID)
		}
	}
	return nil
}

// ReorderTemplateTasks returns a copy of the template with its tasks
// arranged in the given task-type order and renumbered to a dense 1..N
// range. Every existing task type must appear exactly once in the new order.
func ReorderTemplateTasks(tpl types.WorkflowTemplate, orderedTaskTypeIDs []uint64) (types.WorkflowTemplate, error) {
	if len(orderedTaskTypeIDs) != len(tpl.Tasks) {
		return types.WorkflowTemplate{}, fmt.Errorf("reorder lists %d tasks, template has %d", len(orderedTaskTypeIDs), len(tpl.Tasks))
	}

	byType := make(map[uint64]types.TemplateTaskDef, len(tpl.Tasks))
	for _, def := range tpl.Tasks {
		if _, dup := byType[def.TaskTypeID]; dup {
			return types.WorkflowTemplate{}, fmt.Errorf("template %d has task type %d more than once", tpl.ID, def.TaskTypeID)
		}
		byType[def.TaskTypeID] = def
	}

	reordered := make([]types.TemplateTaskDef, 0, len(orderedTaskTypeIDs))
	for i, typeID := range orderedTaskTypeIDs {
		def, ok := byType[typeID]
		if !ok {
			return types.WorkflowTemplate{}, fmt.Errorf("task type %d is not part of template %d", typeID, tpl.ID)
		}
		delete(byType, typeID)
		def.SequenceOrder = i + 1
		reordered = append(reordered, def)
	}

	out := tpl
	out.Tasks = reordered
	return out, nil
}

// RegisterTemplate validates and persists a workflow template.
func (e *TaskEngine) RegisterTemplate(ctx context.Context, tpl types.WorkflowTemplate) error {
	if err := ValidateTemplate(tpl); err != nil {
		return err
	}
	return e.storage.SaveTemplate(ctx, tpl)
}

// GetTemplate retrieves a workflow template by ID.
func (e *TaskEngine) GetTemplate(ctx context.Context, id uint64) (*types.WorkflowTemplate, error) {
	tpl, err := e.storage.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// RegisterTaskType persists a task type definition.
func (e *TaskEngine) RegisterTaskType(ctx context.Context, tt types.TaskType) error {
	if tt.ID == 0 || tt.Name == "" {
		return errors.New("task type ID and name are required")
	}
	return e.storage.SaveTaskType(ctx, tt)
}

// ListTaskTypes returns task type definitions, optionally filtered to active
// ones.
func (e *TaskEngine) ListTaskTypes(ctx context.Context, activeOnly bool) ([]types.TaskType, error) {
	all, err := e.storage.ListTaskTypes(ctx)
	if err != nil {
		return nil, err
	}
	if !activeOnly {
		return all, nil
	}
	active := make([]types.TaskType, 0, len(all))
	for _, tt := range all {
		if tt.IsActive {
			active = append(active, tt)
		}
	}
	return active, nil
}
