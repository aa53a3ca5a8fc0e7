package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/servicehub/taskflow-engine/events"
	"github.com/servicehub/taskflow-engine/rules"
	"github.com/servicehub/taskflow-engine/storage"
	"github.com/servicehub/taskflow-engine/types"
)

// TaskEngine drives the task instance state machine. Every transition reads
// the current record from storage, validates the status precondition,
// re-evaluates dependencies where required, and commits with a
// compare-and-swap save. Sibling status is never cached across a transition
// boundary.
type TaskEngine struct {
	storage      storage.Storage
	eventBus     *events.Bus
	evaluator    rules.Evaluator
	attachments  AttachmentSource
	requirements RequirementSource
	generate     generator.Generator
}

// EngineOption configures a TaskEngine.
type EngineOption func(*TaskEngine)

// WithAttachmentSource wires the attachment collaborator consumed by
// photo-requiring completions.
func WithAttachmentSource(src AttachmentSource) EngineOption {
	return func(e *TaskEngine) {
		e.attachments = src
	}
}

// WithRequirementSource wires the requirement-flag collaborator consulted by
// Complete.
func WithRequirementSource(src RequirementSource) EngineOption {
	return func(e *TaskEngine) {
		e.requirements = src
	}
}

// WithEventBus replaces the default event bus.
func WithEventBus(bus *events.Bus) EngineOption {
	return func(e *TaskEngine) {
		if bus != nil {
			e.eventBus = bus
		}
	}
}

// NewTaskEngine creates a TaskEngine with the given ID generator and
// storage. A nil store falls back to in-memory storage; a nil evaluator
// falls back to the expr evaluator.
func NewTaskEngine(generate generator.Generator, store storage.Storage, evaluator rules.Evaluator, opts ...EngineOption) (*TaskEngine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	if evaluator == nil {
		evaluator = rules.NewExprEvaluator()
	}

	e := &TaskEngine{
		storage:   store,
		eventBus:  events.NewBus(),
		evaluator: evaluator,
		generate:  generate,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SubscribeEvent subscribes an event handler to a specific event type.
func (e *TaskEngine) SubscribeEvent(eventType string, handler events.Handler) {
	e.eventBus.Subscribe(eventType, handler)
}

// Stop gracefully stops the engine's event bus.
func (e *TaskEngine) Stop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		e.eventBus.Stop()
		return nil
	}
}

// publishEvent publishes an event asynchronously to the event bus.
func (e *TaskEngine) publishEvent(ctx context.Context, eventType string, entity types.EntityRef, data map[string]interface{}) {
	go e.eventBus.Publish(ctx, events.Event{
		Type:   eventType,
		Entity: entity,
		Data:   data,
	})
}

// AttachWorkflow instantiates the template's tasks against an entity. Task
// defs carrying an applicability condition are evaluated against the entity
// context and skipped when false. Created instances start pending at
// version 1.
func (e *TaskEngine) AttachWorkflow(ctx context.Context, templateID uint64, entity types.EntityRef, entityContext map[string]interface{}) ([]types.TaskInstance, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if entity.IsZero() {
		return nil, errors.New("entity ref is required")
	}

	tpl, err := e.storage.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !tpl.IsActive {
		return nil, fmt.Errorf("%w: template %d", ErrTemplateInactive, templateID)
	}
	if tpl.EntityKind != entity.Kind {
		return nil, fmt.Errorf("template %d targets %s entities, got %s", templateID, tpl.EntityKind, entity.Kind)
	}
	if err := ValidateTemplate(tpl); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	instances := make([]types.TaskInstance, 0, len(tpl.Tasks))
	for _, def := range tpl.Tasks {
		if def.Condition != "" {
			applies, err := e.evaluator.Evaluate(def.Condition, rules.EntityContext(entity, entityContext))
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate condition '%s': %w", def.Condition, err)
			}
			if !applies {
				continue
			}
		}

		id, err := e.generate.NextID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate ID: %w", err)
		}
		task := types.TaskInstance{
			ID:            id,
			TemplateID:    tpl.ID,
			TaskTypeID:    def.TaskTypeID,
			Entity:        entity,
			SequenceOrder: def.SequenceOrder,
			Status:        types.TaskPending,
			IsRequired:    def.IsRequired,
			Instructions:  def.CustomInstructions,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.storage.SaveTask(ctx, task, 0); err != nil {
			return nil, err
		}
		task.Version = 1
		instances = append(instances, task)
	}

	e.publishEvent(ctx, events.WorkflowAttached, entity, map[string]interface{}{
		"template_id": tpl.ID,
		"task_count":  len(instances),
	})
	return instances, nil
}

// GetTask retrieves a task instance by ID.
func (e *TaskEngine) GetTask(ctx context.Context, taskID uint64) (*types.TaskInstance, error) {
	task, err := e.storage.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Evaluate computes the dependency verdict for a task from a fresh sibling
// snapshot. This is the read-side evaluation the UI renders; Complete runs
// the same computation again at commit time.
func (e *TaskEngine) Evaluate(ctx context.Context, taskID uint64) (types.DependencyVerdict, error) {
	task, err := e.storage.GetTask(ctx, taskID)
	if err != nil {
		return types.DependencyVerdict{}, err
	}
	return e.evaluate(ctx, task)
}

func (e *TaskEngine) evaluate(ctx context.Context, task types.TaskInstance) (types.DependencyVerdict, error) {
	tpl, err := e.storage.GetTemplate(ctx, task.TemplateID)
	if err != nil {
		return types.DependencyVerdict{}, err
	}
	siblings, err := e.storage.ListTasks(ctx, task.Entity)
	if err != nil {
		return types.DependencyVerdict{}, err
	}
	return EvaluateDependencies(task, siblings, tpl.EnforceSequence)
}

// Start moves a pending or blocked task into in_progress and stamps
// started_at.
func (e *TaskEngine) Start(ctx context.Context, taskID uint64) (*types.TaskInstance, error) {
	task, err := e.storage.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != types.TaskPending && task.Status != types.TaskBlocked {
		return nil, fmt.Errorf("%w: cannot start task %d in status %s", ErrInvalidTransition, taskID, task.Status)
	}

	now := time.Now()
	task.Status = types.TaskInProgress
	task.StartedAt = &now
	task.BlockedReason = ""
	task.UpdatedAt = now.UnixMilli()

	if err := e.commit(ctx, &task); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, events.TaskStarted, task.Entity, map[string]interface{}{
		"task_id": task.ID,
		"status":  string(task.Status),
	})
	return &task, nil
}

// Complete finishes an in-progress task. Dependencies are re-evaluated at
// commit time from a fresh sibling snapshot; client-supplied lock flags are
// never trusted. Notes and photo requirements come from the requirement
// collaborator, and a photo requirement additionally gates on no attachment
// being mid-upload.
func (e *TaskEngine) Complete(ctx context.Context, taskID uint64, notes string) (*types.TaskInstance, error) {
	task, err := e.storage.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != types.TaskInProgress {
		return nil, fmt.Errorf("%w: cannot complete task %d in status %s", ErrInvalidTransition, taskID, task.Status)
	}

	verdict, err := e.evaluate(ctx, task)
	if err != nil {
		return nil, err
	}
	if verdict.IsLocked {
		return nil, fmt.Errorf("%w: task %d has %d incomplete prerequisites", ErrTaskLocked, taskID, len(verdict.IncompletePrerequisites))
	}

	reqs, err := e.taskRequirements(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if reqs.RequiresNotes && strings.TrimSpace(notes) == "" {
		return nil, fmt.Errorf("%w: completion notes are required for task %d", ErrValidationFailed, taskID)
	}
	if reqs.RequiresPhoto {
		if err := e.checkPhotoRequirement(ctx, taskID); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	task.Status = types.TaskCompleted
	task.CompletedAt = &now
	task.CompletionNotes = notes
	task.UpdatedAt = now.UnixMilli()

	if err := e.commit(ctx, &task); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, events.TaskCompleted, task.Entity, map[string]interface{}{
		"task_id":         task.ID,
		"status":          string(task.Status),
		"out_of_sequence": verdict.HasWarning,
	})
	return &task, nil
}

// Block marks an in-progress task as blocked with a mandatory reason.
func (e *TaskEngine) Block(ctx context.Context, taskID uint64, reason string) (*types.TaskInstance, error) {
	task, err := e.storage.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != types.TaskInProgress {
		return nil, fmt.Errorf("%w: cannot block task %d in status %s", ErrInvalidTransition, taskID, task.Status)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: blocked reason is required", ErrValidationFailed)
	}

	task.Status = types.TaskBlocked
	task.BlockedReason = reason
	task.UpdatedAt = time.Now().UnixMilli()

	if err := e.commit(ctx, &task); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, events.TaskBlocked, task.Entity, map[string]interface{}{
		"task_id": task.ID,
		"status":  string(task.Status),
		"reason":  reason,
	})
	return &task, nil
}

// Unblock resumes a blocked task. The task re-enters in_progress, not
// pending.
func (e *TaskEngine) Unblock(ctx context.Context, taskID uint64) (*types.TaskInstance, error) {
	task, err := e.storage.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != types.TaskBlocked {
		return nil, fmt.Errorf("%w: cannot unblock task %d in status %s", ErrInvalidTransition, taskID, task.Status)
	}

	task.Status = types.TaskInProgress
	task.BlockedReason = ""
	task.UpdatedAt = time.Now().UnixMilli()

	if err := e.commit(ctx, &task); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, events.TaskUnblocked, task.Entity, map[string]interface{}{
		"task_id": task.ID,
		"status":  string(task.Status),
	})
	return &task, nil
}

// Skip is a privileged override that retires a task without completing it.
// It requires a non-empty authorizing actor and reason, and refuses tasks
// already in a terminal state. Dependent tasks treat skipped like completed.
func (e *TaskEngine) Skip(ctx context.Context, taskID uint64, actor, reason string) (*types.TaskInstance, error) {
	if strings.TrimSpace(actor) == "" || strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: skip needs an authorizing actor and reason", ErrOverrideRequired)
	}

	task, err := e.storage.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot skip task %d in status %s", ErrInvalidTransition, taskID, task.Status)
	}

	task.Status = types.TaskSkipped
	task.CompletionNotes = fmt.Sprintf("skipped by %s: %s", actor, reason)
	task.BlockedReason = ""
	task.UpdatedAt = time.Now().UnixMilli()

	if err := e.commit(ctx, &task); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, events.TaskSkipped, task.Entity, map[string]interface{}{
		"task_id": task.ID,
		"status":  string(task.Status),
		"actor":   actor,
		"reason":  reason,
	})
	return &task, nil
}

// commit saves the mutated task conditioned on the version it was read at,
// then reflects the new version on the local copy. A failed save leaves the
// stored record untouched.
func (e *TaskEngine) commit(ctx context.Context, task *types.TaskInstance) error {
	if err := e.storage.SaveTask(ctx, *task, task.Version); err != nil {
		return err
	}
	task.Version++
	return nil
}

func (e *TaskEngine) taskRequirements(ctx context.Context, taskID uint64) (TaskRequirements, error) {
	if e.requirements == nil {
		return TaskRequirements{}, nil
	}
	return e.requirements.TaskRequirements(ctx, taskID)
}

// checkPhotoRequirement enforces the requiresPhoto gate: at least one
// uploaded attachment, and none still uploading.
func (e *TaskEngine) checkPhotoRequirement(ctx context.Context, taskID uint64) error {
	if e.attachments == nil {
		return fmt.Errorf("%w: task %d requires a photo but no attachment source is configured", ErrValidationFailed, taskID)
	}
	attachments, err := e.attachments.ListAttachments(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to list attachments for task %d: %w", taskID, err)
	}

	uploaded := 0
	for _, a := range attachments {
		switch a.Status {
		case AttachmentUploading:
			return fmt.Errorf("%w: attachment %d for task %d", ErrAttachmentsPending, a.ID, taskID)
		case AttachmentUploaded:
			uploaded++
		}
	}
	if uploaded == 0 {
		return fmt.Errorf("%w: task %d requires at least one uploaded photo", ErrValidationFailed, taskID)
	}
	return nil
}
