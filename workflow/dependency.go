package workflow

import (
	"fmt"

	"github.com/servicehub/taskflow-engine/types"
)

// EvaluateDependencies computes the gating verdict for one task instance
// from a snapshot of its siblings (all instances bound to the same entity;
// the slice may include the task itself, which is ignored by ID).
//
// Prerequisites are siblings with a smaller sequence order. If all of them
// are completed or skipped the task is free. Otherwise strict mode
// (enforceSequence=true) locks the task, and flexible mode leaves it
// actionable but flagged with a warning.
//
// The function is pure: it never mutates its inputs, and identical snapshots
// yield identical verdicts. Duplicate sequence orders violate a template
// invariant and are reported rather than resolved.
func EvaluateDependencies(task types.TaskInstance, siblings []types.TaskInstance, enforceSequence bool) (types.DependencyVerdict, error) {
	seen := make(map[int]uint64, len(siblings)+1)
	seen[task.SequenceOrder] = task.ID

	var incomplete []types.TaskInstance
	for _, sib := range siblings {
		if sib.ID == task.ID {
			continue
		}
		if otherID, dup := seen[sib.SequenceOrder]; dup {
			return types.DependencyVerdict{}, fmt.Errorf(
				"%w: tasks %d and %d share sequence order %d on %s/%d",
				ErrInvariantViolation, otherID, sib.ID, sib.SequenceOrder, task.Entity.Kind, task.Entity.ID)
		}
		seen[sib.SequenceOrder] = sib.ID

		if sib.SequenceOrder >= task.SequenceOrder {
			continue
		}
		if sib.Status != types.TaskCompleted && sib.Status != types.TaskSkipped {
			incomplete = append(incomplete, sib)
		}
	}

	if len(incomplete) == 0 {
		return types.DependencyVerdict{IncompletePrerequisites: []types.TaskInstance{}}, nil
	}
	if enforceSequence {
		return types.DependencyVerdict{IsLocked: true, IncompletePrerequisites: incomplete}, nil
	}
	return types.DependencyVerdict{HasWarning: true, IncompletePrerequisites: incomplete}, nil
}
