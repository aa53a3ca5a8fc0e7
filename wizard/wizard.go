// Package wizard models the public service-request intake form as an
// explicit reducer: a state value plus an action produces the next state.
// The state is owned by whoever holds it (one request or session), with no
// process-wide singleton.
package wizard

import (
	"errors"
	"fmt"
	"strings"
)

// Step is one page of the intake wizard.
type Step string

const (
	StepCustomer Step = "customer"
	StepDevice   Step = "device"
	StepIssue    Step = "issue"
	StepReview   Step = "review"
	StepDone     Step = "done"
)

// ActionType enumerates the reducer's actions.
type ActionType string

const (
	ActionSetField ActionType = "set_field"
	ActionNext     ActionType = "next"
	ActionBack     ActionType = "back"
	ActionSubmit   ActionType = "submit"
	ActionReset    ActionType = "reset"
)

// Action is one input to Reduce.
type Action struct {
	Type  ActionType
	Field string
	Value string
}

// State is the wizard's full state. Treat it as a value: Reduce never
// mutates its input.
type State struct {
	Step      Step
	Fields    map[string]string
	Submitted bool
}

var (
	// ErrInvalidAction means the action is not valid for the current step.
	ErrInvalidAction = errors.New("invalid wizard action")
	// ErrMissingFields means the current step's required fields are not all
	// filled.
	ErrMissingFields = errors.New("required fields missing")
)

// requiredFields lists what each step must collect before advancing.
var requiredFields = map[Step][]string{
	StepCustomer: {"customer_name", "customer_phone"},
	StepDevice:   {"device_model", "serial_number"},
	StepIssue:    {"issue_description"},
}

// stepOrder is the forward page sequence.
var stepOrder = []Step{StepCustomer, StepDevice, StepIssue, StepReview}

// NewState returns the wizard's initial state.
func NewState() State {
	return State{Step: StepCustomer, Fields: map[string]string{}}
}

// Reduce applies one action to the state and returns the next state. The
// input state is never modified; on error it is returned unchanged.
func Reduce(s State, a Action) (State, error) {
	if s.Submitted && a.Type != ActionReset {
		return s, fmt.Errorf("%w: wizard already submitted", ErrInvalidAction)
	}

	switch a.Type {
	case ActionSetField:
		if a.Field == "" {
			return s, fmt.Errorf("%w: set_field needs a field name", ErrInvalidAction)
		}
		next := clone(s)
		next.Fields[a.Field] = a.Value
		return next, nil

	case ActionNext:
		idx := stepIndex(s.Step)
		if idx < 0 || s.Step == StepReview {
			return s, fmt.Errorf("%w: cannot advance from %s", ErrInvalidAction, s.Step)
		}
		if missing := missingFields(s); len(missing) > 0 {
			return s, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
		}
		next := clone(s)
		next.Step = stepOrder[idx+1]
		return next, nil

	case ActionBack:
		idx := stepIndex(s.Step)
		if idx <= 0 {
			return s, fmt.Errorf("%w: cannot go back from %s", ErrInvalidAction, s.Step)
		}
		next := clone(s)
		next.Step = stepOrder[idx-1]
		return next, nil

	case ActionSubmit:
		if s.Step != StepReview {
			return s, fmt.Errorf("%w: submit is only valid from review", ErrInvalidAction)
		}
		next := clone(s)
		next.Step = StepDone
		next.Submitted = true
		return next, nil

	case ActionReset:
		return NewState(), nil
	}
	return s, fmt.Errorf("%w: unknown action %q", ErrInvalidAction, a.Type)
}

// MissingFields reports which of the current step's required fields are
// still empty, for inline form feedback.
func MissingFields(s State) []string {
	return missingFields(s)
}

func missingFields(s State) []string {
	var missing []string
	for _, field := range requiredFields[s.Step] {
		if strings.TrimSpace(s.Fields[field]) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

func stepIndex(step Step) int {
	for i, s := range stepOrder {
		if s == step {
			return i
		}
	}
	return -1
}

func clone(s State) State {
	fields := make(map[string]string, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	s.Fields = fields
	return s
}
