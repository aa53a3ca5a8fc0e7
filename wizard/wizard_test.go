package wizard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filledState(t *testing.T, step Step) State {
	t.Helper()
	s := NewState()
	fields := map[string]string{
		"customer_name":     "Jan Novak",
		"customer_phone":    "+420123456789",
		"device_model":      "XPhone 12",
		"serial_number":     "SN-778",
		"issue_description": "does not charge",
	}
	for k, v := range fields {
		var err error
		s, err = Reduce(s, Action{Type: ActionSetField, Field: k, Value: v})
		require.NoError(t, err)
	}
	for s.Step != step {
		var err error
		s, err = Reduce(s, Action{Type: ActionNext})
		require.NoError(t, err)
	}
	return s
}

func TestReduce(t *testing.T) {
	t.Run("HappyPath", func(t *testing.T) {
		s := filledState(t, StepReview)
		s, err := Reduce(s, Action{Type: ActionSubmit})
		assert.NoError(t, err)
		assert.Equal(t, StepDone, s.Step)
		assert.True(t, s.Submitted)
	})

	t.Run("NextBlockedByMissingFields", func(t *testing.T) {
		s := NewState()
		_, err := Reduce(s, Action{Type: ActionNext})
		assert.ErrorIs(t, err, ErrMissingFields)
		assert.Contains(t, err.Error(), "customer_name")
	})

	t.Run("WhitespaceDoesNotCount", func(t *testing.T) {
		s := NewState()
		s, err := Reduce(s, Action{Type: ActionSetField, Field: "customer_name", Value: "   "})
		require.NoError(t, err)
		s, err = Reduce(s, Action{Type: ActionSetField, Field: "customer_phone", Value: "123"})
		require.NoError(t, err)
		_, err = Reduce(s, Action{Type: ActionNext})
		assert.ErrorIs(t, err, ErrMissingFields)
	})

	t.Run("BackFromFirstStep", func(t *testing.T) {
		_, err := Reduce(NewState(), Action{Type: ActionBack})
		assert.ErrorIs(t, err, ErrInvalidAction)
	})

	t.Run("BackAndForth", func(t *testing.T) {
		s := filledState(t, StepIssue)
		s, err := Reduce(s, Action{Type: ActionBack})
		assert.NoError(t, err)
		assert.Equal(t, StepDevice, s.Step)
		s, err = Reduce(s, Action{Type: ActionNext})
		assert.NoError(t, err)
		assert.Equal(t, StepIssue, s.Step)
	})

	t.Run("SubmitOnlyFromReview", func(t *testing.T) {
		_, err := Reduce(NewState(), Action{Type: ActionSubmit})
		assert.ErrorIs(t, err, ErrInvalidAction)
	})

	t.Run("NoActionsAfterSubmit", func(t *testing.T) {
		s := filledState(t, StepReview)
		s, err := Reduce(s, Action{Type: ActionSubmit})
		require.NoError(t, err)
		_, err = Reduce(s, Action{Type: ActionSetField, Field: "customer_name", Value: "x"})
		assert.ErrorIs(t, err, ErrInvalidAction)
	})

	t.Run("ResetAlwaysAllowed", func(t *testing.T) {
		s := filledState(t, StepReview)
		s, err := Reduce(s, Action{Type: ActionSubmit})
		require.NoError(t, err)
		s, err = Reduce(s, Action{Type: ActionReset})
		assert.NoError(t, err)
		assert.Equal(t, NewState(), s)
	})

	t.Run("InputStateNeverMutated", func(t *testing.T) {
		before := NewState()
		next, err := Reduce(before, Action{Type: ActionSetField, Field: "customer_name", Value: "Jan"})
		require.NoError(t, err)
		assert.Empty(t, before.Fields["customer_name"])
		assert.Equal(t, "Jan", next.Fields["customer_name"])
	})

	t.Run("UnknownAction", func(t *testing.T) {
		_, err := Reduce(NewState(), Action{Type: "teleport"})
		assert.ErrorIs(t, err, ErrInvalidAction)
	})
}

func TestMissingFields(t *testing.T) {
	s := NewState()
	assert.Equal(t, []string{"customer_name", "customer_phone"}, MissingFields(s))

	s.Fields["customer_name"] = "Jan"
	assert.Equal(t, []string{"customer_phone"}, MissingFields(s))

	// Review has no required fields.
	s.Step = StepReview
	assert.Empty(t, MissingFields(s))
}
