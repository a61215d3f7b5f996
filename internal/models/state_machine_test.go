package models

import (
	"testing"
)

func TestStateMachine_BasicTransitions(t *testing.T) {
	sm := NewStateMachine()

	if sm.GetCurrentState() != StateAwaitingOpenFill {
		t.Errorf("Initial state should be StateAwaitingOpenFill, got %s", sm.GetCurrentState())
	}

	err := sm.Transition(StateOpenFilled, ConditionOpenFilled)
	if err != nil {
		t.Errorf("Valid transition failed: %v", err)
	}

	if sm.GetCurrentState() != StateOpenFilled {
		t.Errorf("State should be StateOpenFilled, got %s", sm.GetCurrentState())
	}

	if sm.GetPreviousState() != StateAwaitingOpenFill {
		t.Errorf("Previous state should be StateAwaitingOpenFill, got %s", sm.GetPreviousState())
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name      string
		setup     []StateTransition
		to        PositionState
		condition string
	}{
		{
			name:      "cannot close before open fills",
			to:        StateClosed,
			condition: ConditionCloseFilled,
		},
		{
			name:      "cannot skip to awaiting close",
			to:        StateAwaitingCloseFill,
			condition: ConditionCloseSubmitted,
		},
		{
			name:      "wrong condition rejected",
			to:        StateOpenFilled,
			condition: "bogus",
		},
		{
			name: "cancel only from awaiting open fill",
			setup: []StateTransition{
				{To: StateOpenFilled, Condition: ConditionOpenFilled},
			},
			to:        StateCancelled,
			condition: ConditionLimitExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine()
			for _, s := range tt.setup {
				if err := sm.Transition(s.To, s.Condition); err != nil {
					t.Fatalf("setup transition failed: %v", err)
				}
			}
			before := sm.GetCurrentState()
			if err := sm.Transition(tt.to, tt.condition); err == nil {
				t.Errorf("Transition to %s with %q should fail", tt.to, tt.condition)
			}
			if sm.GetCurrentState() != before {
				t.Errorf("State changed after failed transition: %s -> %s", before, sm.GetCurrentState())
			}
		})
	}
}

func TestStateMachine_FullLifecycle(t *testing.T) {
	sm := NewStateMachine()

	transitions := []struct {
		to        PositionState
		condition string
	}{
		{StateOpenFilled, ConditionOpenFilled},
		{StateAwaitingCloseFill, ConditionCloseSubmitted},
		{StateClosed, ConditionCloseFilled},
	}

	for _, tr := range transitions {
		if err := sm.Transition(tr.to, tr.condition); err != nil {
			t.Fatalf("Transition to %s failed: %v", tr.to, err)
		}
	}

	if !sm.IsTerminal() {
		t.Error("Closed position should be terminal")
	}
	if err := sm.ValidateStateConsistency(); err != nil {
		t.Errorf("Consistent machine reported error: %v", err)
	}
}

func TestStateMachine_CloseRetryLoop(t *testing.T) {
	sm := NewStateMachine()

	if err := sm.Transition(StateOpenFilled, ConditionOpenFilled); err != nil {
		t.Fatalf("open fill: %v", err)
	}

	// A close limit order may expire unfilled and be retried later.
	for i := 0; i < 3; i++ {
		if err := sm.Transition(StateAwaitingCloseFill, ConditionCloseSubmitted); err != nil {
			t.Fatalf("close submit %d: %v", i, err)
		}
		if err := sm.Transition(StateOpenFilled, ConditionCloseExpired); err != nil {
			t.Fatalf("close expire %d: %v", i, err)
		}
	}

	if got := sm.GetTransitionCount(StateAwaitingCloseFill); got != 3 {
		t.Errorf("close attempts = %d, want 3", got)
	}
	if sm.IsTerminal() {
		t.Error("Position should not be terminal while retrying closes")
	}
}

func TestStateMachine_Cancelled(t *testing.T) {
	sm := NewStateMachine()

	if err := sm.Transition(StateCancelled, ConditionLimitExpired); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !sm.IsTerminal() {
		t.Error("Cancelled position should be terminal")
	}
	if err := sm.ValidateStateConsistency(); err != nil {
		t.Errorf("Consistent machine reported error: %v", err)
	}
}

func TestStateMachine_Copy(t *testing.T) {
	sm := NewStateMachine()
	if err := sm.Transition(StateOpenFilled, ConditionOpenFilled); err != nil {
		t.Fatalf("transition: %v", err)
	}

	cp := sm.Copy()
	if cp.GetCurrentState() != sm.GetCurrentState() {
		t.Errorf("Copy state = %s, want %s", cp.GetCurrentState(), sm.GetCurrentState())
	}

	// Mutating the copy must not affect the original.
	if err := cp.Transition(StateAwaitingCloseFill, ConditionCloseSubmitted); err != nil {
		t.Fatalf("copy transition: %v", err)
	}
	if sm.GetCurrentState() != StateOpenFilled {
		t.Errorf("Original mutated by copy transition: %s", sm.GetCurrentState())
	}
}
