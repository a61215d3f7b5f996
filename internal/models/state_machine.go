package models

import (
	"fmt"
	"time"
)

// PositionState represents the current state of a position.
type PositionState string

const (
	// StateAwaitingOpenFill is the initial state: the opening order has
	// been submitted and legs are filling.
	StateAwaitingOpenFill PositionState = "awaiting_open_fill"
	// StateOpenFilled means every opening leg reached its full quantity.
	StateOpenFilled PositionState = "open_filled"
	// StateAwaitingCloseFill means a closing order is working.
	StateAwaitingCloseFill PositionState = "awaiting_close_fill"
	// StateClosed is terminal: both phases fully filled.
	StateClosed PositionState = "closed"
	// StateCancelled is terminal: the opening limit order expired with
	// zero fills. Reachable only from StateAwaitingOpenFill.
	StateCancelled PositionState = "cancelled"
)

// Transition conditions.
const (
	ConditionOpenFilled     = "open_filled"
	ConditionLimitExpired   = "limit_expired"
	ConditionCloseSubmitted = "close_submitted"
	ConditionCloseFilled    = "close_filled"
	ConditionCloseExpired   = "close_expired"
)

// StateTransition defines one valid state transition.
type StateTransition struct {
	From        PositionState
	To          PositionState
	Condition   string
	Description string
}

// ValidTransitions is the complete transition table. Partial fills never
// appear here: they increment fill counters without changing state.
var ValidTransitions = []StateTransition{
	{StateAwaitingOpenFill, StateOpenFilled, ConditionOpenFilled, "All opening legs filled to full quantity"},
	{StateAwaitingOpenFill, StateCancelled, ConditionLimitExpired, "Opening limit order expired with zero fills"},
	{StateOpenFilled, StateAwaitingCloseFill, ConditionCloseSubmitted, "Closing order submitted"},
	{StateAwaitingCloseFill, StateClosed, ConditionCloseFilled, "All closing legs filled, position finalized"},
	{StateAwaitingCloseFill, StateOpenFilled, ConditionCloseExpired, "Closing limit order expired unfilled, will retry"},
}

// StateMachine manages position state transitions.
type StateMachine struct {
	transitionTime  time.Time
	transitionCount map[PositionState]int
	currentState    PositionState
	previousState   PositionState
}

// NewStateMachine creates a state machine in StateAwaitingOpenFill, the
// state a position is born into when its opening order is submitted.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState:    StateAwaitingOpenFill,
		previousState:   StateAwaitingOpenFill,
		transitionTime:  time.Now().UTC(),
		transitionCount: make(map[PositionState]int),
	}
}

// GetCurrentState returns the current state.
func (sm *StateMachine) GetCurrentState() PositionState {
	return sm.currentState
}

// GetPreviousState returns the previous state.
func (sm *StateMachine) GetPreviousState() PositionState {
	return sm.previousState
}

// IsTerminal reports whether the machine reached Closed or Cancelled.
func (sm *StateMachine) IsTerminal() bool {
	return sm.currentState == StateClosed || sm.currentState == StateCancelled
}

// IsValidTransition checks if a transition is valid from the current state.
func (sm *StateMachine) IsValidTransition(to PositionState, condition string) error {
	for _, tr := range ValidTransitions {
		if tr.From == sm.currentState && tr.To == to && tr.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition %q",
		sm.currentState, to, condition)
}

// Transition moves to a new state after validating against the table.
func (sm *StateMachine) Transition(to PositionState, condition string) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = time.Now().UTC()
	sm.transitionCount[to]++
	return nil
}

// GetTransitionCount returns how many times the machine entered a state.
// The count for StateAwaitingCloseFill is the number of close attempts.
func (sm *StateMachine) GetTransitionCount(state PositionState) int {
	return sm.transitionCount[state]
}

// GetStateDescription returns a human-readable description of the current state.
func (sm *StateMachine) GetStateDescription() string {
	switch sm.currentState {
	case StateAwaitingOpenFill:
		return "Opening order working, waiting for all legs to fill"
	case StateOpenFilled:
		return "Position open, monitoring exit conditions"
	case StateAwaitingCloseFill:
		return "Closing order working, waiting for all legs to fill"
	case StateClosed:
		return "Position closed, P&L finalized"
	case StateCancelled:
		return "Opening order expired unfilled, position cancelled"
	default:
		return "Unknown state"
	}
}

// ValidateStateConsistency ensures the machine is internally coherent.
func (sm *StateMachine) ValidateStateConsistency() error {
	total := 0
	for _, count := range sm.transitionCount {
		total += count
	}

	if total == 0 {
		if sm.currentState != StateAwaitingOpenFill {
			return fmt.Errorf("no transitions recorded but state is %s", sm.currentState)
		}
		return nil
	}

	if sm.transitionTime.IsZero() {
		return fmt.Errorf("missing transition time: transitionTime is zero")
	}
	if sm.currentState == StateCancelled && sm.transitionCount[StateOpenFilled] > 0 {
		return fmt.Errorf("cancelled position has recorded open fills")
	}
	return nil
}

// Copy creates a deep copy of the StateMachine.
func (sm *StateMachine) Copy() *StateMachine {
	if sm == nil {
		return nil
	}

	newSM := &StateMachine{
		currentState:   sm.currentState,
		previousState:  sm.previousState,
		transitionTime: sm.transitionTime,
	}

	newSM.transitionCount = make(map[PositionState]int)
	for k, v := range sm.transitionCount {
		newSM.transitionCount[k] = v
	}

	return newSM
}
