// Package decision implements the post-stop save/discard prompt as a pure
// transition function.
//
// The prompt has three states. A finished recording always opens the choice;
// saving closes it and asks the caller to upload; discarding goes through an
// explicit confirmation step before the caller is told to drop local audio.
// [Transition] is total: any state/event pair without a defined transition
// returns the unchanged state and no side-effect flags.
package decision

import "fmt"

// State is the visible state of the stop prompt.
type State int

const (
	// Hidden means no prompt is shown.
	Hidden State = iota

	// Choice offers save or discard.
	Choice

	// ConfirmDiscard asks the user to confirm throwing the recording away.
	ConfirmDiscard
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case Choice:
		return "choice"
	case ConfirmDiscard:
		return "confirm-discard"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event is a user or recorder input to the prompt.
type Event int

const (
	RecordingStopped Event = iota
	SaveSelected
	DiscardSelected
	DiscardCanceled
	DiscardConfirmed

	// ChoiceDismissed closes the choice without deciding. It has no
	// transition of its own; callers hide the prompt and may reopen it by
	// feeding RecordingStopped again.
	ChoiceDismissed
)

var eventNames = [...]string{
	RecordingStopped: "recording-stopped",
	SaveSelected:     "save-selected",
	DiscardSelected:  "discard-selected",
	DiscardCanceled:  "discard-canceled",
	DiscardConfirmed: "discard-confirmed",
	ChoiceDismissed:  "choice-dismissed",
}

// String returns the wire name of the event.
func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// ParseEvent maps a wire name back to its [Event].
func ParseEvent(name string) (Event, error) {
	for i, n := range eventNames {
		if n == name {
			return Event(i), nil
		}
	}
	return 0, fmt.Errorf("decision: unknown event %q", name)
}

// Result is the outcome of a single [Transition].
//
// ShouldUpload and ShouldDeleteLocalAudio are never both true.
type Result struct {
	State                  State
	ShouldUpload           bool
	ShouldDeleteLocalAudio bool
}

// Transition returns the next prompt state for event e applied in state s.
func Transition(s State, e Event) Result {
	if e == RecordingStopped {
		return Result{State: Choice}
	}

	switch s {
	case Choice:
		switch e {
		case SaveSelected:
			return Result{State: Hidden, ShouldUpload: true}
		case DiscardSelected:
			return Result{State: ConfirmDiscard}
		}
	case ConfirmDiscard:
		switch e {
		case DiscardCanceled:
			return Result{State: Choice}
		case DiscardConfirmed:
			return Result{State: Hidden, ShouldDeleteLocalAudio: true}
		}
	}

	return Result{State: s}
}
