package session

import "fmt"

// Phase is the top-level state of a recording session.
type Phase int

const (
	// Idle means no recording exists. Start is allowed.
	Idle Phase = iota

	// Recording means the microphone is held and the timer is running.
	Recording

	// Stopped means a recording is retained and the save/discard prompt
	// drives what happens next.
	Stopped

	// Saving means an upload is in flight.
	Saving

	// Saved means the last upload succeeded. The result is available.
	Saved

	// Error means the last attempt failed. A retained recording can be
	// retried; otherwise the session must be started over.
	Error
)

var phaseNames = [...]string{
	Idle:      "idle",
	Recording: "recording",
	Stopped:   "stopped",
	Saving:    "saving",
	Saved:     "saved",
	Error:     "error",
}

// String returns the lowercase name of the phase.
func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// MarshalText implements [encoding.TextMarshaler].
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (p *Phase) UnmarshalText(b []byte) error {
	for i, n := range phaseNames {
		if n == string(b) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown phase %q", b)
}
