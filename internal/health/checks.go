package health

import (
	"context"
	"fmt"

	"github.com/christophersiem/little-moments/pkg/audio"
)

// Pinger is implemented by the memories client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// APIChecker reports whether the memories service answers.
func APIChecker(p Pinger) Checker {
	return Checker{
		Name:  "api",
		Check: p.Ping,
	}
}

// Busy reports whether the microphone is currently held by a recording.
type Busy func() bool

// MicrophoneChecker opens and immediately releases mic. While busy reports
// true the check passes without touching the device, so probing never
// interrupts a recording.
func MicrophoneChecker(mic audio.Microphone, busy Busy) Checker {
	return Checker{
		Name: "microphone",
		Check: func(ctx context.Context) error {
			if busy != nil && busy() {
				return nil
			}
			s, err := mic.Open(ctx)
			if err != nil {
				return err
			}
			go audio.Drain(s.Chunks())
			if err := s.Close(); err != nil {
				return fmt.Errorf("health: release microphone: %w", err)
			}
			return nil
		},
	}
}
