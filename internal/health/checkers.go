package health

import (
	"context"
	"errors"

	"github.com/solenlabs/voiceloop/internal/session"
)

// SessionUp reports ready only while the supervisor holds a live session.
// During a redial the check fails, which keeps the process alive (liveness
// still passes) but signals that speech is not currently flowing.
func SessionUp(sv *session.Supervisor) Checker {
	return Checker{
		Name: "endpoint",
		Check: func(_ context.Context) error {
			if sv.Session() == nil {
				return errors.New("no live voice session")
			}
			return nil
		},
	}
}

// CaptureUp wraps a capture-device probe, typically a closure over the
// device's dropped-frame state.
func CaptureUp(probe func() error) Checker {
	return Checker{
		Name: "capture",
		Check: func(_ context.Context) error {
			return probe()
		},
	}
}
