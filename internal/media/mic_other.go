//go:build !linux

package media

import (
	"errors"
	"fmt"

	"github.com/dkeye/Walkie/internal/core"
)

var ErrNoMicrophone = errors.New("microphone capture is only available on linux")

// MicSource has no driver on this platform; use ToneSource instead.
type MicSource struct{}

func (MicSource) Acquire() (core.CaptureHandle, error) {
	return nil, fmt.Errorf("%w: %w", core.ErrMediaAccess, ErrNoMicrophone)
}
