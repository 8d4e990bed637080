package media

import (
	"io"

	"github.com/dkeye/Walkie/internal/domain"
	"github.com/rs/zerolog/log"
)

// BellNotifier logs cue sounds and rings the terminal bell.
type BellNotifier struct {
	Out io.Writer
}

func (n BellNotifier) Play(s domain.Sound) {
	log.Info().Str("module", "media.notifier").Str("sound", string(s)).Msg("cue")
	if n.Out == nil {
		return
	}
	if _, err := io.WriteString(n.Out, bell(s)); err != nil {
		log.Debug().Err(err).Str("module", "media.notifier").Msg("bell")
	}
}

func bell(s domain.Sound) string {
	if s == domain.SoundLeave {
		return "\a\a"
	}
	return "\a"
}
