package framer

import (
	"context"
	"errors"
	"io"

	"github.com/reugn/go-streams"
	"github.com/reugn/go-streams/flow"
	"github.com/rs/zerolog"
)

// LineSource exposes a Framer as a go-streams source emitting one string per line.
//
// The source reads ahead of its consumer, so it suits diagnostics and fan-out; the bridge
// loop reads the Framer directly to keep one record in flight.
type LineSource struct {
	framer *Framer
	outCh  chan any
	log    zerolog.Logger
}

var _ streams.Source = (*LineSource)(nil)

// NewLineSource starts pulling lines from f until the source ends or ctx is cancelled.
// Framing errors are logged and skipped.
func NewLineSource(ctx context.Context, f *Framer, log zerolog.Logger) *LineSource {
	s := &LineSource{
		framer: f,
		outCh:  make(chan any),
		log:    log,
	}
	go s.run(ctx)
	return s
}

// Out returns the channel of framed lines. It is closed when the source ends.
func (s *LineSource) Out() <-chan any {
	return s.outCh
}

// Via streams the lines into operator.
func (s *LineSource) Via(operator streams.Flow) streams.Flow {
	flow.DoStream(s, operator)
	return operator
}

func (s *LineSource) run(ctx context.Context) {
	defer close(s.outCh)

	for {
		line, err := s.framer.Next()
		switch {
		case err == nil:
		case errors.Is(err, ErrFraming):
			s.log.Warn().Err(err).Msg("skipping malformed line")
			continue
		case errors.Is(err, io.EOF):
			if n := s.framer.Dropped(); n > 0 {
				s.log.Debug().Int("bytes", n).Msg("discarded unterminated tail")
			}
			return
		default:
			s.log.Error().Err(err).Msg("line source stopped")
			return
		}

		select {
		case s.outCh <- line:
		case <-ctx.Done():
			return
		}
	}
}
