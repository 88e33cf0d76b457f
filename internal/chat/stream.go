package chat

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
)

// Stream is an open reply stream for one turn. It owns the underlying
// transport for the duration of the turn and releases it on every exit path.
type Stream struct {
	ctx  context.Context
	body io.ReadCloser
	dec  *Decoder

	logger *slog.Logger
}

func newStream(ctx context.Context, body io.ReadCloser, logger *slog.Logger) *Stream {
	return &Stream{
		ctx:    ctx,
		body:   body,
		dec:    NewDecoder(logger),
		logger: logger,
	}
}

// Deltas yields the stream's frames in arrival order. The sequence ends in
// one of three ways: exhaustion with no error (the stream completed), a
// final ("", ErrCancelled) element when the request context was cancelled,
// or a final ("", *StreamError) element on a transport failure. Deltas
// already yielded stay valid in all cases.
func (s *Stream) Deltas() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()

		buf := make([]byte, 4096)
		for {
			n, err := s.body.Read(buf)
			if n > 0 {
				for _, frame := range s.dec.Feed(buf[:n]) {
					if !yield(frame, nil) {
						return
					}
				}
			}
			if err == nil {
				continue
			}

			if errors.Is(err, io.EOF) {
				if rest := s.dec.Remainder(); rest != "" {
					s.logger.Debug("Stream ended mid-line", slog.String("remainder", rest))
				}
				return
			}
			if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				yield("", ErrCancelled)
				return
			}
			yield("", &StreamError{Cause: err})
			return
		}
	}
}

// Close releases the underlying transport. It is safe to call more than once
// and after the stream has already ended.
func (s *Stream) Close() error {
	return s.body.Close()
}
