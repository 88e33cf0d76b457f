package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poloai/polochat/internal/models"
)

// StoppedMarker is the fixed annotation appended to an aborted turn's
// content so the cancellation stays visible in the transcript.
const StoppedMarker = "\n\n[generation stopped by user]"

// runTurn drives one assistant turn from pending to a terminal state. It is
// the only goroutine mutating the turn, so each mutation takes the session
// lock just long enough to build the observer snapshot.
func (s *Session) runTurn(
	ctx context.Context,
	cancel context.CancelFunc,
	message string,
	profile map[string]any,
	turn *models.Turn,
) {
	defer cancel()

	chatID, err := s.chatID(ctx)
	if err != nil {
		s.finishErr(turn, err)
		return
	}

	s.mu.Lock()
	if s.profileSent {
		profile = nil
	}
	s.profileSent = true
	s.mu.Unlock()

	stream, err := s.client.StreamTurn(ctx, chatID, message, profile)
	if err != nil {
		s.finishErr(turn, err)
		return
	}
	defer stream.Close()

	// The stream is open; a consumer can show a typing indicator from here
	// on, even though no content has arrived yet.
	s.setStatus(turn, models.TurnStreaming)

	for delta, err := range stream.Deltas() {
		if err != nil {
			s.finishErr(turn, err)
			return
		}
		s.appendDelta(turn, delta)
	}

	s.mu.Lock()
	turn.Status = models.TurnComplete
	s.releaseLocked(turn)
	ev := turn.Event()
	s.mu.Unlock()
	s.emit(ev)
}

func (s *Session) setStatus(turn *models.Turn, status models.TurnStatus) {
	s.mu.Lock()
	turn.Status = status
	ev := turn.Event()
	s.mu.Unlock()
	s.emit(ev)
}

func (s *Session) appendDelta(turn *models.Turn, delta string) {
	s.mu.Lock()
	turn.Content += delta
	ev := turn.Event()
	s.mu.Unlock()
	s.emit(ev)
}

// releaseLocked frees the session's in-flight slot. It must run under the
// session lock, in the same critical section as the turn's terminal
// transition, so an observer acting on the terminal event can submit again
// immediately.
func (s *Session) releaseLocked(turn *models.Turn) {
	if s.active == turn {
		s.active = nil
		s.cancel = nil
	}
}

// finishErr resolves the turn for a terminal error. Cancellation is not a
// failure: the content gathered so far is kept and annotated. For transport
// errors the partial content is likewise preserved, with the derived
// human-readable message appended; the original error stays on the turn.
func (s *Session) finishErr(turn *models.Turn, err error) {
	s.mu.Lock()
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		turn.Content += StoppedMarker
		turn.Status = models.TurnAborted
	} else {
		msg := errorMessage(err)
		if turn.Content == "" {
			turn.Content = msg
		} else {
			turn.Content += "\n\n" + msg
		}
		turn.Status = models.TurnFailed
		turn.Err = err
	}
	s.releaseLocked(turn)
	ev := turn.Event()
	status := turn.Status
	s.mu.Unlock()

	if status == models.TurnAborted {
		s.logger.Debug("Turn aborted", slog.String("turnID", turn.ID))
	} else {
		s.logger.Error("Turn failed",
			slog.String("turnID", turn.ID),
			slog.String("err", err.Error()))
	}
	s.emit(ev)
}
