package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poloai/polochat/internal/models"
)

// Session owns turn sequencing and identity for one conversation. It keeps
// the ordered list of turns, lazily establishes the backend chat id on the
// first submission, and guarantees that at most one turn is pending or
// streaming at any time.
//
// Observers receive a TurnEvent snapshot for every turn mutation, in the
// order the mutations happened. The notify callback is invoked outside the
// session lock, so it may call back into the session.
type Session struct {
	mu sync.Mutex

	id          string
	turns       []*models.Turn
	active      *models.Turn
	cancel      context.CancelFunc
	profileSent bool

	client *Client
	notify func(models.TurnEvent)
	logger *slog.Logger
}

// NewSession creates a Session backed by the given client. notify may be nil
// when no observer is interested in turn updates.
func NewSession(client *Client, notify func(models.TurnEvent), logger *slog.Logger) *Session {
	return &Session{
		client: client,
		notify: notify,
		logger: logger.With(slog.String("module", "session")),
	}
}

// Submit records a user turn and starts streaming the assistant reply,
// returning the assistant turn's id. It returns ErrEmptyMessage when the
// message is empty after trimming and ErrTurnActive while another turn is
// still in flight; in both cases nothing is created and no request is
// issued. The profile, when non-nil, is attached only if this is the
// session's first turn.
func (s *Session) Submit(message string, profile map[string]any) (string, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return "", ErrTurnActive
	}

	userTurn := &models.Turn{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   trimmed,
		Status:    models.TurnComplete,
		Timestamp: time.Now(),
	}
	assistantTurn := &models.Turn{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Status:    models.TurnPending,
		Timestamp: time.Now(),
	}
	s.turns = append(s.turns, userTurn, assistantTurn)
	s.active = assistantTurn

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.emit(userTurn.Event())
	s.emit(assistantTurn.Event())

	go s.runTurn(ctx, cancel, trimmed, profile, assistantTurn)

	return assistantTurn.ID, nil
}

// CancelActive stops the currently pending or streaming turn. Without an
// active turn, or called repeatedly, it is a no-op.
func (s *Session) CancelActive() {
	s.mu.Lock()
	cancel := s.cancel
	active := s.active
	s.mu.Unlock()

	if cancel == nil || active == nil {
		return
	}
	s.logger.Debug("Cancelling active turn", slog.String("turnID", active.ID))
	cancel()
}

// ID returns the backend chat id, or an empty string before the first
// successful turn establishment.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Turns returns a snapshot of all turns in submission order.
func (s *Session) Turns() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := make([]models.Turn, len(s.turns))
	for i, t := range s.turns {
		turns[i] = *t
	}
	return turns
}

func (s *Session) emit(ev models.TurnEvent) {
	if s.notify != nil {
		s.notify(ev)
	}
}

// chatID returns the established chat id, creating it on first use. A failed
// creation leaves the session without an id so a later submit retries it.
func (s *Session) chatID(ctx context.Context) (string, error) {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()
	if id != "" {
		return id, nil
	}

	id, err := s.client.CreateChat(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
	s.logger.Debug("Chat session established", slog.String("chatID", id))
	return id, nil
}
