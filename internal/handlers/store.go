package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/poloai/polochat/internal/models"
)

// ErrChatNotFound is returned by the store for operations on unknown chats.
var ErrChatNotFound = errors.New("chat session not found")

// MemoryStore implements the Store interface in process memory. Chat history
// lives only as long as the server does, which is all the protocol requires.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[string]*models.Chat
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats: make(map[string]*models.Chat),
	}
}

// AddChat stores a new chat record and returns its id.
func (m *MemoryStore) AddChat(_ context.Context, chat models.Chat) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chats[chat.ID] = &chat
	return chat.ID, nil
}

// Chat retrieves a chat record by id.
func (m *MemoryStore) Chat(_ context.Context, chatID string) (models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, ok := m.chats[chatID]
	if !ok {
		return models.Chat{}, ErrChatNotFound
	}
	return *chat, nil
}

// SetProfile attaches a user profile to an existing chat.
func (m *MemoryStore) SetProfile(_ context.Context, chatID string, profile map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[chatID]
	if !ok {
		return ErrChatNotFound
	}
	chat.Profile = profile
	return nil
}

// AppendMessage adds a message to a chat's history.
func (m *MemoryStore) AppendMessage(_ context.Context, chatID string, msg models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[chatID]
	if !ok {
		return ErrChatNotFound
	}
	chat.Messages = append(chat.Messages, msg)
	return nil
}

// Messages returns a chat's history in stored order.
func (m *MemoryStore) Messages(_ context.Context, chatID string) ([]models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, ok := m.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	msgs := make([]models.ChatMessage, len(chat.Messages))
	copy(msgs, chat.Messages)
	return msgs, nil
}

// DeleteChat removes a chat and its history.
func (m *MemoryStore) DeleteChat(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[chatID]; !ok {
		return ErrChatNotFound
	}
	delete(m.chats, chatID)
	return nil
}

// ChatCount returns the number of active chats.
func (m *MemoryStore) ChatCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chats), nil
}
