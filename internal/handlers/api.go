package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/poloai/polochat/internal/models"
	"github.com/poloai/polochat/internal/services"
)

// LLM represents a large language model interface that provides chat
// functionality. It accepts a context and a sequence of messages, returning
// an iterator that yields response chunks and potential errors.
type LLM interface {
	Chat(ctx context.Context, messages []models.ChatMessage) iter.Seq2[string, error]
}

// Store defines the interface for managing chat sessions and their message
// history for the lifetime of the process.
type Store interface {
	AddChat(ctx context.Context, chat models.Chat) (string, error)
	Chat(ctx context.Context, chatID string) (models.Chat, error)
	SetProfile(ctx context.Context, chatID string, profile map[string]any) error
	AppendMessage(ctx context.Context, chatID string, msg models.ChatMessage) error
	Messages(ctx context.Context, chatID string) ([]models.ChatMessage, error)
	DeleteChat(ctx context.Context, chatID string) error
	ChatCount(ctx context.Context) (int, error)
}

// API handles the backend chat endpoints: session creation, streaming turn
// submission, history, and the auxiliary service endpoints.
type API struct {
	llm       LLM
	store     Store
	validator services.FinanceValidator
	model     string

	logger *slog.Logger
}

const errLoggerKey = "err"

// historyContext is the number of stored messages included as model context,
// matching the original backend's five-exchange window.
const historyContext = 10

type chatRequest struct {
	Message     string         `json:"message"`
	UserProfile map[string]any `json:"user_profile,omitempty"`
}

// NewAPI creates an API serving the given LLM through the given store. The
// model name is only reported by the health endpoint.
func NewAPI(llm LLM, store Store, model string, logger *slog.Logger) API {
	return API{
		llm:    llm,
		store:  store,
		model:  model,
		logger: logger.With(slog.String("module", "api")),
	}
}

// HandleCreateChat creates a new chat session and returns its id.
func (a API) HandleCreateChat(w http.ResponseWriter, r *http.Request) {
	id, err := a.store.AddChat(r.Context(), models.Chat{ID: uuid.New().String()})
	if err != nil {
		a.logger.Error("Failed to add chat", slog.String(errLoggerKey, err.Error()))
		writeDetail(w, http.StatusInternalServerError, "Failed to create chat session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":      id,
		"message": "Chat session created successfully",
	})
}

// HandleChat accepts a user message for an existing chat and streams the
// assistant reply as "data:"-prefixed lines, flushing after every frame. A
// frame never contains a newline: multi-line model output is split into one
// frame per line. Validation failures are reported as JSON errors before any
// streaming begins.
func (a API) HandleChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if _, err := a.store.Chat(r.Context(), chatID); err != nil {
		writeDetail(w, http.StatusNotFound, "Chat session not found")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeDetail(w, http.StatusBadRequest, "Message is required")
		return
	}

	isFinance, category := a.validator.Classify(req.Message)
	if !isFinance {
		writeDetail(w, http.StatusBadRequest, map[string]string{
			"error":   "non_finance_query",
			"message": a.validator.RejectionMessage(),
		})
		return
	}

	if req.UserProfile != nil {
		if err := a.store.SetProfile(r.Context(), chatID, req.UserProfile); err != nil {
			a.logger.Error("Failed to set profile",
				slog.String("chatID", chatID),
				slog.String(errLoggerKey, err.Error()))
			writeDetail(w, http.StatusInternalServerError, "Failed to store profile")
			return
		}
	}

	userMsg := models.ChatMessage{
		Role:     models.RoleUser,
		Content:  req.Message,
		Category: category,
	}
	if err := a.store.AppendMessage(r.Context(), chatID, userMsg); err != nil {
		a.logger.Error("Failed to append user message",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		writeDetail(w, http.StatusInternalServerError, "Failed to store message")
		return
	}

	msgs, err := a.modelContext(r.Context(), chatID)
	if err != nil {
		a.logger.Error("Failed to build model context",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		writeDetail(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var full strings.Builder
	for chunk, err := range a.llm.Chat(r.Context(), msgs) {
		if err != nil {
			a.logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
			fmt.Fprintf(w, "data: Error: %s\n\n", err.Error())
			flusher.Flush()
			return
		}

		for _, line := range strings.Split(chunk, "\n") {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
		flusher.Flush()
		full.WriteString(chunk)
	}

	aiMsg := models.ChatMessage{
		Role:    models.RoleAssistant,
		Content: full.String(),
	}
	if err := a.store.AppendMessage(context.Background(), chatID, aiMsg); err != nil {
		a.logger.Error("Failed to append assistant message",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
	}
}

// HandleHistory returns the stored conversation history for a chat.
func (a API) HandleHistory(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if _, err := a.store.Chat(r.Context(), chatID); err != nil {
		writeDetail(w, http.StatusNotFound, "Chat session not found")
		return
	}

	msgs, err := a.store.Messages(r.Context(), chatID)
	if err != nil {
		a.logger.Error("Failed to get messages",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		writeDetail(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chat_id": chatID,
		"history": msgs,
	})
}

// HandleDeleteChat removes a chat session.
func (a API) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if err := a.store.DeleteChat(r.Context(), chatID); err != nil {
		writeDetail(w, http.StatusNotFound, "Chat session not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Chat session deleted successfully",
	})
}

// HandleHealth reports service health and the number of active chats.
func (a API) HandleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := a.store.ChatCount(r.Context())
	if err != nil {
		a.logger.Error("Failed to count chats", slog.String(errLoggerKey, err.Error()))
		writeDetail(w, http.StatusInternalServerError, "Failed to count chats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"model":        a.model,
		"service":      "PoloChat",
		"active_chats": count,
	})
}

// HandleSampleQueries returns suggested prompts for UI collaborators.
func (a API) HandleSampleQueries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queries": a.validator.SampleQueries(),
	})
}

// modelContext assembles the message window sent to the model: the chat's
// profile, when present, as a leading system message, followed by the most
// recent stored messages.
func (a API) modelContext(ctx context.Context, chatID string) ([]models.ChatMessage, error) {
	chat, err := a.store.Chat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}

	msgs, err := a.store.Messages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	if len(msgs) > historyContext {
		msgs = msgs[len(msgs)-historyContext:]
	}

	if chat.Profile == nil {
		return msgs, nil
	}

	profileJSON, err := json.Marshal(chat.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}
	withProfile := make([]models.ChatMessage, 0, len(msgs)+1)
	withProfile = append(withProfile, models.ChatMessage{
		Role:    "system",
		Content: "User profile: " + string(profileJSON),
	})
	return append(withProfile, msgs...), nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeDetail writes an error body of the shape {"detail": <detail>}, where
// detail is either a plain string or an {error, message} object.
func writeDetail(w http.ResponseWriter, status int, detail any) {
	writeJSON(w, status, map[string]any{"detail": detail})
}
