package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/poloai/polochat/internal/chat"
	"github.com/poloai/polochat/internal/models"
)

// SSE event type for turn updates.
var turnsSSEType = sse.Type("turn")

const turnsSSETopic = "turns"

// Gateway bridges UI collaborators to one conversation session. It accepts
// submissions and cancellations over HTTP and re-broadcasts every turn
// update as a server-sent event carrying the turn's JSON snapshot.
type Gateway struct {
	sseSrv *sse.Server

	session *chat.Session
	client  *chat.Client

	logger *slog.Logger
}

type submitRequest struct {
	Message     string         `json:"message"`
	UserProfile map[string]any `json:"user_profile,omitempty"`
}

// New creates a Gateway that drives a fresh session against the given
// backend client. The SSE server subscribes every connection to the turn
// updates topic.
func New(client *chat.Client, logger *slog.Logger) *Gateway {
	g := &Gateway{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, turnsSSETopic},
				}, true
			},
		},
		client: client,
		logger: logger.With(slog.String("module", "gateway")),
	}
	g.session = chat.NewSession(client, g.publishTurn, logger)
	return g
}

// HandleEvents serves the SSE subscription endpoint.
func (g *Gateway) HandleEvents(w http.ResponseWriter, r *http.Request) {
	g.sseSrv.ServeHTTP(w, r)
}

// HandleSubmit starts a new turn from a JSON body {message, user_profile?}.
// An empty message is rejected with 400 and a submission while a turn is
// active with 409; neither creates a turn or issues a backend request.
func (g *Gateway) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	turnID, err := g.session.Submit(req.Message, req.UserProfile)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, chat.ErrTurnActive):
		http.Error(w, "A turn is already in progress", http.StatusConflict)
		return
	case err != nil:
		g.logger.Error("Failed to submit turn", slog.String("err", err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"turn_id": turnID})
}

// HandleCancel stops the active turn, if any. Repeated calls are harmless.
func (g *Gateway) HandleCancel(w http.ResponseWriter, _ *http.Request) {
	g.session.CancelActive()
	w.WriteHeader(http.StatusAccepted)
}

// HandleSampleQueries proxies the backend's suggested prompts.
func (g *Gateway) HandleSampleQueries(w http.ResponseWriter, r *http.Request) {
	queries, err := g.client.SampleQueries(r.Context())
	if err != nil {
		g.logger.Error("Failed to fetch sample queries", slog.String("err", err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"queries": queries})
}

func (g *Gateway) publishTurn(ev models.TurnEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		g.logger.Error("Failed to marshal turn event", slog.String("err", err.Error()))
		return
	}

	msg := sse.Message{Type: turnsSSEType}
	msg.AppendData(string(data))
	if err := g.sseSrv.Publish(&msg, turnsSSETopic); err != nil {
		g.logger.Error("Failed to publish turn event", slog.String("err", err.Error()))
	}
}

// Shutdown gracefully terminates the SSE server. It broadcasts a close
// message to all connected clients and waits up to 5 seconds for
// connections to terminate.
func (g *Gateway) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("close")}
	// The SSE spec requires a data field, even on a close event.
	e.AppendData("bye")
	_ = g.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return g.sseSrv.Shutdown(ctx)
}
