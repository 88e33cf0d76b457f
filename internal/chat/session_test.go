package chat_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/poloai/polochat/internal/chat"
	"github.com/poloai/polochat/internal/models"
)

// fakeBackend is a minimal in-test rendition of the Polo backend: chat
// creation plus a streaming turn endpoint with configurable behavior.
type fakeBackend struct {
	mu          sync.Mutex
	failCreate  bool
	rejectBody  string
	frames      []string
	holdOpen    bool
	createCalls int
	turnBodies  []map[string]any

	srv *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{frames: []string{"Hel", "lo"}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chats", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		fail := b.failCreate
		b.createCalls++
		b.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"detail": "boom"}`)
			return
		}
		fmt.Fprint(w, `{"id": "chat-123"}`)
	})
	mux.HandleFunc("POST /chats/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode turn body: %v", err)
		}

		b.mu.Lock()
		b.turnBodies = append(b.turnBodies, body)
		reject := b.rejectBody
		frames := b.frames
		holdOpen := b.holdOpen
		b.mu.Unlock()

		if reject != "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, reject)
			return
		}

		flusher := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
		if holdOpen {
			<-r.Context().Done()
		}
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) stats() (createCalls int, turnBodies []map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createCalls, append([]map[string]any(nil), b.turnBodies...)
}

// recorder collects turn events and signals assistant turns reaching a
// terminal state or a given streamed content.
type recorder struct {
	mu     sync.Mutex
	events []models.TurnEvent

	waitContent string
	contentSeen chan struct{}
	contentOnce sync.Once

	terminal chan models.TurnEvent
}

func newRecorder() *recorder {
	return &recorder{
		contentSeen: make(chan struct{}),
		terminal:    make(chan models.TurnEvent, 4),
	}
}

func (r *recorder) notify(ev models.TurnEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	if ev.Role != models.RoleAssistant {
		return
	}
	if r.waitContent != "" && ev.Content == r.waitContent {
		r.contentOnce.Do(func() { close(r.contentSeen) })
	}
	if !ev.Status.Active() {
		r.terminal <- ev
	}
}

func (r *recorder) assistantEvents() []models.TurnEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []models.TurnEvent
	for _, ev := range r.events {
		if ev.Role == models.RoleAssistant {
			events = append(events, ev)
		}
	}
	return events
}

func (r *recorder) waitTerminal(t *testing.T) models.TurnEvent {
	t.Helper()
	select {
	case ev := <-r.terminal:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a terminal turn event")
		return models.TurnEvent{}
	}
}

func (r *recorder) expectNoTerminal(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.terminal:
		t.Fatalf("unexpected terminal event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func newTestSession(t *testing.T, backend *fakeBackend, rec *recorder) *chat.Session {
	t.Helper()
	client := chat.NewClient(backend.srv.URL, discardLogger())
	return chat.NewSession(client, rec.notify, discardLogger())
}

func TestSubmitEmptyMessage(t *testing.T) {
	backend := newFakeBackend(t)
	rec := newRecorder()
	session := newTestSession(t, backend, rec)

	if _, err := session.Submit("   \n\t", nil); !errors.Is(err, chat.ErrEmptyMessage) {
		t.Fatalf("Submit(blank) error = %v, want ErrEmptyMessage", err)
	}

	if turns := session.Turns(); len(turns) != 0 {
		t.Errorf("Turns() has %d entries after rejected submit, want 0", len(turns))
	}
	if creates, bodies := backend.stats(); creates != 0 || len(bodies) != 0 {
		t.Errorf("backend saw %d creates and %d turns, want none", creates, len(bodies))
	}
}

func TestTurnLifecycle(t *testing.T) {
	backend := newFakeBackend(t)
	rec := newRecorder()
	session := newTestSession(t, backend, rec)

	turnID, err := session.Submit("How should I invest?", nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := rec.waitTerminal(t)
	if final.TurnID != turnID {
		t.Errorf("terminal event turn id = %s, want %s", final.TurnID, turnID)
	}
	if final.Status != models.TurnComplete {
		t.Errorf("final status = %s, want complete", final.Status)
	}
	if final.Content != "Hello" {
		t.Errorf("final content = %q, want Hello", final.Content)
	}

	events := rec.assistantEvents()
	if events[0].Status != models.TurnPending {
		t.Errorf("first assistant event status = %s, want pending", events[0].Status)
	}
	if events[1].Status != models.TurnStreaming || events[1].Content != "" {
		t.Errorf("streaming entered with content %q, want empty before first delta", events[1].Content)
	}
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1].Content, events[i].Content
		if len(cur) < len(prev) || cur[:len(prev)] != prev {
			t.Errorf("content not monotonically appended: %q -> %q", prev, cur)
		}
	}

	if got := session.ID(); got != "chat-123" {
		t.Errorf("session ID = %q, want chat-123", got)
	}

	turns := session.Turns()
	if len(turns) != 2 {
		t.Fatalf("Turns() has %d entries, want 2", len(turns))
	}
	if turns[0].Role != models.RoleUser || turns[0].Content != "How should I invest?" {
		t.Errorf("user turn = %+v", turns[0])
	}
}

func TestSubmitWhileTurnActive(t *testing.T) {
	backend := newFakeBackend(t)
	backend.holdOpen = true
	rec := newRecorder()
	rec.waitContent = "Hello"
	session := newTestSession(t, backend, rec)

	if _, err := session.Submit("first question about tax", nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	<-rec.contentSeen

	if _, err := session.Submit("second question about tax", nil); !errors.Is(err, chat.ErrTurnActive) {
		t.Fatalf("concurrent Submit() error = %v, want ErrTurnActive", err)
	}
	if turns := session.Turns(); len(turns) != 2 {
		t.Errorf("Turns() has %d entries, want 2 (rejected submit created none)", len(turns))
	}

	session.CancelActive()
	rec.waitTerminal(t)
}

func TestSessionCreationFailure(t *testing.T) {
	backend := newFakeBackend(t)
	backend.failCreate = true
	rec := newRecorder()
	session := newTestSession(t, backend, rec)

	if _, err := session.Submit("loan question", nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := rec.waitTerminal(t)
	if final.Status != models.TurnFailed {
		t.Fatalf("final status = %s, want failed", final.Status)
	}
	if final.Content != "boom" {
		t.Errorf("failed content = %q, want backend detail %q", final.Content, "boom")
	}
	if got := session.ID(); got != "" {
		t.Errorf("session ID = %q after failed creation, want empty", got)
	}
	if _, bodies := backend.stats(); len(bodies) != 0 {
		t.Errorf("turn endpoint hit %d times despite failed creation", len(bodies))
	}

	// A failed turn does not poison the session: the next submit retries
	// establishment.
	backend.mu.Lock()
	backend.failCreate = false
	backend.mu.Unlock()

	if _, err := session.Submit("loan question again", nil); err != nil {
		t.Fatalf("retry Submit() error = %v", err)
	}
	final = rec.waitTerminal(t)
	if final.Status != models.TurnComplete {
		t.Errorf("retry final status = %s, want complete", final.Status)
	}
	if got := session.ID(); got != "chat-123" {
		t.Errorf("session ID = %q after retry, want chat-123", got)
	}
}

func TestProfileAttachedToFirstTurnOnly(t *testing.T) {
	backend := newFakeBackend(t)
	rec := newRecorder()
	session := newTestSession(t, backend, rec)

	profile := map[string]any{"risk": "conservative"}

	if _, err := session.Submit("first budget question", profile); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	rec.waitTerminal(t)

	if _, err := session.Submit("second budget question", profile); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	rec.waitTerminal(t)

	_, bodies := backend.stats()
	if len(bodies) != 2 {
		t.Fatalf("backend saw %d turns, want 2", len(bodies))
	}
	if _, ok := bodies[0]["user_profile"]; !ok {
		t.Error("first turn body has no user_profile")
	}
	if _, ok := bodies[1]["user_profile"]; ok {
		t.Error("second turn body still carries user_profile")
	}
}

func TestCancelActive(t *testing.T) {
	backend := newFakeBackend(t)
	backend.holdOpen = true
	rec := newRecorder()
	rec.waitContent = "Hello"
	session := newTestSession(t, backend, rec)

	turnID, err := session.Submit("retirement question", nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	<-rec.contentSeen

	session.CancelActive()
	// A second cancellation must not produce any further effect.
	session.CancelActive()

	final := rec.waitTerminal(t)
	if final.TurnID != turnID {
		t.Errorf("terminal event turn id = %s, want %s", final.TurnID, turnID)
	}
	if final.Status != models.TurnAborted {
		t.Errorf("final status = %s, want aborted", final.Status)
	}
	if want := "Hello" + chat.StoppedMarker; final.Content != want {
		t.Errorf("aborted content = %q, want %q", final.Content, want)
	}

	rec.expectNoTerminal(t)
}

func TestCancelAfterComplete(t *testing.T) {
	backend := newFakeBackend(t)
	rec := newRecorder()
	session := newTestSession(t, backend, rec)

	if _, err := session.Submit("insurance question", nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	final := rec.waitTerminal(t)
	if final.Status != models.TurnComplete {
		t.Fatalf("final status = %s, want complete", final.Status)
	}

	session.CancelActive()
	rec.expectNoTerminal(t)

	turns := session.Turns()
	if got := turns[len(turns)-1]; got.Status != models.TurnComplete || got.Content != "Hello" {
		t.Errorf("turn after late cancel = %+v, want untouched complete turn", got)
	}
}

func TestRequestErrorSurfacedOnTurn(t *testing.T) {
	backend := newFakeBackend(t)
	backend.rejectBody = `{"detail": {"error": "non_finance_query", "message": "Only finance questions"}}`
	rec := newRecorder()
	session := newTestSession(t, backend, rec)

	if _, err := session.Submit("what about the weather", nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := rec.waitTerminal(t)
	if final.Status != models.TurnFailed {
		t.Fatalf("final status = %s, want failed", final.Status)
	}
	if final.Content != "Only finance questions" {
		t.Errorf("failed content = %q, want extracted message", final.Content)
	}

	turns := session.Turns()
	var reqErr *chat.RequestError
	if !errors.As(turns[len(turns)-1].Err, &reqErr) {
		t.Errorf("turn Err = %v, want *RequestError preserved", turns[len(turns)-1].Err)
	}
}
