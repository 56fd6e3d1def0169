package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fingro/fingro-bot/internal/conversation"
	"github.com/fingro/fingro-bot/internal/domain"
	"github.com/fingro/fingro-bot/internal/orchestrator"
	"github.com/fingro/fingro-bot/internal/scoring"
)

// memRepo is a minimal in-memory Repository for handler tests.
type memRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	pingErr  error
	loadErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{sessions: make(map[string]*domain.Session)}
}

func (r *memRepo) LoadSession(ctx context.Context, phone string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	s, ok := r.sessions[phone]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (r *memRepo) SaveSession(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.sessions[session.Phone]
	if session.Version == 0 {
		if ok {
			return domain.ErrConflict
		}
	} else if !ok || current.Version != session.Version {
		return domain.ErrConflict
	}
	session.Version++
	r.sessions[session.Phone] = session.Clone()
	return nil
}

func (r *memRepo) ArchiveSession(ctx context.Context, session *domain.Session) error { return nil }

func (r *memRepo) GetIdleSessions(ctx context.Context, ttl time.Duration) ([]*domain.Session, error) {
	return nil, nil
}

func (r *memRepo) Ping(ctx context.Context) error { return r.pingErr }
func (r *memRepo) Close() error                   { return nil }

// recordingSender captures outbound replies per recipient.
type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]string
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[string][]string)}
}

func (s *recordingSender) Send(ctx context.Context, to, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[to] = append(s.sent[to], message)
	return nil
}

type fixedPrices struct{ value float64 }

func (p fixedPrices) Get(ctx context.Context, commodity, zone string) (float64, error) {
	return p.value, nil
}

func newTestHandler(repo *memRepo, sender *recordingSender) http.Handler {
	machine := conversation.NewMachine(fixedPrices{value: 4000},
		scoring.NewEngine(0, 100),
		scoring.NewOfferEngine(1000, 100000, 9, 0.12))
	h := NewHandler(orchestrator.New(repo, machine), sender, repo, "secret-token")

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestVerify_EchoesChallengeOnValidToken(t *testing.T) {
	router := newTestHandler(newMemRepo(), newRecordingSender())

	req := httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "12345" {
		t.Errorf("Expected challenge echoed, got %q", body)
	}
}

func TestVerify_RejectsBadToken(t *testing.T) {
	router := newTestHandler(newMemRepo(), newRecordingSender())

	cases := []string{
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345",
		"/webhook/whatsapp?hub.mode=unsubscribe&hub.verify_token=secret-token&hub.challenge=12345",
		"/webhook/whatsapp",
	}
	for _, url := range cases {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403, got %d", url, rec.Code)
		}
	}
}

func inboundPayload(id, from, body string) string {
	return `{
		"entry": [{"changes": [{"value": {"messages": [
			{"id": "` + id + `", "from": "` + from + `", "type": "text",
			 "timestamp": "1767225600", "text": {"body": "` + body + `"}}
		]}}]}]
	}`
}

func TestReceive_ProcessesTextMessageAndReplies(t *testing.T) {
	repo := newMemRepo()
	sender := newRecordingSender()
	router := newTestHandler(repo, sender)

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp",
		strings.NewReader(inboundPayload("wamid.1", "50211111111", "hola")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	session := repo.sessions["50211111111"]
	if session == nil {
		t.Fatal("Expected a session created for the sender")
	}
	if session.State != domain.StateCollecting {
		t.Errorf("Expected collecting state, got %v", session.State)
	}

	replies := sender.sent["50211111111"]
	if len(replies) != 1 {
		t.Fatalf("Expected one outbound reply, got %d", len(replies))
	}
	if !strings.Contains(replies[0], "FinGro") {
		t.Errorf("Expected the welcome message, got %q", replies[0])
	}
}

func TestReceive_DuplicateDeliveryRepliesOnce(t *testing.T) {
	repo := newMemRepo()
	sender := newRecordingSender()
	router := newTestHandler(repo, sender)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp",
			strings.NewReader(inboundPayload("wamid.1", "50211111111", "hola")))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, rec.Code)
		}
	}

	if v := repo.sessions["50211111111"].Version; v != 1 {
		t.Errorf("Duplicate delivery must not advance the session, version %d", v)
	}
	// The replayed response is still sent so the user gets an answer.
	replies := sender.sent["50211111111"]
	if len(replies) != 2 || replies[0] != replies[1] {
		t.Errorf("Expected the same reply twice, got %q", replies)
	}
}

func TestReceive_IgnoresNonTextMessages(t *testing.T) {
	repo := newMemRepo()
	sender := newRecordingSender()
	router := newTestHandler(repo, sender)

	payload := `{
		"entry": [{"changes": [{"value": {"messages": [
			{"id": "wamid.2", "from": "50211111111", "type": "image", "timestamp": "1767225600"}
		]}}]}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(repo.sessions) != 0 {
		t.Error("Non-text messages must not create sessions")
	}
	if len(sender.sent) != 0 {
		t.Error("Non-text messages must not produce replies")
	}
}

func TestReceive_ProcessingFailureSignalsRedelivery(t *testing.T) {
	repo := newMemRepo()
	sender := newRecordingSender()
	router := newTestHandler(repo, sender)

	repo.loadErr = errors.New("store down")
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp",
		strings.NewReader(inboundPayload("wamid.1", "50211111111", "hola")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500 so the transport redelivers, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(sender.sent) != 0 {
		t.Errorf("No reply may be sent for a dropped event, got %v", sender.sent)
	}
	if len(repo.sessions) != 0 {
		t.Error("No session state may be committed for a failed event")
	}

	// The store recovers and the Cloud API redelivers the same message.
	repo.loadErr = nil
	req = httptest.NewRequest(http.MethodPost, "/webhook/whatsapp",
		strings.NewReader(inboundPayload("wamid.1", "50211111111", "hola")))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 after recovery, got %d", rec.Code)
	}
	if len(sender.sent["50211111111"]) != 1 {
		t.Errorf("Expected the redelivered message answered once, got %v", sender.sent)
	}
}

func TestReceive_RejectsMalformedPayload(t *testing.T) {
	router := newTestHandler(newMemRepo(), newRecordingSender())

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestHealth_ReflectsStoreConnectivity(t *testing.T) {
	repo := newMemRepo()
	router := newTestHandler(repo, newRecordingSender())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 when the store is reachable, got %d", rec.Code)
	}

	repo.pingErr = errors.New("locked")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when the store is down, got %d", rec.Code)
	}
}
