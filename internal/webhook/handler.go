// Package webhook provides the WhatsApp Cloud API webhook endpoints.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fingro/fingro-bot/internal/conversation"
	"github.com/fingro/fingro-bot/internal/orchestrator"
	"github.com/fingro/fingro-bot/internal/outbound"
	"github.com/fingro/fingro-bot/internal/store"
)

// Handler routes WhatsApp webhook traffic into the conversation core.
type Handler struct {
	orch        *orchestrator.Orchestrator
	sender      outbound.Sender
	repo        store.Repository
	verifyToken string
}

// NewHandler creates the webhook handler.
func NewHandler(orch *orchestrator.Orchestrator, sender outbound.Sender, repo store.Repository, verifyToken string) *Handler {
	return &Handler{
		orch:        orch,
		sender:      sender,
		repo:        repo,
		verifyToken: verifyToken,
	}
}

// RegisterRoutes registers the webhook endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook/whatsapp", h.Verify)
	r.Post("/webhook/whatsapp", h.Receive)
	r.Get("/healthz", h.Health)
}

// Verify answers the Cloud API webhook verification handshake by echoing
// hub.challenge when the verify token matches.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || token == "" || token != h.verifyToken {
		Error(w, http.StatusForbidden, "verification failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// Cloud API webhook payload, trimmed to the fields the core consumes.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Receive ingests inbound messages. Each text message is applied to the
// conversation core and the reply is sent back through the outbound
// sender. Delivery is at-least-once and unordered; the core de-duplicates
// on the message ID.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		Error(w, http.StatusBadRequest, "invalid payload")
		return
	}

	processed := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.From == "" {
					continue
				}
				// A failed message fails the whole delivery so the Cloud API
				// redelivers it. Messages already processed are de-duplicated
				// on their ID and replay their stored reply.
				if err := h.handleMessage(r.Context(), msg); err != nil {
					Error(w, http.StatusInternalServerError, "message processing failed")
					return
				}
				processed++
			}
		}
	}

	JSON(w, http.StatusOK, map[string]any{"status": "processed", "messages": processed})
}

func (h *Handler) handleMessage(ctx context.Context, msg inboundMessage) error {
	eventID := msg.ID
	if eventID == "" {
		// Without an upstream ID de-duplication is impossible; a synthetic
		// one at least keeps the event traceable.
		eventID = "synthetic-" + uuid.NewString()
	}

	ev := conversation.Event{
		ID:         eventID,
		Text:       msg.Text.Body,
		ReceivedAt: receivedAt(msg.Timestamp),
	}

	reply, err := h.orch.HandleEvent(ctx, msg.From, ev)
	if err != nil {
		slog.Error("event processing failed", "phone", msg.From, "event_id", eventID, "error", err)
		return err
	}
	if reply == "" {
		return nil
	}

	// Fire-and-forget from the core's perspective: the transition is already
	// committed, so a delivery failure must not trigger redelivery.
	if err := h.sender.Send(ctx, msg.From, reply); err != nil {
		slog.Error("failed to send reply", "phone", msg.From, "error", err)
	}
	return nil
}

func receivedAt(timestamp string) time.Time {
	if ts, err := strconv.ParseInt(timestamp, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0)
	}
	return time.Now()
}

// Health reports store connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "store unreachable",
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
