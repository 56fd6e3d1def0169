// Package orchestrator composes the session store, conversation state
// machine and engines behind the single entry point the webhook calls.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fingro/fingro-bot/internal/conversation"
	"github.com/fingro/fingro-bot/internal/domain"
	"github.com/fingro/fingro-bot/internal/store"
)

// saveAttempts bounds the reload-and-reapply loop on version conflicts.
const saveAttempts = 3

// ErrRetryable is surfaced to the transport when an event could not be
// processed but may succeed on redelivery. No session state was committed.
var ErrRetryable = errors.New("event processing failed, retry")

// Orchestrator serializes transitions per session while different sessions
// proceed fully in parallel.
type Orchestrator struct {
	repo    store.Repository
	machine *conversation.Machine

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an orchestrator over the given store and state machine.
func New(repo store.Repository, machine *conversation.Machine) *Orchestrator {
	return &Orchestrator{
		repo:    repo,
		machine: machine,
		locks:   make(map[string]*sync.Mutex),
	}
}

// HandleEvent loads (or creates) the session for a phone number, applies
// exactly one state-machine transition, persists the result and returns
// the reply to send. Replayed event IDs return the previously produced
// response without re-applying the transition.
func (o *Orchestrator) HandleEvent(ctx context.Context, phone string, ev conversation.Event) (string, error) {
	lock := o.sessionLock(phone)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		loaded, err := o.repo.LoadSession(ctx, phone)
		if err != nil {
			return "", fmt.Errorf("load session %s: %w", phone, ErrRetryable)
		}
		if loaded == nil {
			loaded = domain.NewSession(phone, ev.ReceivedAt)
		}

		// At-most-once effect per event under at-least-once delivery.
		if ev.ID != "" && ev.ID == loaded.LastEventID {
			slog.Debug("duplicate event replayed", "phone", phone, "event_id", ev.ID)
			return loaded.LastResponse, nil
		}

		// Transitions run on a clone so a failure commits nothing.
		session := loaded.Clone()
		prevGeneration := session.Generation

		reply, err := o.machine.Apply(ctx, session, ev)
		if err != nil {
			slog.Error("transition failed", "phone", phone, "state", loaded.State, "error", err)
			return "", fmt.Errorf("apply event %s: %w", ev.ID, ErrRetryable)
		}

		// A reset started a new generation; preserve the prior one first.
		if session.Generation != prevGeneration && loaded.Version > 0 {
			if err := o.repo.ArchiveSession(ctx, loaded); err != nil {
				slog.Warn("failed to archive prior generation", "phone", phone, "error", err)
			}
		}

		session.LastEventID = ev.ID
		session.LastResponse = reply
		session.UpdatedAt = ev.ReceivedAt

		if err := o.repo.SaveSession(ctx, session); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				slog.Debug("session save conflict, reloading",
					"phone", phone, "attempt", attempt+1)
				lastErr = err
				continue
			}
			return "", fmt.Errorf("save session %s: %w", phone, ErrRetryable)
		}

		if session.State.Terminal() {
			if err := o.repo.ArchiveSession(ctx, session); err != nil {
				slog.Warn("failed to archive terminal session", "phone", phone, "error", err)
			}
		}

		return reply, nil
	}

	slog.Error("session save conflicts exhausted", "phone", phone, "error", lastErr)
	return "", fmt.Errorf("save session %s after %d attempts: %w", phone, saveAttempts, ErrRetryable)
}

// sessionLock returns the mutex serializing transitions for one phone.
func (o *Orchestrator) sessionLock(phone string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[phone]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[phone] = lock
	}
	return lock
}
