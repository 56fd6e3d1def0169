// Package domain contains core domain types for the FinGro conversation engine.
package domain

import (
	"time"
)

// State identifies where a conversation currently is in the loan flow.
type State string

const (
	StateStarted              State = "started"
	StateCollecting           State = "collecting_attributes"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateScoring              State = "scoring"
	StateOfferPresented       State = "offer_presented"
	StateAccepted             State = "accepted"
	StateDeclined             State = "declined"
	StateAbandoned            State = "abandoned"
)

// Terminal reports whether no further transitions are permitted from s.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateDeclined || s == StateAbandoned
}

// Session is the durable per-user conversation record, keyed by phone number.
// Collected fields only grow within a generation; a reset starts a new
// generation and the prior one is archived, never deleted.
type Session struct {
	Phone        string         `json:"phone"`
	Generation   int            `json:"generation"`
	State        State          `json:"state"`
	Fields       map[string]any `json:"fields"`
	LastEventID  string         `json:"last_event_id"`
	LastResponse string         `json:"last_response"`
	Score        *ScoreResult   `json:"score,omitempty"`
	Offer        *OfferResult   `json:"offer,omitempty"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewSession creates a fresh first-generation session for a phone number.
func NewSession(phone string, now time.Time) *Session {
	return &Session{
		Phone:      phone,
		Generation: 1,
		State:      StateStarted,
		Fields:     make(map[string]any),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// SetField stores a collected attribute value.
func (s *Session) SetField(name string, value any) {
	if s.Fields == nil {
		s.Fields = make(map[string]any)
	}
	s.Fields[name] = value
}

// FieldString returns a collected string attribute, or "" when absent.
func (s *Session) FieldString(name string) string {
	if v, ok := s.Fields[name].(string); ok {
		return v
	}
	return ""
}

// FieldFloat returns a collected numeric attribute, or 0 when absent.
// JSON round-trips store all numbers as float64.
func (s *Session) FieldFloat(name string) float64 {
	switch v := s.Fields[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// HasField reports whether an attribute has been collected.
func (s *Session) HasField(name string) bool {
	_, ok := s.Fields[name]
	return ok
}

// ResetCollection clears collected attributes within the current generation
// and returns the session to attribute collection. Used on a negative
// confirmation, which re-collects everything from the first attribute.
func (s *Session) ResetCollection() {
	s.Fields = make(map[string]any)
	s.Score = nil
	s.Offer = nil
	s.State = StateCollecting
}

// NextGeneration starts a new conversation generation for the same phone
// number. The caller is responsible for archiving the prior generation.
func (s *Session) NextGeneration(now time.Time) {
	s.Generation++
	s.Fields = make(map[string]any)
	s.Score = nil
	s.Offer = nil
	s.State = StateStarted
	s.LastEventID = ""
	s.LastResponse = ""
	s.CreatedAt = now
	s.UpdatedAt = now
}

// Clone returns a deep copy of the session. The orchestrator applies
// transitions to a clone so a failed transition leaves the loaded state
// untouched.
func (s *Session) Clone() *Session {
	c := *s
	c.Fields = make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		c.Fields[k] = v
	}
	if s.Score != nil {
		sc := *s.Score
		c.Score = &sc
	}
	if s.Offer != nil {
		of := *s.Offer
		c.Offer = &of
	}
	return &c
}
