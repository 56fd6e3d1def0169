package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fingro/fingro-bot/internal/domain"
	"github.com/fingro/fingro-bot/internal/scoring"
)

// stubPrices is a PriceSource returning a fixed value or a fixed error.
type stubPrices struct {
	value float64
	err   error
	calls int
}

func (p *stubPrices) Get(ctx context.Context, commodity, zone string) (float64, error) {
	p.calls++
	if p.err != nil {
		return 0, p.err
	}
	return p.value, nil
}

func newTestMachine(prices PriceSource) *Machine {
	m := NewMachine(prices,
		scoring.NewEngine(0, 100),
		scoring.NewOfferEngine(1000, 100000, 9, 0.12))
	m.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	return m
}

func newTestSession() *domain.Session {
	return domain.NewSession("+50212345678", time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC))
}

func apply(t *testing.T, m *Machine, s *domain.Session, text string) string {
	t.Helper()
	reply, err := m.Apply(context.Background(), s, Event{ID: "ev-" + text, Text: text, ReceivedAt: time.Now()})
	if err != nil {
		t.Fatalf("Apply(%q) failed: %v", text, err)
	}
	return reply
}

func TestMachine_HappyPathToAccepted(t *testing.T) {
	prices := &stubPrices{value: 4000}
	m := newTestMachine(prices)
	s := newTestSession()

	if reply := apply(t, m, s, "hola"); reply != msgWelcome {
		t.Fatalf("Expected welcome, got %q", reply)
	}
	if s.State != domain.StateCollecting {
		t.Fatalf("Expected collecting state, got %v", s.State)
	}

	apply(t, m, s, "maíz")
	apply(t, m, s, "2")
	apply(t, m, s, "1")      // goteo
	apply(t, m, s, "1")      // exportación
	apply(t, m, s, "Escuintla")
	confirm := apply(t, m, s, "5000")

	if s.State != domain.StateAwaitingConfirmation {
		t.Fatalf("Expected awaiting confirmation after all attributes, got %v", s.State)
	}
	if !strings.Contains(confirm, "maiz") || !strings.Contains(confirm, "Q5,000.00") {
		t.Errorf("Confirmation summary missing collected data: %q", confirm)
	}

	offer := apply(t, m, s, "si")
	if s.State != domain.StateOfferPresented {
		t.Fatalf("Expected offer presented, got %v", s.State)
	}
	if s.Score == nil || s.Offer == nil {
		t.Fatal("Expected score and offer stored on the session")
	}
	if s.Score.Tier != domain.TierA {
		t.Errorf("Expected tier A, got %v", s.Score.Tier)
	}
	if !strings.Contains(offer, "Q5,000.00") {
		t.Errorf("Offer message missing amount: %q", offer)
	}
	if prices.calls != 1 {
		t.Errorf("Expected one market lookup, got %d", prices.calls)
	}

	if reply := apply(t, m, s, "si"); reply != msgAccepted {
		t.Errorf("Expected acceptance message, got %q", reply)
	}
	if s.State != domain.StateAccepted {
		t.Errorf("Expected accepted state, got %v", s.State)
	}
}

func TestMachine_InvalidInputReprompts(t *testing.T) {
	m := newTestMachine(&stubPrices{value: 4000})
	s := newTestSession()
	apply(t, m, s, "hola")
	apply(t, m, s, "maiz")

	reply := apply(t, m, s, "muchas")
	if s.State != domain.StateCollecting {
		t.Errorf("Invalid input must not advance the state, got %v", s.State)
	}
	if s.HasField("area_hectares") {
		t.Error("Invalid input must not store a field")
	}
	if !strings.Contains(reply, msgInvalidArea) || !strings.Contains(reply, msgAskArea) {
		t.Errorf("Expected re-prompt with the area question, got %q", reply)
	}
}

func TestMachine_NegativeConfirmationRestartsCollection(t *testing.T) {
	m := newTestMachine(&stubPrices{value: 4000})
	s := newTestSession()
	apply(t, m, s, "hola")
	for _, text := range []string{"maiz", "2", "1", "1", "escuintla", "5000"} {
		apply(t, m, s, text)
	}

	reply := apply(t, m, s, "no")
	if s.State != domain.StateCollecting {
		t.Errorf("Expected collecting state after rejection, got %v", s.State)
	}
	if reply != msgAskCrop {
		t.Errorf("Expected first attribute prompt, got %q", reply)
	}
	if s.HasField("crop") || s.HasField("requested_amount") {
		t.Error("Rejected data must be cleared for full re-collection")
	}
}

func TestMachine_UnparseableConfirmationAsksAgain(t *testing.T) {
	m := newTestMachine(&stubPrices{value: 4000})
	s := newTestSession()
	apply(t, m, s, "hola")
	for _, text := range []string{"maiz", "2", "1", "1", "escuintla", "5000"} {
		apply(t, m, s, text)
	}

	if reply := apply(t, m, s, "tal vez"); reply != msgAskYesNo {
		t.Errorf("Expected yes/no re-prompt, got %q", reply)
	}
	if s.State != domain.StateAwaitingConfirmation {
		t.Errorf("Expected unchanged state, got %v", s.State)
	}
}

func TestMachine_MarketFailureDefersScoring(t *testing.T) {
	prices := &stubPrices{err: errors.New("upstream down")}
	m := newTestMachine(prices)
	s := newTestSession()
	apply(t, m, s, "hola")
	for _, text := range []string{"maiz", "2", "1", "1", "escuintla", "5000"} {
		apply(t, m, s, text)
	}

	reply := apply(t, m, s, "si")
	if reply != msgRetry {
		t.Fatalf("Expected retry prompt, got %q", reply)
	}
	if s.State != domain.StateScoring {
		t.Fatalf("Expected session parked in scoring state, got %v", s.State)
	}
	if s.Score != nil {
		t.Error("No score may be stored on a failed market lookup")
	}

	// Recovery: the upstream comes back and any new message retries.
	prices.err = nil
	prices.value = 4000
	reply = apply(t, m, s, "hola?")
	if s.State != domain.StateOfferPresented {
		t.Fatalf("Expected offer after recovery, got state %v (reply %q)", s.State, reply)
	}
	if s.Score == nil || s.Score.Tier != domain.TierA {
		t.Errorf("Expected tier A score after recovery, got %+v", s.Score)
	}
}

func TestMachine_ExcessiveAmountDeclines(t *testing.T) {
	m := newTestMachine(&stubPrices{value: 4000})
	s := newTestSession()
	apply(t, m, s, "hola")
	for _, text := range []string{"maiz", "2", "1", "1", "escuintla", "200000"} {
		apply(t, m, s, text)
	}

	reply := apply(t, m, s, "si")
	if s.State != domain.StateDeclined {
		t.Fatalf("Expected declined state, got %v", s.State)
	}
	if reply != msgDeclineAmount {
		t.Errorf("Expected amount decline message, got %q", reply)
	}
	if s.Offer == nil || s.Offer.DeclineReason != domain.DeclineAmountExceedsEligibility {
		t.Errorf("Expected stored decline reason, got %+v", s.Offer)
	}
}

func TestMachine_TerminalStatesAreImmutable(t *testing.T) {
	m := newTestMachine(&stubPrices{value: 4000})
	for _, state := range []domain.State{domain.StateAccepted, domain.StateDeclined, domain.StateAbandoned} {
		s := newTestSession()
		s.State = state
		if reply := apply(t, m, s, "hola"); reply != msgFinished {
			t.Errorf("state %v: expected finished message, got %q", state, reply)
		}
		if s.State != state {
			t.Errorf("state %v changed to %v", state, s.State)
		}
	}
}

func TestMachine_ResetStartsNewGeneration(t *testing.T) {
	m := newTestMachine(&stubPrices{value: 4000})
	s := newTestSession()
	apply(t, m, s, "hola")
	for _, text := range []string{"maiz", "2", "1", "1", "escuintla", "5000", "si", "si"} {
		apply(t, m, s, text)
	}
	if s.State != domain.StateAccepted {
		t.Fatalf("Setup failed, state %v", s.State)
	}

	reply := apply(t, m, s, "REINICIAR")
	if reply != msgWelcome {
		t.Errorf("Expected welcome on reset, got %q", reply)
	}
	if s.Generation != 2 {
		t.Errorf("Expected generation 2, got %d", s.Generation)
	}
	if s.State != domain.StateCollecting {
		t.Errorf("Expected collecting state, got %v", s.State)
	}
	if s.HasField("crop") || s.Score != nil || s.Offer != nil {
		t.Error("Reset must clear collected data, score and offer")
	}
}
