package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fingro/fingro-bot/internal/domain"
	"github.com/fingro/fingro-bot/internal/scoring"
)

// resetCommand starts a new session generation from any state.
const resetCommand = "reiniciar"

// PriceSource resolves a (commodity, zone) pair to a per-hectare market
// reference value. Implemented by the market cache.
type PriceSource interface {
	Get(ctx context.Context, commodity, zone string) (float64, error)
}

// Event is one inbound message admitted to processing.
type Event struct {
	ID         string
	Text       string
	ReceivedAt time.Time
}

// Machine advances a session one inbound event at a time. Every
// (state, event) pair is total: the machine always produces a reply, and
// only definitive business or validation outcomes move the state.
type Machine struct {
	flow   *Flow
	prices PriceSource
	scorer *scoring.Engine
	offers *scoring.OfferEngine
	now    func() time.Time
}

// NewMachine creates a conversation state machine over the default flow.
func NewMachine(prices PriceSource, scorer *scoring.Engine, offers *scoring.OfferEngine) *Machine {
	return &Machine{
		flow:   DefaultFlow(),
		prices: prices,
		scorer: scorer,
		offers: offers,
		now:    time.Now,
	}
}

// Apply applies exactly one transition to the session and returns the
// reply to send. The session is mutated in place; callers working on a
// clone keep the loaded state intact on failure.
func (m *Machine) Apply(ctx context.Context, s *domain.Session, ev Event) (string, error) {
	if normalize(ev.Text) == resetCommand {
		s.NextGeneration(ev.ReceivedAt)
		s.State = domain.StateCollecting
		return msgWelcome, nil
	}

	switch s.State {
	case domain.StateStarted:
		s.State = domain.StateCollecting
		return msgWelcome, nil

	case domain.StateCollecting:
		return m.applyCollecting(s, ev), nil

	case domain.StateAwaitingConfirmation:
		return m.applyConfirmation(ctx, s, ev)

	case domain.StateScoring:
		// A previous scoring attempt failed transiently; any new event
		// retries from the same stored attributes.
		return m.runScoring(ctx, s)

	case domain.StateOfferPresented:
		return m.applyOfferAnswer(s, ev), nil

	case domain.StateAccepted, domain.StateDeclined, domain.StateAbandoned:
		return msgFinished, nil

	default:
		return "", fmt.Errorf("unknown session state %q", s.State)
	}
}

// applyCollecting validates the inbound value against the next expected
// attribute. Invalid input re-prompts without advancing; valid input is
// stored and the machine moves to the next missing attribute or to
// confirmation once the flow is complete.
func (m *Machine) applyCollecting(s *domain.Session, ev Event) string {
	attr := m.flow.NextMissing(s)
	if attr == nil {
		s.State = domain.StateAwaitingConfirmation
		return confirmationMessage(s)
	}

	value, ok := attr.Parse(ev.Text)
	if !ok {
		return attr.Invalid + "\n\n" + attr.Prompt
	}
	s.SetField(attr.Name, value)

	if next := m.flow.NextMissing(s); next != nil {
		return next.Prompt
	}

	s.State = domain.StateAwaitingConfirmation
	return confirmationMessage(s)
}

func (m *Machine) applyConfirmation(ctx context.Context, s *domain.Session, ev Event) (string, error) {
	yes, ok := parseYesNo(ev.Text)
	if !ok {
		return msgAskYesNo, nil
	}
	if !yes {
		// Full re-collection from the first attribute.
		s.ResetCollection()
		return m.flow.attributes[0].Prompt, nil
	}

	s.State = domain.StateScoring
	return m.runScoring(ctx, s)
}

// runScoring resolves the market reference, computes score and offer, and
// presents the outcome. A transient market failure leaves the session in
// the scoring state with a generic retry prompt.
func (m *Machine) runScoring(ctx context.Context, s *domain.Session) (string, error) {
	inputs := domain.ScoreInputs{
		Crop:            s.FieldString(fieldCrop),
		AreaHectares:    s.FieldFloat(fieldArea),
		Irrigation:      s.FieldString(fieldIrrigation),
		Channel:         s.FieldString(fieldChannel),
		Location:        s.FieldString(fieldLocation),
		RequestedAmount: s.FieldFloat(fieldAmount),
	}

	reference, err := m.prices.Get(ctx, inputs.Crop, inputs.Location)
	if err != nil {
		slog.Warn("scoring deferred, market reference unavailable",
			"phone", s.Phone, "crop", inputs.Crop, "zone", inputs.Location, "error", err)
		return msgRetry, nil
	}
	inputs.ReferenceValue = reference

	score := m.scorer.Score(inputs, m.now())
	offer := m.offers.Offer(score, inputs.RequestedAmount)
	s.Score = &score
	s.Offer = &offer

	if offer.Declined() {
		s.State = domain.StateDeclined
		switch offer.DeclineReason {
		case domain.DeclineAmountExceedsEligibility:
			return msgDeclineAmount, nil
		default:
			return msgDeclineScore, nil
		}
	}

	s.State = domain.StateOfferPresented
	return offerMessage(s.Score, s.Offer), nil
}

func (m *Machine) applyOfferAnswer(s *domain.Session, ev Event) string {
	yes, ok := parseYesNo(ev.Text)
	if !ok {
		return msgAskYesNo
	}
	if yes {
		s.State = domain.StateAccepted
		return msgAccepted
	}
	s.State = domain.StateDeclined
	return msgDeclinedByUser
}

func parseYesNo(input string) (yes, ok bool) {
	switch normalize(input) {
	case "si", "s", "1", "yes", "claro", "si quiero":
		return true, true
	case "no", "n", "2":
		return false, true
	}
	return false, false
}
