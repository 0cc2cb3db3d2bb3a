// Package wizard owns the answers of one fog-light wizard session and the
// five-step flow over them.
package wizard

import (
	"errors"

	"github.com/google/uuid"

	"github.com/motolight/motolight/engine/domain"
)

// Steps of the flow.
const (
	StepIntroduction = iota + 1
	StepEducation
	StepCapacity
	StepRiding
	StepRecommendation
)

// StepTitles are the headings shown for each step.
var StepTitles = map[int]string{
	StepIntroduction:   "Moto Light",
	StepEducation:      "Electrical Basics",
	StepCapacity:       "Capacity Setup",
	StepRiding:         "Riding Pattern",
	StepRecommendation: "Recommendation",
}

// ExistingLoadStep is the increment of the existing-load stepper buttons.
const ExistingLoadStep = 10

var ErrStepIncomplete = errors.New("wizard: current step is incomplete")

// ClampStep forces n into the valid step range.
func ClampStep(n int) int {
	return min(max(n, StepIntroduction), StepRecommendation)
}

// NewVisitorID mints an opaque visitor id.
func NewVisitorID() string { return uuid.NewString() }

// Defaults returns a fresh answer set for visitorID.
func Defaults(visitorID string) domain.Answers {
	return domain.Answers{
		Step:               StepIntroduction,
		RecommendationMode: domain.ModeStyle,
		VisitorID:          visitorID,
		BeamColor:          domain.BeamAmber,
	}
}

// Machine holds the answers of one session. It is not safe for concurrent
// use; callers serialise access.
type Machine struct {
	answers domain.Answers
}

// New starts a machine with default answers. An empty visitorID gets a
// freshly minted one.
func New(visitorID string) *Machine {
	if visitorID == "" {
		visitorID = NewVisitorID()
	}
	return &Machine{answers: Defaults(visitorID)}
}

// Answers returns a copy of the current answers.
func (m *Machine) Answers() domain.Answers { return m.answers }

// Step returns the current step.
func (m *Machine) Step() int { return m.answers.Step }

// SetState merges p into the answers. A nil patch resets every answer to its
// default but keeps the visitor id.
func (m *Machine) SetState(p *Patch) {
	if p == nil {
		m.answers = Defaults(m.answers.VisitorID)
		return
	}
	p.apply(&m.answers)
}

// GoToStep moves to step n, clamped into range. Gates are not checked here;
// use Next for gated forward navigation.
func (m *Machine) GoToStep(n int) {
	m.answers.Step = ClampStep(n)
}

// CanReveal reports whether capacity results and recommendations may be
// shown: a vehicle is fully selected and usage was checked.
func (m *Machine) CanReveal() bool {
	return canReveal(m.answers)
}

func canReveal(a domain.Answers) bool {
	return a.CheckedUsage && a.Vehicle().Configured()
}

// CanAdvance reports whether the current step's gate is open.
func (m *Machine) CanAdvance() bool {
	return canAdvance(m.answers)
}

func canAdvance(a domain.Answers) bool {
	switch a.Step {
	case StepCapacity:
		return canReveal(a)
	case StepRiding:
		return a.RidingAnswered()
	case StepRecommendation:
		return false
	default:
		return true
	}
}

// Next advances one step when the current gate is open.
func (m *Machine) Next() error {
	if !m.CanAdvance() {
		return ErrStepIncomplete
	}
	m.GoToStep(m.answers.Step + 1)
	return nil
}

// Back moves one step back. It is always allowed.
func (m *Machine) Back() {
	m.GoToStep(m.answers.Step - 1)
}

// AdjustExistingLoad changes the declared accessory load by delta, never
// going below zero.
func (m *Machine) AdjustExistingLoad(delta int) {
	m.answers.ExistingLoad = max(m.answers.ExistingLoad+delta, 0)
}

// Rehydrate replaces every answer with the ones stored in r and jumps to the
// recommendation step. A report without a visitor id keeps the session's id.
func (m *Machine) Rehydrate(r domain.Report) {
	visitor := m.answers.VisitorID
	m.answers = r.Answers
	if m.answers.VisitorID == "" {
		m.answers.VisitorID = visitor
	}
	if m.answers.VisitorID == "" {
		m.answers.VisitorID = NewVisitorID()
	}
	m.answers.Step = StepRecommendation
}

// ClampIndex bounds idx to a list of n items. An empty list yields 0.
func ClampIndex(idx, n int) int {
	if n <= 0 {
		return 0
	}
	return min(max(idx, 0), n-1)
}

// PrevRecommendation moves the cursor back within a list of n items.
func (m *Machine) PrevRecommendation(n int) {
	m.answers.RecommendationIndex = ClampIndex(ClampIndex(m.answers.RecommendationIndex, n)-1, n)
}

// NextRecommendation moves the cursor forward, stopping at the last item.
func (m *Machine) NextRecommendation(n int) {
	m.answers.RecommendationIndex = ClampIndex(ClampIndex(m.answers.RecommendationIndex, n)+1, n)
}

// CycleRecommendation moves the cursor forward, wrapping to the first item.
func (m *Machine) CycleRecommendation(n int) {
	cur := ClampIndex(m.answers.RecommendationIndex, n)
	if cur < n-1 {
		m.answers.RecommendationIndex = cur + 1
		return
	}
	m.answers.RecommendationIndex = 0
}
