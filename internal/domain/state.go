package domain

import "fmt"

// Phase is a state of a single gateway invocation.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseResolvingCredential
	PhaseDiscovering
	PhaseInvoking
	PhaseSucceeded
	PhaseFailed
)

var phaseNames = [...]string{"idle", "resolving_credential", "discovering", "invoking", "succeeded", "failed"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether no further transition is allowed.
func (p Phase) Terminal() bool { return p == PhaseSucceeded || p == PhaseFailed }

var allowedTransitions = map[Phase][]Phase{
	PhaseIdle:                {PhaseResolvingCredential},
	PhaseResolvingCredential: {PhaseDiscovering, PhaseFailed},
	PhaseDiscovering:         {PhaseInvoking, PhaseFailed},
	PhaseInvoking:            {PhaseInvoking, PhaseSucceeded, PhaseFailed},
}

// InvocationState tracks one invocation through
// Idle → ResolvingCredential → Discovering → Invoking(i) → Succeeded | Failed.
// Discovering reaches Failed directly only when no candidate is ever invoked.
// It is owned by a single invocation and is not safe for concurrent use.
type InvocationState struct {
	phase     Phase
	candidate int
	history   []Phase
}

// NewInvocationState returns a state machine in PhaseIdle.
func NewInvocationState() *InvocationState {
	return &InvocationState{phase: PhaseIdle, candidate: -1, history: []Phase{PhaseIdle}}
}

// Phase returns the current phase.
func (s *InvocationState) Phase() Phase { return s.phase }

// Candidate returns the index of the candidate being invoked, or -1 before
// the first attempt.
func (s *InvocationState) Candidate() int { return s.candidate }

// History returns every phase entered so far, in order.
func (s *InvocationState) History() []Phase {
	out := make([]Phase, len(s.history))
	copy(out, s.history)
	return out
}

// Transition moves to the given phase. Use Invoke to enter PhaseInvoking.
func (s *InvocationState) Transition(to Phase) error {
	if to == PhaseInvoking {
		return s.Invoke(s.candidate + 1)
	}
	return s.move(to)
}

// Invoke enters PhaseInvoking for candidate i. Candidates are entered
// strictly in increasing order starting at 0.
func (s *InvocationState) Invoke(i int) error {
	if i != s.candidate+1 {
		return fmt.Errorf("%w: candidate %d after %d", ErrInvalidTransition, i, s.candidate)
	}
	if err := s.move(PhaseInvoking); err != nil {
		return err
	}
	s.candidate = i
	return nil
}

func (s *InvocationState) move(to Phase) error {
	for _, next := range allowedTransitions[s.phase] {
		if next == to {
			s.phase = to
			s.history = append(s.history, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, to)
}
