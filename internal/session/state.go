package session

import "github.com/manash/maskopt/pkg/models"

// State is the single owned record of the session's phase, latest result and
// the server's connected-user broadcast. It performs no validation; callers
// enforce the state machine.
type State struct {
	phase    models.Phase
	result   *models.OptimizationResult
	numUsers int
	outcome  models.Outcome
}

// Snapshot is a value copy of State.
type Snapshot struct {
	Phase       models.Phase
	Result      *models.OptimizationResult
	NumUsers    int
	LastOutcome models.Outcome
}

func NewState() *State {
	return &State{phase: models.PhaseIdle}
}

func (s *State) Phase() models.Phase {
	return s.phase
}

func (s *State) SetPhase(p models.Phase) {
	s.phase = p
}

func (s *State) Result() *models.OptimizationResult {
	return s.result
}

func (s *State) HasResult() bool {
	return s.result != nil
}

func (s *State) SetResult(r *models.OptimizationResult) {
	s.result = r
}

func (s *State) ClearResult() {
	s.result = nil
}

func (s *State) NumUsers() int {
	return s.numUsers
}

func (s *State) SetNumUsers(n int) {
	s.numUsers = n
}

func (s *State) LastOutcome() models.Outcome {
	return s.outcome
}

func (s *State) SetLastOutcome(o models.Outcome) {
	s.outcome = o
}

func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Phase:       s.phase,
		NumUsers:    s.numUsers,
		LastOutcome: s.outcome,
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}
