package saga

import "github.com/molpadia/molpastory/internal/domain/entity"

// Phase is the position of a creation run in its state machine.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseStoryCreated
	PhaseUploadingSegments
	PhaseSegmentsPersisted
	PhaseCommitted
	PhaseCompensating
	PhaseRolledBack
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseStoryCreated:
		return "story_created"
	case PhaseUploadingSegments:
		return "uploading_segments"
	case PhaseSegmentsPersisted:
		return "segments_persisted"
	case PhaseCommitted:
		return "committed"
	case PhaseCompensating:
		return "compensating"
	case PhaseRolledBack:
		return "rolled_back"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Report whether no further transition can happen.
func (p Phase) IsTerminal() bool {
	return p == PhaseCommitted || p == PhaseRolledBack || p == PhaseFailed
}

// State is the progress log of a single run. It is owned by that run and is
// the only input of compensation.
type State struct {
	Phase        Phase
	StoryID      string
	UploadedKeys []string          // Confirmed uploads in submission order.
	Pending      []*entity.Segment // Segments not persisted yet.
	History      []Phase

	OrphanKeys  []string
	OrphanStory bool
}

func NewState() *State {
	return &State{Phase: PhaseInit, History: []Phase{PhaseInit}}
}

func (s *State) transition(to Phase) {
	s.Phase = to
	s.History = append(s.History, to)
}

// Report whether a write may have happened that compensation has to undo.
// A story ID is recorded as soon as its insert is attempted.
func (s *State) hasSideEffects() bool {
	return s.StoryID != "" || len(s.UploadedKeys) > 0
}
