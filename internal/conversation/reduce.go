package conversation

// Event is a conversation state transition input. The orchestrator and the
// transport layer communicate only through dispatched events, never shared
// references.
type Event interface {
	isEvent()
}

// TurnAppended adds a turn to the end of the conversation.
type TurnAppended struct {
	Turn Turn
}

// TurnUpdated replaces the turn with the same ID. Unknown IDs are ignored.
type TurnUpdated struct {
	Turn Turn
}

// PhaseChanged moves the orchestrator's processing phase.
type PhaseChanged struct {
	Phase Phase
}

// RevealChunk is a presentation pacing event: one fragment of an assistant
// reply being revealed. It does not change state; transports forward it to
// the client for the typing effect.
type RevealChunk struct {
	TurnID string
	Chunk  string
}

// Reset discards all conversation state.
type Reset struct{}

// Loaded replaces the turn list wholesale, used when restoring a saved
// conversation.
type Loaded struct {
	Turns []Turn
}

func (TurnAppended) isEvent() {}
func (TurnUpdated) isEvent()  {}
func (PhaseChanged) isEvent() {}
func (RevealChunk) isEvent()  {}
func (Reset) isEvent()        {}
func (Loaded) isEvent()       {}

// Reduce applies one event to a state and returns the next state. Pure: the
// input state is never mutated, turn replacement is copy-on-write.
func Reduce(s State, e Event) State {
	switch ev := e.(type) {
	case TurnAppended:
		next := s
		next.Turns = make([]Turn, len(s.Turns), len(s.Turns)+1)
		copy(next.Turns, s.Turns)
		next.Turns = append(next.Turns, ev.Turn)
		return next

	case TurnUpdated:
		i := s.FindTurn(ev.Turn.ID)
		if i < 0 {
			return s
		}
		next := s
		next.Turns = make([]Turn, len(s.Turns))
		copy(next.Turns, s.Turns)
		next.Turns[i] = ev.Turn
		return next

	case PhaseChanged:
		next := s
		next.Phase = ev.Phase
		return next

	case RevealChunk:
		return s

	case Reset:
		return NewState()

	case Loaded:
		next := NewState()
		next.Turns = make([]Turn, len(ev.Turns))
		copy(next.Turns, ev.Turns)
		return next
	}

	return s
}
