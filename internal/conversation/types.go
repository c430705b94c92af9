package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/moshengai/dubbing-gateway/internal/command"
	"github.com/moshengai/dubbing-gateway/internal/synth"
	"github.com/moshengai/dubbing-gateway/internal/voice"
)

// Author identifies who produced a turn.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// Phase is the orchestrator's per-turn processing state.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseAwaitingChatReply Phase = "awaiting_chat_reply"
	PhaseRevealingReply    Phase = "revealing_reply"
	PhaseExecutingCommands Phase = "executing_commands"
)

// Turn is one exchange unit of the conversation. Asynchronous command results
// land on it via copy-on-write replacement in the turn list, never shared
// mutation.
type Turn struct {
	ID          string             `json:"id"`
	Author      Author             `json:"author"`
	Text        string             `json:"text"`         // raw content as received/sent
	DisplayText string             `json:"display_text"` // command markers stripped
	Commands    []command.Command  `json:"-"`            // parsed from Text, assistant turns only
	Voices      *voice.Recommendation `json:"voices,omitempty"`
	FinalAudio  *synth.Result      `json:"final_audio,omitempty"`
	IsError     bool               `json:"is_error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// NewUserTurn builds a turn for user input; no commands are ever parsed from
// user text.
func NewUserTurn(text string) Turn {
	return Turn{
		ID:          uuid.New().String(),
		Author:      AuthorUser,
		Text:        text,
		DisplayText: text,
		CreatedAt:   time.Now(),
	}
}

// NewAssistantTurn builds a turn for an assistant reply, extracting embedded
// commands and the stripped display text.
func NewAssistantTurn(text string) Turn {
	return Turn{
		ID:          uuid.New().String(),
		Author:      AuthorAssistant,
		Text:        text,
		DisplayText: command.DisplayText(text),
		Commands:    command.Parse(text),
		CreatedAt:   time.Now(),
	}
}

// NewErrorTurn builds an error-flagged assistant turn. Error turns are
// appended to history like normal turns, preserving order and auditability.
func NewErrorTurn(text string) Turn {
	t := NewAssistantTurn(text)
	t.IsError = true
	return t
}

// State is the whole conversation snapshot the reducer transitions over.
type State struct {
	Turns []Turn
	Phase Phase
}

// NewState returns an empty idle conversation.
func NewState() State {
	return State{Phase: PhaseIdle}
}

// FindTurn returns the index of the turn with the given ID, or -1.
func (s State) FindTurn(id string) int {
	for i := range s.Turns {
		if s.Turns[i].ID == id {
			return i
		}
	}
	return -1
}
