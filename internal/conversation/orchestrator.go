// Package conversation drives one user turn to completion: call the chat API,
// reveal the reply, then execute any embedded voice-service commands in
// order, folding results back into the turn list through the reducer.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moshengai/dubbing-gateway/internal/chat"
	"github.com/moshengai/dubbing-gateway/internal/command"
	"github.com/moshengai/dubbing-gateway/internal/config"
	"github.com/moshengai/dubbing-gateway/internal/observability"
	"github.com/moshengai/dubbing-gateway/internal/synth"
	"github.com/moshengai/dubbing-gateway/internal/voice"
)

// ErrTurnInFlight is returned when user input arrives while a prior turn's
// chat call or command batch is still running. The input is rejected, not
// queued.
var ErrTurnInFlight = errors.New("a conversation turn is already in flight")

// ChatClient is the chat completion collaborator.
type ChatClient interface {
	Send(ctx context.Context, history []chat.Message) (string, error)
}

// Recommender is the voice recommendation collaborator.
type Recommender interface {
	Recommend(ctx context.Context, text string) (*voice.Recommendation, error)
}

// Synthesizer is the submit-and-poll synthesis collaborator.
type Synthesizer interface {
	SubmitAndWait(ctx context.Context, req synth.Request) (*synth.Result, error)
}

// Sink receives every dispatched event, already applied to the state.
type Sink func(Event)

// Orchestrator owns one conversation's state machine.
type Orchestrator struct {
	chat        ChatClient
	recommender Recommender
	synthesizer Synthesizer
	revealDelay time.Duration
	logger      zerolog.Logger

	mu    sync.Mutex
	state State
	sink  Sink
}

// New creates an orchestrator over the three collaborators.
func New(cfg *config.Config, chatClient ChatClient, rec Recommender, syn Synthesizer, sink Sink) *Orchestrator {
	if sink == nil {
		sink = func(Event) {}
	}
	return &Orchestrator{
		chat:        chatClient,
		recommender: rec,
		synthesizer: syn,
		revealDelay: time.Duration(cfg.RevealDelay) * time.Millisecond,
		logger:      observability.GetLogger().With().Str("component", "conversation").Logger(),
		state:       NewState(),
		sink:        sink,
	}
}

// Snapshot returns a copy of the current conversation state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.state
	s.Turns = make([]Turn, len(o.state.Turns))
	copy(s.Turns, o.state.Turns)
	return s
}

// Reset discards all conversation state. In-flight calls are not aborted;
// their results land on the discarded state and are never observed.
func (o *Orchestrator) Reset() {
	o.dispatch(Reset{})
}

// Load replaces the conversation with a previously saved turn list.
func (o *Orchestrator) Load(turns []Turn) {
	o.dispatch(Loaded{Turns: turns})
}

// dispatch applies an event to the state under the lock and forwards it to
// the sink.
func (o *Orchestrator) dispatch(e Event) {
	o.mu.Lock()
	o.state = Reduce(o.state, e)
	o.mu.Unlock()
	o.sink(e)
}

// HandleUserMessage drives one full turn: append the user turn, call the chat
// API, reveal the reply, then execute embedded commands sequentially. All
// failures beyond ErrTurnInFlight surface as error turns, not returned errors.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, text string) error {
	o.mu.Lock()
	if o.state.Phase != PhaseIdle {
		o.mu.Unlock()
		return ErrTurnInFlight
	}
	o.state = Reduce(o.state, PhaseChanged{Phase: PhaseAwaitingChatReply})
	o.mu.Unlock()
	o.sink(PhaseChanged{Phase: PhaseAwaitingChatReply})

	defer func() {
		o.dispatch(PhaseChanged{Phase: PhaseIdle})
	}()

	userTurn := NewUserTurn(text)
	o.dispatch(TurnAppended{Turn: userTurn})

	reply, err := o.chat.Send(ctx, o.history())
	if err != nil {
		o.appendChatError(err)
		return nil
	}

	assistantTurn := NewAssistantTurn(reply)
	if assistantTurn.DisplayText != "" {
		o.reveal(ctx, assistantTurn)
	}
	o.dispatch(TurnAppended{Turn: assistantTurn})

	if len(assistantTurn.Commands) > 0 {
		o.dispatch(PhaseChanged{Phase: PhaseExecutingCommands})
		o.executeCommands(ctx, assistantTurn)
	}

	return nil
}

// history converts the turn list into chat messages, dropping error turns so
// diagnostics never feed back into the model.
func (o *Orchestrator) history() []chat.Message {
	snapshot := o.Snapshot()
	msgs := make([]chat.Message, 0, len(snapshot.Turns))
	for _, t := range snapshot.Turns {
		if t.IsError {
			continue
		}
		role := "user"
		if t.Author == AuthorAssistant {
			role = "assistant"
		}
		msgs = append(msgs, chat.Message{Role: role, Content: t.Text})
	}
	return msgs
}

// reveal paces out the display text rune by rune. Pacing only: state
// correctness never depends on these events.
func (o *Orchestrator) reveal(ctx context.Context, turn Turn) {
	o.dispatch(PhaseChanged{Phase: PhaseRevealingReply})

	if o.revealDelay <= 0 {
		o.sink(RevealChunk{TurnID: turn.ID, Chunk: turn.DisplayText})
		return
	}

	for _, r := range turn.DisplayText {
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.revealDelay):
		}
		o.sink(RevealChunk{TurnID: turn.ID, Chunk: string(r)})
	}
}

// executeCommands runs the turn's commands strictly in parse order. A failing
// command appends an error turn and the loop continues: partial failure is
// tolerated, not fatal to the batch. The recommendation in effect is resolved
// once up front and then threaded directly to handlers; a recommend command
// inside the batch supersedes it for the commands after it.
func (o *Orchestrator) executeCommands(ctx context.Context, turn Turn) {
	rec, recTurnID := o.latestRecommendation()

	for _, cmd := range turn.Commands {
		var err error
		switch cmd.Kind {
		case command.KindRecommendVoices:
			var got *voice.Recommendation
			got, err = o.runRecommend(ctx, turn, cmd)
			if err == nil {
				rec, recTurnID = got, turn.ID
			}
		case command.KindPreviewVoice:
			err = o.runPreview(ctx, cmd, rec, recTurnID)
		case command.KindConfirmVoice:
			err = o.runConfirm(ctx, cmd, rec)
		}

		observability.RecordCommand(string(cmd.Kind), err == nil)
		if err != nil {
			o.logger.Warn().Err(err).Str("kind", string(cmd.Kind)).
				Str("turn_id", turn.ID).Msg("command failed")
		}
	}
}

func (o *Orchestrator) runRecommend(ctx context.Context, turn Turn, cmd command.Command) (*voice.Recommendation, error) {
	rec, err := o.recommender.Recommend(ctx, cmd.Text)
	if err != nil {
		o.dispatch(TurnAppended{Turn: NewErrorTurn(
			fmt.Sprintf("抱歉，获取推荐音色时出错: %v", err))})
		return nil, err
	}

	updated := turn
	updated.Voices = rec
	o.dispatch(TurnUpdated{Turn: updated})
	return rec, nil
}

// latestRecommendation finds the most recent turn carrying a voice
// recommendation, scanning newest first.
func (o *Orchestrator) latestRecommendation() (*voice.Recommendation, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.state.Turns) - 1; i >= 0; i-- {
		if o.state.Turns[i].Voices != nil {
			return o.state.Turns[i].Voices, o.state.Turns[i].ID
		}
	}
	return nil, ""
}

func (o *Orchestrator) runPreview(ctx context.Context, cmd command.Command, rec *voice.Recommendation, recTurnID string) error {
	if rec == nil {
		o.dispatch(TurnAppended{Turn: NewErrorTurn(
			"抱歉，无法找到需要试听的音色信息。请先确认文本并选择音色。")})
		return fmt.Errorf("preview requested before voice recommendation")
	}

	optionID := cmd.Gender + "-" + cmd.VoiceLabel
	o.setOptionState(recTurnID, optionID, voice.StateFetching, "")

	result, err := o.synthesizer.SubmitAndWait(ctx, synth.Request{
		Text:       rec.Text,
		Gender:     cmd.Gender,
		VoiceLabel: cmd.VoiceLabel,
		Mode:       synth.ModePreview,
	})
	if err != nil {
		o.setOptionState(recTurnID, optionID, voice.StateFailed, "")
		o.dispatch(TurnAppended{Turn: NewErrorTurn(
			fmt.Sprintf("试听语音时出错: %v", err))})
		return err
	}

	o.setOptionState(recTurnID, optionID, voice.StateReady, result.MP3URL)
	return nil
}

func (o *Orchestrator) runConfirm(ctx context.Context, cmd command.Command, rec *voice.Recommendation) error {
	if rec == nil {
		o.dispatch(TurnAppended{Turn: NewErrorTurn(
			"抱歉，无法找到需要确认的音色信息。请先确认文本并选择音色。")})
		return fmt.Errorf("confirmation requested before voice recommendation")
	}

	result, err := o.synthesizer.SubmitAndWait(ctx, synth.Request{
		Text:       rec.Text,
		Gender:     cmd.Gender,
		VoiceLabel: cmd.VoiceLabel,
		Mode:       synth.ModeFinal,
	})
	if err != nil {
		o.dispatch(TurnAppended{Turn: NewErrorTurn(
			fmt.Sprintf("确认生成时出错: %v", err))})
		return err
	}

	final := NewAssistantTurn("配音已生成完成，您可以点击下方播放按钮收听。")
	final.FinalAudio = result
	o.dispatch(TurnAppended{Turn: final})
	return nil
}

func (o *Orchestrator) appendChatError(err error) {
	var chatErr *chat.Error
	if errors.As(err, &chatErr) {
		o.dispatch(TurnAppended{Turn: NewErrorTurn(
			fmt.Sprintf("抱歉，发生了错误 (%d): %s", chatErr.Status, chatErr.Detail))})
		return
	}
	o.dispatch(TurnAppended{Turn: NewErrorTurn(
		fmt.Sprintf("抱歉，发生了错误: %v", err))})
}

// setOptionState replaces the matching voice option on the target turn with
// an updated copy. Missing turns or options are ignored: a session reset in
// the meantime simply discards the result.
func (o *Orchestrator) setOptionState(turnID, optionID string, state voice.OptionState, previewURL string) {
	o.mu.Lock()
	i := o.state.FindTurn(turnID)
	if i < 0 || o.state.Turns[i].Voices == nil {
		o.mu.Unlock()
		return
	}

	turn := o.state.Turns[i]
	voices := *turn.Voices
	voices.Male = updateOption(voices.Male, optionID, state, previewURL)
	voices.Female = updateOption(voices.Female, optionID, state, previewURL)
	turn.Voices = &voices
	o.mu.Unlock()

	o.dispatch(TurnUpdated{Turn: turn})
}

func updateOption(opts []voice.Option, id string, state voice.OptionState, previewURL string) []voice.Option {
	out := make([]voice.Option, len(opts))
	copy(out, opts)
	for i := range out {
		if out[i].ID == id {
			out[i].State = state
			if previewURL != "" {
				out[i].PreviewURL = previewURL
			}
		}
	}
	return out
}
