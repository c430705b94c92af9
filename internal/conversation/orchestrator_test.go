package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moshengai/dubbing-gateway/internal/chat"
	"github.com/moshengai/dubbing-gateway/internal/config"
	"github.com/moshengai/dubbing-gateway/internal/synth"
	"github.com/moshengai/dubbing-gateway/internal/voice"
)

type fakeChat struct {
	mu        sync.Mutex
	replies   []string
	err       error
	histories [][]chat.Message
	block     chan struct{} // when set, Send waits until it closes
}

func (f *fakeChat) Send(ctx context.Context, history []chat.Message) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories = append(f.histories, history)
	if f.err != nil {
		return "", f.err
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

type fakeRecommender struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeRecommender) Recommend(ctx context.Context, text string) (*voice.Recommendation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return &voice.Recommendation{
		Text:   text,
		Male:   []voice.Option{voice.NewOption(voice.GenderMale, "磁性男声1")},
		Female: []voice.Option{voice.NewOption(voice.GenderFemale, "温柔女声1")},
	}, nil
}

func (f *fakeRecommender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

type fakeSynth struct {
	mu       sync.Mutex
	requests []synth.Request
	result   *synth.Result
	err      error
}

func (f *fakeSynth) SubmitAndWait(ctx context.Context, req synth.Request) (*synth.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeSynth) calls() []synth.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]synth.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func testConfig() *config.Config {
	return &config.Config{RevealDelay: 0}
}

func newTestOrchestrator(c ChatClient, r Recommender, s Synthesizer, sink Sink) *Orchestrator {
	return New(testConfig(), c, r, s, sink)
}

const recommendReply = "好的，为您推荐以下音色：<<<{\"action\":\"recommend_voice_styles\",\"text\":\"限时特惠，全场五折起！\"}>>>"

func TestHandleUserMessage_RecommendFlow(t *testing.T) {
	chatC := &fakeChat{replies: []string{recommendReply}}
	rec := &fakeRecommender{}
	syn := &fakeSynth{}
	o := newTestOrchestrator(chatC, rec, syn, nil)

	if err := o.HandleUserMessage(context.Background(), "给我一段促销文案"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.calls() != 1 {
		t.Fatalf("expected 1 recommendation call, got %d", rec.calls())
	}
	if rec.texts[0] != "限时特惠，全场五折起！" {
		t.Errorf("wrong script recommended: %q", rec.texts[0])
	}
	if n := len(syn.calls()); n != 0 {
		t.Errorf("recommendation must not trigger synthesis, got %d calls", n)
	}

	s := o.Snapshot()
	if s.Phase != PhaseIdle {
		t.Errorf("expected idle phase after turn, got %q", s.Phase)
	}
	if len(s.Turns) != 2 {
		t.Fatalf("expected user + assistant turns, got %d", len(s.Turns))
	}
	assistant := s.Turns[1]
	if assistant.Voices == nil {
		t.Fatal("assistant turn should carry the recommendation")
	}
	if len(assistant.Voices.Male) != 1 || len(assistant.Voices.Female) != 1 {
		t.Error("recommendation options missing")
	}
	if strings.Contains(assistant.DisplayText, "<<<") {
		t.Errorf("display text still contains marker: %q", assistant.DisplayText)
	}
}

func TestHandleUserMessage_ConfirmUsesEarlierRecommendation(t *testing.T) {
	confirmReply := "好的，开始生成。<<<{\"action\":\"tts_final\",\"gender\":\"男声\",\"voice_label\":\"磁性男声1\"}>>>"
	chatC := &fakeChat{replies: []string{recommendReply, confirmReply}}
	rec := &fakeRecommender{}
	syn := &fakeSynth{result: &synth.Result{
		AudioID: "a1",
		WAVURL:  "https://voice.example.com/audio/a1.wav",
		MP3URL:  "https://voice.example.com/audio/a1.mp3",
	}}
	o := newTestOrchestrator(chatC, rec, syn, nil)

	ctx := context.Background()
	if err := o.HandleUserMessage(ctx, "给我一段促销文案"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if err := o.HandleUserMessage(ctx, "就用磁性男声1"); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	calls := syn.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 synthesis call, got %d", len(calls))
	}
	req := calls[0]
	if req.Mode != synth.ModeFinal {
		t.Errorf("expected final mode, got %q", req.Mode)
	}
	if req.Text != "限时特惠，全场五折起！" {
		t.Errorf("confirmation should reuse the recommended script, got %q", req.Text)
	}
	if req.Gender != voice.GenderMale || req.VoiceLabel != "磁性男声1" {
		t.Errorf("wrong voice selection: %q %q", req.Gender, req.VoiceLabel)
	}

	s := o.Snapshot()
	last := s.Turns[len(s.Turns)-1]
	if last.FinalAudio == nil {
		t.Fatal("expected a final audio turn")
	}
	if !strings.HasPrefix(last.FinalAudio.MP3URL, "https://") {
		t.Errorf("final audio URL not absolute: %q", last.FinalAudio.MP3URL)
	}
	if !strings.Contains(last.DisplayText, "配音已生成完成") {
		t.Errorf("unexpected completion text: %q", last.DisplayText)
	}
}

func TestHandleUserMessage_PreviewWithoutRecommendation(t *testing.T) {
	reply := "<<<{\"action\":\"tts_preview\",\"gender\":\"男声\",\"voice_label\":\"磁性男声1\"}>>>"
	chatC := &fakeChat{replies: []string{reply}}
	syn := &fakeSynth{}
	o := newTestOrchestrator(chatC, &fakeRecommender{}, syn, nil)

	if err := o.HandleUserMessage(context.Background(), "试听一下"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := len(syn.calls()); n != 0 {
		t.Fatalf("preview without recommendation must not call synthesis, got %d", n)
	}

	s := o.Snapshot()
	last := s.Turns[len(s.Turns)-1]
	if !last.IsError {
		t.Fatal("expected an error turn")
	}
	if !strings.Contains(last.Text, "无法找到需要试听的音色信息") {
		t.Errorf("unexpected error text: %q", last.Text)
	}
}

func TestHandleUserMessage_PreviewUpdatesOptionState(t *testing.T) {
	reply := recommendReply + "<<<{\"action\":\"tts_preview\",\"gender\":\"男声\",\"voice_label\":\"磁性男声1\"}>>>"
	chatC := &fakeChat{replies: []string{reply}}
	syn := &fakeSynth{result: &synth.Result{
		AudioID: "p1",
		MP3URL:  "https://voice.example.com/audio/p1.mp3",
	}}
	o := newTestOrchestrator(chatC, &fakeRecommender{}, syn, nil)

	if err := o.HandleUserMessage(context.Background(), "给我一段促销文案"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := syn.calls()
	if len(calls) != 1 || calls[0].Mode != synth.ModePreview {
		t.Fatalf("expected 1 preview call, got %+v", calls)
	}

	s := o.Snapshot()
	assistant := s.Turns[1]
	if assistant.Voices == nil {
		t.Fatal("assistant turn lost its recommendation")
	}
	opt, ok := assistant.Voices.Find(voice.GenderMale, "磁性男声1")
	if !ok {
		t.Fatal("previewed option missing from recommendation")
	}
	if opt.State != voice.StateReady {
		t.Errorf("expected ready option, got %q", opt.State)
	}
	if opt.PreviewURL != "https://voice.example.com/audio/p1.mp3" {
		t.Errorf("preview URL not stored: %q", opt.PreviewURL)
	}
}

func TestHandleUserMessage_PreviewFailureMarksOption(t *testing.T) {
	reply := recommendReply + "<<<{\"action\":\"tts_preview\",\"gender\":\"男声\",\"voice_label\":\"磁性男声1\"}>>>"
	chatC := &fakeChat{replies: []string{reply}}
	syn := &fakeSynth{err: errors.New("synthesis backend down")}
	o := newTestOrchestrator(chatC, &fakeRecommender{}, syn, nil)

	if err := o.HandleUserMessage(context.Background(), "给我一段促销文案"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := o.Snapshot()
	opt, ok := s.Turns[1].Voices.Find(voice.GenderMale, "磁性男声1")
	if !ok || opt.State != voice.StateFailed {
		t.Errorf("expected failed option, got %+v", opt)
	}
	last := s.Turns[len(s.Turns)-1]
	if !last.IsError || !strings.Contains(last.Text, "试听语音时出错") {
		t.Errorf("expected preview error turn, got %+v", last)
	}
}

func TestHandleUserMessage_ChatError(t *testing.T) {
	chatC := &fakeChat{err: &chat.Error{Status: 402, Detail: "insufficient balance"}}
	o := newTestOrchestrator(chatC, &fakeRecommender{}, &fakeSynth{}, nil)

	if err := o.HandleUserMessage(context.Background(), "你好"); err != nil {
		t.Fatalf("chat failures must surface as turns, not errors: %v", err)
	}

	s := o.Snapshot()
	if s.Phase != PhaseIdle {
		t.Errorf("expected idle after failed turn, got %q", s.Phase)
	}
	last := s.Turns[len(s.Turns)-1]
	if !last.IsError {
		t.Fatal("expected an error turn")
	}
	if !strings.Contains(last.Text, "(402)") || !strings.Contains(last.Text, "insufficient balance") {
		t.Errorf("error turn should carry status and detail: %q", last.Text)
	}
}

func TestHandleUserMessage_RejectedWhileBusy(t *testing.T) {
	block := make(chan struct{})
	chatC := &fakeChat{replies: []string{"好的。"}, block: block}
	o := newTestOrchestrator(chatC, &fakeRecommender{}, &fakeSynth{}, nil)

	done := make(chan error, 1)
	go func() {
		done <- o.HandleUserMessage(context.Background(), "第一条")
	}()

	// wait for the first turn to leave idle
	deadline := time.After(2 * time.Second)
	for o.Snapshot().Phase == PhaseIdle {
		select {
		case <-deadline:
			t.Fatal("first turn never started")
		case <-time.After(time.Millisecond):
		}
	}

	if err := o.HandleUserMessage(context.Background(), "第二条"); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("expected ErrTurnInFlight, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if o.Snapshot().Phase != PhaseIdle {
		t.Error("orchestrator did not return to idle")
	}
}

func TestHandleUserMessage_HistoryExcludesErrorTurns(t *testing.T) {
	chatC := &fakeChat{err: &chat.Error{Status: 500, Detail: "boom"}}
	o := newTestOrchestrator(chatC, &fakeRecommender{}, &fakeSynth{}, nil)
	_ = o.HandleUserMessage(context.Background(), "第一条")

	chatC.mu.Lock()
	chatC.err = nil
	chatC.replies = []string{"第二次正常。"}
	chatC.mu.Unlock()

	if err := o.HandleUserMessage(context.Background(), "第二条"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chatC.mu.Lock()
	history := chatC.histories[len(chatC.histories)-1]
	chatC.mu.Unlock()
	for _, m := range history {
		if strings.Contains(m.Content, "抱歉，发生了错误") {
			t.Errorf("error turn leaked into chat history: %q", m.Content)
		}
	}
}

func TestHandleUserMessage_RevealChunksCoverDisplayText(t *testing.T) {
	chatC := &fakeChat{replies: []string{recommendReply}}

	var mu sync.Mutex
	var revealed strings.Builder
	sink := func(e Event) {
		if c, ok := e.(RevealChunk); ok {
			mu.Lock()
			revealed.WriteString(c.Chunk)
			mu.Unlock()
		}
	}
	o := newTestOrchestrator(chatC, &fakeRecommender{}, &fakeSynth{}, sink)

	if err := o.HandleUserMessage(context.Background(), "给我一段促销文案"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := o.Snapshot()
	mu.Lock()
	got := revealed.String()
	mu.Unlock()
	if got != s.Turns[1].DisplayText {
		t.Errorf("revealed %q, display text %q", got, s.Turns[1].DisplayText)
	}
}

func TestResetAndLoad(t *testing.T) {
	chatC := &fakeChat{replies: []string{"好的。"}}
	o := newTestOrchestrator(chatC, &fakeRecommender{}, &fakeSynth{}, nil)
	_ = o.HandleUserMessage(context.Background(), "你好")

	o.Reset()
	if s := o.Snapshot(); len(s.Turns) != 0 || s.Phase != PhaseIdle {
		t.Errorf("reset left state %+v", s)
	}

	saved := []Turn{NewUserTurn("旧对话"), NewAssistantTurn("旧回复")}
	o.Load(saved)
	if s := o.Snapshot(); len(s.Turns) != 2 || s.Turns[0].Text != "旧对话" {
		t.Errorf("load produced %+v", s)
	}
}
