// Package server exposes the gateway over HTTP: a WebSocket chat endpoint
// carrying the conversation protocol and a small REST surface for saved
// history.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/moshengai/dubbing-gateway/internal/config"
	"github.com/moshengai/dubbing-gateway/internal/conversation"
	"github.com/moshengai/dubbing-gateway/internal/history"
	"github.com/moshengai/dubbing-gateway/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The gateway sits behind the web app's reverse proxy, which
		// enforces origin. Allow all here.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Deps are the collaborators a chat session needs.
type Deps struct {
	Config      *config.Config
	Chat        conversation.ChatClient
	Recommender conversation.Recommender
	Synthesizer conversation.Synthesizer
	Store       *history.Store
}

// inboundFrame is one client-to-gateway message.
type inboundFrame struct {
	Type           string `json:"type"` // message, reset, load
	Text           string `json:"text,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// outboundFrame is one gateway-to-client message.
type outboundFrame struct {
	Type    string              `json:"type"`
	Phase   conversation.Phase  `json:"phase,omitempty"`
	Turn    *conversation.Turn  `json:"turn,omitempty"`
	Turns   []conversation.Turn `json:"turns,omitempty"`
	TurnID  string              `json:"turn_id,omitempty"`
	Chunk   string              `json:"chunk,omitempty"`
	Message string              `json:"message,omitempty"`
}

// chatSession is the state of one WebSocket connection. Outbound writes are
// serialized through the send channel; the write loop is the only writer.
type chatSession struct {
	conn         *websocket.Conn
	orchestrator *conversation.Orchestrator
	store        *history.Store

	mu             sync.Mutex
	conversationID string

	send chan outboundFrame
	once sync.Once
	done chan struct{}

	logger zerolog.Logger
}

func newChatSession(conn *websocket.Conn, deps Deps) *chatSession {
	s := &chatSession{
		conn:           conn,
		store:          deps.Store,
		conversationID: observability.NewSessionID(),
		send:           make(chan outboundFrame, 256),
		done:           make(chan struct{}),
	}
	s.logger = observability.WithSession(s.conversationID)
	s.orchestrator = conversation.New(deps.Config, deps.Chat, deps.Recommender, deps.Synthesizer, s.forward)
	return s
}

// HandleChatWS upgrades the connection and runs one chat session until the
// client disconnects.
func HandleChatWS(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger := observability.GetLogger()
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		s := newChatSession(conn, deps)
		observability.RecordSessionStart()
		s.logger.Info().Str("remote", r.RemoteAddr).Msg("chat session started")

		go s.writeLoop()
		s.readLoop(r.Context())

		s.close()
		observability.RecordSessionEnd()
		s.logger.Info().Msg("chat session ended")
	}
}

func (s *chatSession) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// forward maps conversation events onto wire frames. It runs on the
// orchestrator's goroutine; the buffered channel decouples it from the
// socket. A slow client loses frames rather than stalling the turn.
func (s *chatSession) forward(e conversation.Event) {
	var frame outboundFrame
	switch ev := e.(type) {
	case conversation.TurnAppended:
		t := ev.Turn
		frame = outboundFrame{Type: "turn_appended", Turn: &t}
	case conversation.TurnUpdated:
		t := ev.Turn
		frame = outboundFrame{Type: "turn_updated", Turn: &t}
	case conversation.PhaseChanged:
		frame = outboundFrame{Type: "phase", Phase: ev.Phase}
	case conversation.RevealChunk:
		frame = outboundFrame{Type: "reveal_chunk", TurnID: ev.TurnID, Chunk: ev.Chunk}
	case conversation.Reset:
		frame = outboundFrame{Type: "reset"}
	case conversation.Loaded:
		frame = outboundFrame{Type: "conversation", Turns: ev.Turns}
	default:
		return
	}

	select {
	case s.send <- frame:
	case <-s.done:
	default:
		s.logger.Warn().Str("type", frame.Type).Msg("send buffer full, dropping frame")
	}
}

func (s *chatSession) writeLoop() {
	for {
		select {
		case frame := <-s.send:
			if err := s.conn.WriteJSON(frame); err != nil {
				s.logger.Debug().Err(err).Msg("websocket write failed")
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *chatSession) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError("无法解析的消息格式")
			continue
		}

		switch frame.Type {
		case "message":
			s.handleMessage(ctx, frame.Text)
		case "reset":
			s.persist()
			s.orchestrator.Reset()
			s.setConversationID(observability.NewSessionID())
		case "load":
			s.handleLoad(frame.ConversationID)
		default:
			s.sendError("未知的消息类型: " + frame.Type)
		}
	}
}

// handleMessage runs the turn on its own goroutine so the read loop keeps
// draining control frames. Concurrent input is rejected by the orchestrator.
func (s *chatSession) handleMessage(ctx context.Context, text string) {
	if text == "" {
		return
	}
	go func() {
		if err := s.orchestrator.HandleUserMessage(ctx, text); err != nil {
			s.sendError("当前消息正在处理中，请稍候再发送。")
			return
		}
		s.persist()
	}()
}

func (s *chatSession) handleLoad(id string) {
	if id == "" {
		s.sendError("缺少会话ID")
		return
	}
	turns, err := s.store.Get(id)
	if err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", id).Msg("loading conversation failed")
		s.sendError("无法加载历史会话")
		return
	}
	s.setConversationID(id)
	s.orchestrator.Load(turns)
}

func (s *chatSession) setConversationID(id string) {
	s.mu.Lock()
	s.conversationID = id
	s.mu.Unlock()
}

func (s *chatSession) currentConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// persist saves the current turn list under the session's conversation ID.
func (s *chatSession) persist() {
	snapshot := s.orchestrator.Snapshot()
	if err := s.store.Save(s.currentConversationID(), snapshot.Turns); err != nil {
		s.logger.Error().Err(err).Msg("saving conversation failed")
		observability.RecordError("history_save", "server")
	}
}

func (s *chatSession) sendError(msg string) {
	select {
	case s.send <- outboundFrame{Type: "error", Message: msg}:
	case <-s.done:
	default:
	}
}
