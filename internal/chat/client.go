// Package chat talks to the OpenAI-compatible chat completion endpoint that
// drives the dubbing assistant.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/moshengai/dubbing-gateway/internal/config"
	"github.com/moshengai/dubbing-gateway/internal/observability"
)

// SystemPrompt primes the model as the dubbing assistant. Replies may embed
// voice-service directives wrapped in <<< ... >>> markers.
const SystemPrompt = `你是魔声AI，一个专业的AI配音助手。你专门帮助用户生成高质量的商业英文配音。

你的能力包括：
1. 根据用户需求生成专业的英文脚本
2. 提供多种口音和语音风格选择
3. 生成自然流畅的英文配音

当需要调用配音服务时，在回复中用 <<< 和 >>> 包裹一个JSON指令，例如：
<<<{"action": "recommend_voice_styles", "text": "要合成的文本"}>>>
<<<{"action": "tts_preview", "text": "...", "gender": "男声", "voice_label": "磁性男声1"}>>>
<<<{"action": "tts_final", "text": "...", "gender": "男声", "voice_label": "磁性男声1"}>>>

你的生成内容应该保持plain text风格，不要使用Markdown符号，方便用户复制粘贴配音文案。
请始终保持专业、友好和有帮助的态度。`

// Message is one entry of the conversation history sent upstream.
type Message struct {
	Role    string `json:"role"` // system, user or assistant
	Content string `json:"content"`
}

// Error carries the upstream HTTP status and detail for the error turn.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("chat service unavailable (%d): %s", e.Status, e.Detail)
}

// Client wraps the chat completion API.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// NewClient creates a chat client from config.
func NewClient(cfg *config.Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.ChatAPIKey)
	apiCfg.BaseURL = cfg.ChatBaseURL

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.ChatModel,
		temperature: float32(cfg.ChatTemperature),
		maxTokens:   cfg.ChatMaxTokens,
		timeout:     time.Duration(cfg.ChatTimeout) * time.Second,
	}
}

// Send submits the conversation history and returns the assistant reply text.
// The system prompt is prepended when the history does not carry one.
func (c *Client) Send(ctx context.Context, history []Message) (string, error) {
	start := time.Now()

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if len(history) == 0 || history[0].Role != openai.ChatMessageRoleSystem {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: SystemPrompt,
		})
	}
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		observability.RecordChatRequest(start, false)
		observability.RecordError("chat_request", "chat")
		return "", asChatError(err)
	}

	if len(resp.Choices) == 0 {
		observability.RecordChatRequest(start, false)
		return "", &Error{Status: 500, Detail: "chat response carried no choices"}
	}

	observability.RecordChatRequest(start, true)
	return resp.Choices[0].Message.Content, nil
}

// HealthCheck probes the endpoint with a model listing.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	if _, err := c.api.ListModels(ctx); err != nil {
		return false, fmt.Errorf("chat health check failed: %w", err)
	}
	return true, nil
}

func asChatError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Status: apiErr.HTTPStatusCode, Detail: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Status: reqErr.HTTPStatusCode, Detail: reqErr.Error()}
	}
	return &Error{Status: 500, Detail: err.Error()}
}
