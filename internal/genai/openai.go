package genai

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatService defines the minimal interface used from the OpenAI chat completions API.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// openAICompleter talks to any OpenAI-compatible chat completions endpoint.
// The API key is attached per request so one client serves the whole pool.
type openAICompleter struct {
	chat chatService
}

func newOpenAICompleter(baseURL string) *openAICompleter {
	// Rotation in Client.Invoke is the only retry; the SDK must not back off on its own.
	client := openai.NewClient(option.WithBaseURL(baseURL), option.WithMaxRetries(0))
	return &openAICompleter{chat: &client.Chat.Completions}
}

// Complete implements Completer.
func (o *openAICompleter) Complete(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	resp, err := o.chat.New(ctx, params, option.WithAPIKey(req.APIKey))
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
