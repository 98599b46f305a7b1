package genai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	gemini "google.golang.org/genai"
)

// geminiCompleter calls Google Gemini. The SDK binds the key at client
// construction, so one client is kept per credential.
type geminiCompleter struct {
	mu      sync.Mutex
	clients map[string]*gemini.Client
}

func newGeminiCompleter() *geminiCompleter {
	return &geminiCompleter{clients: make(map[string]*gemini.Client)}
}

func (g *geminiCompleter) client(ctx context.Context, apiKey string) (*gemini.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	c, err := gemini.NewClient(ctx, &gemini.ClientConfig{
		APIKey:  apiKey,
		Backend: gemini.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.clients[apiKey] = c
	return c, nil
}

// Complete implements Completer.
func (g *geminiCompleter) Complete(ctx context.Context, req Request) (string, error) {
	c, err := g.client(ctx, req.APIKey)
	if err != nil {
		return "", err
	}

	system, contents := toGeminiContents(req.Messages)
	cfg := &gemini.GenerateContentConfig{
		Temperature: gemini.Ptr(float32(req.Temperature)),
	}
	if system != "" {
		cfg.SystemInstruction = gemini.NewContentFromText(system, gemini.RoleUser)
	}

	resp, err := c.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// toGeminiContents splits out system messages, which Gemini takes as a
// separate instruction, and maps the rest onto user/model turns.
func toGeminiContents(messages []Message) (string, []*gemini.Content) {
	var system []string
	contents := make([]*gemini.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, gemini.NewContentFromText(m.Content, gemini.RoleModel))
		default:
			contents = append(contents, gemini.NewContentFromText(m.Content, gemini.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}
