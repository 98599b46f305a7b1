package genai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// scriptedCompleter returns queued results in order and records the key used for each call.
type scriptedCompleter struct {
	mu      sync.Mutex
	results []scriptedResult
	keys    []string
}

type scriptedResult struct {
	text string
	err  error
}

func (s *scriptedCompleter) Complete(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, req.APIKey)
	if len(s.results) == 0 {
		return "", errors.New("unexpected call")
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.text, r.err
}

func newTestClient(t *testing.T, c Completer, keys ...string) *Client {
	t.Helper()
	client, err := NewClient(WithAPIKeys(keys), WithCompleter(c))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return client
}

func TestInvoke_Success(t *testing.T) {
	stub := &scriptedCompleter{results: []scriptedResult{{text: "Hello World"}}}
	client := newTestClient(t, stub, "k1")
	out, err := client.Invoke(context.Background(), []Message{UserMessage("hi")}, 0.5, TierQuality)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
}

func TestInvoke_RateLimitRotatesOnce(t *testing.T) {
	stub := &scriptedCompleter{results: []scriptedResult{
		{err: errors.New("429 Too Many Requests")},
		{text: "ok"},
	}}
	client := newTestClient(t, stub, "k1", "k2", "k3")

	out, err := client.Invoke(context.Background(), nil, 0.5, TierQuality)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "ok" {
		t.Errorf("expected 'ok', got %q", out)
	}
	if got := strings.Join(stub.keys, ","); got != "k1,k2" {
		t.Errorf("expected calls with k1 then k2, got %s", got)
	}
	if _, idx, _ := client.pool.Current(); idx != 1 {
		t.Errorf("expected cursor to stay on index 1, got %d", idx)
	}
}

func TestInvoke_SecondRateLimitFails(t *testing.T) {
	first := errors.New("rate limit reached")
	second := errors.New("rate_limit_exceeded on key two")
	stub := &scriptedCompleter{results: []scriptedResult{{err: first}, {err: second}}}
	client := newTestClient(t, stub, "k1", "k2", "k3")

	_, err := client.Invoke(context.Background(), nil, 0.5, TierQuality)
	if !errors.Is(err, second) {
		t.Fatalf("expected second failure to propagate, got %v", err)
	}
	if len(stub.keys) != 2 {
		t.Errorf("expected exactly one retry, got %d calls", len(stub.keys))
	}
}

// keyedCompleter answers per credential: keys in limited are rate limited,
// every other key succeeds.
type keyedCompleter struct {
	mu      sync.Mutex
	limited map[string]bool
	keys    []string
}

func (k *keyedCompleter) Complete(_ context.Context, req Request) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = append(k.keys, req.APIKey)
	if k.limited[req.APIKey] {
		return "", errors.New("429 Too Many Requests")
	}
	return "answered with " + req.APIKey, nil
}

func TestInvoke_ThreeKeyRotationAcrossCalls(t *testing.T) {
	stub := &keyedCompleter{limited: map[string]bool{"k1": true, "k2": true}}
	client := newTestClient(t, stub, "k1", "k2", "k3")

	if _, err := client.Invoke(context.Background(), nil, 0.5, TierQuality); err == nil {
		t.Fatal("expected first call to fail after one rotation")
	}
	out, err := client.Invoke(context.Background(), nil, 0.5, TierQuality)
	if err != nil || out != "answered with k3" {
		t.Fatalf("expected second call to succeed on k3, got %q (%v)", out, err)
	}
	out, err = client.Invoke(context.Background(), nil, 0.5, TierQuality)
	if err != nil || out != "answered with k3" {
		t.Fatalf("expected k3 to stay current, got %q (%v)", out, err)
	}
	if got := strings.Join(stub.keys, ","); got != "k1,k2,k2,k3,k3" {
		t.Errorf("unexpected key sequence %s", got)
	}
}

func TestInvoke_RateLimitSingleKeyNoRetry(t *testing.T) {
	limited := errors.New("Rate limit exceeded")
	stub := &scriptedCompleter{results: []scriptedResult{{err: limited}}}
	client := newTestClient(t, stub, "only")

	_, err := client.Invoke(context.Background(), nil, 0.9, TierFast)
	if !errors.Is(err, limited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if len(stub.keys) != 1 {
		t.Errorf("expected no retry with a single key, got %d calls", len(stub.keys))
	}
}

func TestInvoke_OtherErrorsPropagate(t *testing.T) {
	boom := errors.New("connection reset by peer")
	stub := &scriptedCompleter{results: []scriptedResult{{err: boom}}}
	client := newTestClient(t, stub, "k1", "k2")

	_, err := client.Invoke(context.Background(), nil, 0.5, TierQuality)
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error, got %v", err)
	}
	if len(stub.keys) != 1 {
		t.Errorf("expected no retry for non rate-limit error, got %d calls", len(stub.keys))
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.Model(TierFast) != DefaultOpenAIFastModel || cli.Model(TierQuality) != DefaultOpenAIQualityModel {
		t.Errorf("unexpected default models: %s / %s", cli.Model(TierFast), cli.Model(TierQuality))
	}
}

func TestNewClient_UnknownProvider(t *testing.T) {
	_, err := NewClient(WithAPIKey("k"), WithProvider("acme"))
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestNewClient_ModelOverrides(t *testing.T) {
	stub := &scriptedCompleter{}
	cli, err := NewClient(WithAPIKey("k"), WithProvider("Gemini"), WithCompleter(stub), WithQualityModel("custom-pro"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cli.Model(TierFast) != DefaultGeminiFastModel {
		t.Errorf("expected gemini fast default, got %s", cli.Model(TierFast))
	}
	if cli.Model(TierQuality) != "custom-pro" {
		t.Errorf("expected override, got %s", cli.Model(TierQuality))
	}
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Error 429, Message: quota, Status: RESOURCE_EXHAUSTED"), true},
		{errors.New("rate limit reached for model"), true},
		{errors.New("Too Many Requests"), true},
		{errors.New("invalid api key"), false},
		{errors.New("context deadline exceeded"), false},
	}
	for _, tt := range tests {
		if got := IsRateLimited(tt.err); got != tt.want {
			t.Errorf("IsRateLimited(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   *openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
	opts   int
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.params = params
	m.opts = len(opts)
	return m.resp, m.err
}

func TestOpenAICompleter_Success(t *testing.T) {
	mock := &mockChatService{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "Hello World"}},
		},
	}}
	c := &openAICompleter{chat: mock}
	out, err := c.Complete(context.Background(), Request{
		APIKey:   "k",
		Model:    "m",
		Messages: []Message{SystemMessage("sys"), UserMessage("u"), AssistantMessage("a")},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(mock.params.Messages) != 3 {
		t.Errorf("expected 3 messages forwarded, got %d", len(mock.params.Messages))
	}
	if mock.opts != 1 {
		t.Errorf("expected the API key to be passed as a request option")
	}
}

func TestOpenAICompleter_NoChoices(t *testing.T) {
	c := &openAICompleter{chat: &mockChatService{resp: &openai.ChatCompletion{}}}
	_, err := c.Complete(context.Background(), Request{})
	if err != ErrEmptyCompletion {
		t.Errorf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestOpenAICompleter_ServiceError(t *testing.T) {
	c := &openAICompleter{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := c.Complete(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestToGeminiContents(t *testing.T) {
	system, contents := toGeminiContents([]Message{
		SystemMessage("persona"),
		UserMessage("hello"),
		AssistantMessage("hi doctor"),
		UserMessage("what hurts?"),
	})
	if system != "persona" {
		t.Errorf("expected system instruction 'persona', got %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[1].Role != "model" {
		t.Errorf("expected assistant mapped to model role, got %q", contents[1].Role)
	}
}

func TestCredentialPool(t *testing.T) {
	p := NewCredentialPool([]string{" a ", "", "b", "a", "c"})
	if p.Len() != 3 {
		t.Fatalf("expected 3 keys, got %d", p.Len())
	}
	if key, idx, _ := p.Current(); key != "a" || idx != 0 {
		t.Errorf("expected a@0, got %s@%d", key, idx)
	}
	p.Rotate()
	p.Rotate()
	if key, _, _ := p.Current(); key != "c" {
		t.Errorf("expected c after two rotations, got %s", key)
	}
	p.Rotate()
	if key, _, _ := p.Current(); key != "a" {
		t.Errorf("expected wrap to a, got %s", key)
	}

	empty := NewCredentialPool(nil)
	if _, _, ok := empty.Current(); ok {
		t.Error("expected empty pool to report no credential")
	}
}

func TestOpenAICompleter_RateLimitMakesTwoRequestsPerTurn(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "Rate limit reached", "type": "rate_limit_exceeded", "code": "rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(WithAPIKeys([]string{"k1", "k2"}), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	start := time.Now()
	_, err = client.Invoke(context.Background(), []Message{UserMessage("hi")}, 0.5, TierQuality)
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	if !IsRateLimited(err) {
		t.Errorf("expected a rate limit error, got %v", err)
	}
	if n := requests.Load(); n != 2 {
		t.Errorf("expected exactly 2 requests (one rotation retry), got %d", n)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("expected no backoff between attempts, took %v", elapsed)
	}
}
