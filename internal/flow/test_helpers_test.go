package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ami4go/ICAPP/internal/genai"
	"github.com/ami4go/ICAPP/internal/models"
	"github.com/ami4go/ICAPP/internal/prompt"
)

// scriptedClient replays canned model outputs in order. A non-nil entry in
// errs at the same index is returned instead of the output.
type scriptedClient struct {
	mu       sync.Mutex
	outputs  []string
	errs     []error
	calls    int
	messages [][]genai.Message
	tiers    []genai.Tier
	temps    []float64
	delay    time.Duration
}

func (c *scriptedClient) Invoke(ctx context.Context, messages []genai.Message, temperature float64, tier genai.Tier) (string, error) {
	c.mu.Lock()
	i := c.calls
	c.calls++
	c.messages = append(c.messages, messages)
	c.tiers = append(c.tiers, tier)
	c.temps = append(c.temps, temperature)
	delay := c.delay
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.outputs) {
		return c.outputs[i], nil
	}
	return "", fmt.Errorf("scriptedClient: no output scripted for call %d", i)
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// MockTimer records scheduled functions so tests can fire them by hand.
type MockTimer struct {
	mu        sync.Mutex
	nextID    int
	scheduled map[string]func()
	delays    map[string]time.Duration
	cancelled []string
}

func newMockTimer() *MockTimer {
	return &MockTimer{scheduled: map[string]func(){}, delays: map[string]time.Duration{}}
}

func (m *MockTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("mock_%d", m.nextID)
	m.scheduled[id] = fn
	m.delays[id] = delay
	return id, nil
}

func (m *MockTimer) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scheduled, id)
	m.cancelled = append(m.cancelled, id)
	return nil
}

func (m *MockTimer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = map[string]func(){}
}

func (m *MockTimer) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scheduled)
}

// fireAll runs every pending function outside the lock.
func (m *MockTimer) fireAll() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.scheduled))
	for id, fn := range m.scheduled {
		fns = append(fns, fn)
		delete(m.scheduled, id)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// fixedCases always returns the same case.
type fixedCases struct{ pc models.PatientCase }

func (f fixedCases) Generate(context.Context) models.PatientCase { return f.pc }

// memArchive collects archived records.
type memArchive struct {
	mu      sync.Mutex
	records []models.HistoryRecord
	err     error
}

func (a *memArchive) SaveHistoryRecord(_ context.Context, rec models.HistoryRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, rec)
	return nil
}

func (a *memArchive) saved() []models.HistoryRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.HistoryRecord(nil), a.records...)
}

func testCase() models.PatientCase {
	return models.PatientCase{
		Name:                "Maria Garcia",
		Disease:             "Migraine",
		PresentingSummary:   "I've had a pounding headache since yesterday.",
		AgeRange:            "35-44",
		Sex:                 models.SexFemale,
		OnsetDays:           1,
		Severity:            models.SeverityModerate,
		Symptoms:            []string{"throbbing headache", "nausea", "sensitivity to light", "stomach pain"},
		RedFlags:            []string{"sudden worst headache of life"},
		CorrectTreatments:   []string{"Rest in a dark room", "Ibuprofen"},
		IncorrectTreatments: []string{"Antibiotics"},
	}
}

func newTestEngine(client genai.ClientInterface, opts ...EngineOption) *Engine {
	return NewEngine(client, prompt.MustNewCompiler(), opts...)
}
