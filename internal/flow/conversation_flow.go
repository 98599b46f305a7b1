package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ami4go/ICAPP/internal/genai"
	"github.com/ami4go/ICAPP/internal/models"
	"github.com/ami4go/ICAPP/internal/parser"
	"github.com/ami4go/ICAPP/internal/prompt"
)

// DefaultTurnTemperature is the sampling temperature for conversation turns.
const DefaultTurnTemperature = 0.5

// TurnResult is the outcome of one successful turn.
type TurnResult struct {
	Reply    string
	Metadata models.TurnMetadata
	Summary  models.StateSummary
	// Strategy names the parser strategy that produced the reply.
	Strategy string
}

// StatusGuard decides the status to record for a turn given the previous
// status, the model's reported status and the doctor utterance.
type StatusGuard func(prev, reported models.SessionStatus, utterance string) models.SessionStatus

// FarewellGuard only lets a session become resolved when the doctor's utterance
// carries a farewell marker, and keeps the previous status for values outside
// the documented state machine.
func FarewellGuard(prev, reported models.SessionStatus, utterance string) models.SessionStatus {
	switch reported {
	case models.StatusActive, models.StatusTreated:
		return reported
	case models.StatusResolved:
		if prompt.HasFarewell(utterance) {
			return reported
		}
	}
	slog.Warn("FarewellGuard: clamped model status", "reported", reported, "kept", prev)
	return prev
}

// EngineOpts holds turn pipeline configuration.
type EngineOpts struct {
	Temperature float64
	Guard       StatusGuard
}

// EngineOption configures an Engine.
type EngineOption func(*EngineOpts)

// WithTurnTemperature overrides the sampling temperature for turns.
func WithTurnTemperature(t float64) EngineOption {
	return func(o *EngineOpts) { o.Temperature = t }
}

// WithStatusGuard installs a server-side status check. Without one, the model's
// reported status is applied verbatim.
func WithStatusGuard(g StatusGuard) EngineOption {
	return func(o *EngineOpts) { o.Guard = g }
}

// WithStrictStatus installs FarewellGuard when enabled is true.
func WithStrictStatus(enabled bool) EngineOption {
	return func(o *EngineOpts) {
		if enabled {
			o.Guard = FarewellGuard
		}
	}
}

// Engine advances sessions one turn at a time.
type Engine struct {
	client      genai.ClientInterface
	compiler    *prompt.Compiler
	temperature float64
	guard       StatusGuard
	now         func() time.Time
}

// NewEngine creates a turn engine.
func NewEngine(client genai.ClientInterface, compiler *prompt.Compiler, opts ...EngineOption) *Engine {
	cfg := EngineOpts{Temperature: DefaultTurnTemperature}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Engine.NewEngine: engine created", "temperature", cfg.Temperature, "strictStatus", cfg.Guard != nil)
	return &Engine{
		client:      client,
		compiler:    compiler,
		temperature: cfg.Temperature,
		guard:       cfg.Guard,
		now:         time.Now,
	}
}

// AdvanceTurn sends the doctor's utterance to the patient model and applies the
// parsed reply to the session. Turns on the same session are processed one at a
// time in arrival order. On a gateway failure the session is left untouched and
// an error wrapping ErrGatewayUnavailable is returned.
func (e *Engine) AdvanceTurn(ctx context.Context, s *Session, utterance string) (TurnResult, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	prev := s.Status()
	if s.isClosed() || prev.IsTerminal() {
		slog.Debug("Engine.AdvanceTurn: session closed", "sessionID", s.ID, "status", prev)
		return TurnResult{}, ErrSessionClosed
	}

	pc := s.Case()
	messages, err := e.compiler.Messages(pc, s.History(), utterance)
	if err != nil {
		slog.Error("Engine.AdvanceTurn: failed to compile prompt", "sessionID", s.ID, "error", err)
		return TurnResult{}, fmt.Errorf("failed to compile prompt: %w", err)
	}

	slog.Debug("Engine.AdvanceTurn: invoking model", "sessionID", s.ID, "messages", len(messages), "status", prev)
	raw, err := e.client.Invoke(ctx, messages, e.temperature, genai.TierQuality)
	if err != nil {
		slog.Error("Engine.AdvanceTurn: model gateway failed", "sessionID", s.ID, "error", err)
		return TurnResult{}, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}

	res := parser.ParseResult(raw, pc.Symptoms)
	md := res.Metadata
	if e.guard != nil {
		md.Status = e.guard(prev, md.Status, utterance)
	}

	summary := s.applyTurn(utterance, raw, res.Reply, md, e.now())
	slog.Info("Engine.AdvanceTurn: turn applied", "sessionID", s.ID, "strategy", res.Strategy, "status", summary.Status, "revealed", len(summary.RevealedSymptoms), "needsEscalation", summary.NeedsEscalation)

	return TurnResult{Reply: res.Reply, Metadata: md, Summary: summary, Strategy: res.Strategy}, nil
}
