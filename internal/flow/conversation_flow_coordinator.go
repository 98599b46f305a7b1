package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ami4go/ICAPP/internal/models"
)

// DefaultIdleTimeout is how long a session may stay quiet before it is abandoned.
const DefaultIdleTimeout = 30 * time.Minute

// CoordinatorOpts holds collaborator configuration.
type CoordinatorOpts struct {
	IdleTimeout time.Duration
	ExposeCase  bool
	Archive     Archive
	Timer       Timer
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*CoordinatorOpts)

// WithIdleTimeout sets the idle abandonment timeout. Zero disables it.
func WithIdleTimeout(d time.Duration) CoordinatorOption {
	return func(o *CoordinatorOpts) { o.IdleTimeout = d }
}

// WithExposeCase includes the hidden case in session views for evaluation.
func WithExposeCase(expose bool) CoordinatorOption {
	return func(o *CoordinatorOpts) { o.ExposeCase = expose }
}

// WithArchive sets where finished sessions are recorded.
func WithArchive(a Archive) CoordinatorOption {
	return func(o *CoordinatorOpts) { o.Archive = a }
}

// WithTimer overrides the timer used for idle expiry.
func WithTimer(t Timer) CoordinatorOption {
	return func(o *CoordinatorOpts) { o.Timer = t }
}

// Coordinator is the collaborator-facing service: it creates sessions from
// generated cases, routes doctor messages through the Engine, and archives
// sessions when they end or go idle.
type Coordinator struct {
	cases      CaseSource
	engine     *Engine
	registry   *Registry
	archive    Archive
	reaper     *IdleReaper
	timer      Timer
	exposeCase bool
}

// NewCoordinator wires the collaborator service.
func NewCoordinator(cases CaseSource, engine *Engine, opts ...CoordinatorOption) *Coordinator {
	cfg := CoordinatorOpts{IdleTimeout: DefaultIdleTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timer == nil {
		cfg.Timer = NewSimpleTimer()
	}

	c := &Coordinator{
		cases:      cases,
		engine:     engine,
		registry:   NewRegistry(),
		archive:    cfg.Archive,
		timer:      cfg.Timer,
		exposeCase: cfg.ExposeCase,
	}
	c.reaper = NewIdleReaper(cfg.Timer, cfg.IdleTimeout, c.expire)
	slog.Debug("Coordinator.NewCoordinator: created", "idleTimeout", cfg.IdleTimeout, "exposeCase", cfg.ExposeCase, "archive_set", cfg.Archive != nil)
	return c
}

// Start creates a case and a new active session for it.
func (c *Coordinator) Start(ctx context.Context, doctorUsername string) models.SessionView {
	pc := c.cases.Generate(ctx)
	s := c.registry.Create(strings.TrimSpace(doctorUsername), pc)
	c.reaper.Touch(s.ID)
	slog.Info("Coordinator.Start: session started", "sessionID", s.ID, "doctor", s.DoctorUsername, "patient", pc.Name)
	return s.View(c.exposeCase)
}

// Message advances a session by one doctor utterance. A gateway failure is
// answered with ApologyReply and leaves the session unchanged.
func (c *Coordinator) Message(ctx context.Context, sessionID, text string) (models.MessageResult, error) {
	s, err := c.registry.Get(sessionID)
	if err != nil {
		return models.MessageResult{}, err
	}
	c.reaper.Touch(sessionID)

	res, err := c.engine.AdvanceTurn(ctx, s, text)
	if errors.Is(err, ErrGatewayUnavailable) {
		slog.Warn("Coordinator.Message: replying with apology", "sessionID", sessionID, "error", err)
		summary := s.Summary()
		return models.MessageResult{Reply: ApologyReply, StateSummary: summary, Done: summary.Status == models.StatusResolved}, nil
	}
	if err != nil {
		// Ended or expired while this turn waited.
		if _, gerr := c.registry.Get(sessionID); gerr != nil {
			c.reaper.Forget(sessionID)
		}
		return models.MessageResult{}, err
	}
	return models.MessageResult{
		Reply:        res.Reply,
		StateSummary: res.Summary,
		Done:         res.Summary.Status == models.StatusResolved,
	}, nil
}

// State returns the current view of a session.
func (c *Coordinator) State(sessionID string) (models.SessionView, error) {
	s, err := c.registry.Get(sessionID)
	if err != nil {
		return models.SessionView{}, err
	}
	return s.View(c.exposeCase), nil
}

// Session returns a live session by id.
func (c *Coordinator) Session(sessionID string) (*Session, error) {
	return c.registry.Get(sessionID)
}

// LiveSessions returns the number of sessions in memory.
func (c *Coordinator) LiveSessions() int {
	return c.registry.Len()
}

// End archives a session with its current status and removes it. If the
// archive write fails the session stays live so the call can be retried.
func (c *Coordinator) End(ctx context.Context, sessionID, finalDiagnosis, prescriptions string) (models.HistoryRecord, error) {
	s, err := c.registry.Get(sessionID)
	if err != nil {
		return models.HistoryRecord{}, err
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	// Ended or expired while waiting for the turn lock.
	if _, err := c.registry.Get(sessionID); err != nil {
		return models.HistoryRecord{}, err
	}

	rec := s.record(uuid.NewString(), strings.TrimSpace(finalDiagnosis), strings.TrimSpace(prescriptions), time.Now())
	if err := c.save(ctx, rec); err != nil {
		return models.HistoryRecord{}, err
	}
	c.registry.Remove(sessionID)
	c.reaper.Forget(sessionID)
	s.markClosed()
	slog.Info("Coordinator.End: session ended", "sessionID", sessionID, "status", rec.Status, "revealed", len(rec.RevealedSymptoms))
	return rec, nil
}

// expire abandons an idle session, archives it and removes it.
func (c *Coordinator) expire(sessionID string) {
	s, err := c.registry.Get(sessionID)
	if err != nil {
		return
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	if _, ok := c.registry.Remove(sessionID); !ok {
		return
	}
	s.markClosed()

	if !s.Status().IsTerminal() {
		s.setStatus(models.StatusAbandoned)
	}
	rec := s.record(uuid.NewString(), "", "", time.Now())
	if err := c.save(context.Background(), rec); err != nil {
		slog.Error("Coordinator.expire: failed to archive idle session", "sessionID", sessionID, "error", err)
		return
	}
	slog.Info("Coordinator.expire: idle session archived", "sessionID", sessionID, "status", rec.Status)
}

func (c *Coordinator) save(ctx context.Context, rec models.HistoryRecord) error {
	if c.archive == nil {
		return nil
	}
	if err := c.archive.SaveHistoryRecord(ctx, rec); err != nil {
		slog.Error("Coordinator.save: archive write failed", "sessionID", rec.SessionID, "error", err)
		return fmt.Errorf("failed to archive session: %w", err)
	}
	return nil
}

// Close stops idle expiry. Live sessions are dropped with the process.
func (c *Coordinator) Close() {
	c.reaper.Stop()
	c.timer.Stop()
	slog.Info("Coordinator.Close: stopped", "live", c.registry.Len())
}
