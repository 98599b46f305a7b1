package flow

import (
	"slices"
	"sync"
	"time"

	"github.com/ami4go/ICAPP/internal/models"
)

// Session is the live state of one consultation. The case is fixed at creation.
// Turns are serialized with turnMu; field access is guarded by mu.
type Session struct {
	ID             string
	DoctorUsername string
	CreatedAt      time.Time

	pcase models.PatientCase

	turnMu sync.Mutex

	mu              sync.RWMutex
	revealed        []string
	status          models.SessionStatus
	needsEscalation bool
	history         []models.ConversationTurn
	transcript      []models.TranscriptEntry
	updatedAt       time.Time
	closed          bool
}

// NewSession starts an active session for a case.
func NewSession(id, doctorUsername string, pc models.PatientCase) *Session {
	now := time.Now()
	return &Session{
		ID:             id,
		DoctorUsername: doctorUsername,
		CreatedAt:      now,
		pcase:          pc,
		revealed:       []string{},
		status:         models.StatusActive,
		updatedAt:      now,
	}
}

// Case returns the hidden case. Callers must not expose it outside a debug surface.
func (s *Session) Case() models.PatientCase {
	return s.pcase
}

// Status returns the current status.
func (s *Session) Status() models.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// UpdatedAt returns the time of the last state change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// History returns a copy of the model replay history.
func (s *Session) History() []models.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// Transcript returns a copy of the human-readable transcript.
func (s *Session) Transcript() []models.TranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.transcript)
}

// Summary returns the public per-turn state.
func (s *Session) Summary() models.StateSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaryLocked()
}

func (s *Session) summaryLocked() models.StateSummary {
	return models.StateSummary{
		Status:           s.status,
		RevealedSymptoms: slices.Clone(s.revealed),
		NeedsEscalation:  s.needsEscalation,
	}
}

// View returns the public view of the session. The hidden case is included
// only when debug is true.
func (s *Session) View(debug bool) models.SessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := models.SessionView{
		SessionID:  s.ID,
		Patient:    s.pcase.Profile(),
		State:      s.summaryLocked(),
		Transcript: slices.Clone(s.transcript),
	}
	if debug {
		pc := s.pcase
		v.Case = &pc
	}
	return v
}

// applyTurn records a completed turn: revealed symptoms are merged with exact
// de-duplication, status and escalation are overwritten, and the utterance and
// reply are appended to history and transcript in that order.
func (s *Session) applyTurn(utterance, rawReply, reply string, md models.TurnMetadata, at time.Time) models.StateSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revealed = mergeRevealed(s.revealed, md.Revealed)
	s.status = md.Status
	s.needsEscalation = md.NeedsEscalation
	s.history = append(s.history, models.ConversationTurn{Doctor: utterance, Patient: rawReply})
	s.transcript = append(s.transcript,
		models.TranscriptEntry{Speaker: models.SpeakerDoctor, Text: utterance, Timestamp: at},
		models.TranscriptEntry{Speaker: models.SpeakerPatient, Text: reply, Timestamp: at},
	)
	s.updatedAt = at
	return s.summaryLocked()
}

// setStatus is used by collaborators, for example to mark a session abandoned.
func (s *Session) setStatus(status models.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.updatedAt = time.Now()
}

// markClosed is called once the session has been archived and removed.
func (s *Session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// record builds the archived form of the session.
func (s *Session) record(id, finalDiagnosis, prescriptions string, at time.Time) models.HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.HistoryRecord{
		ID:               id,
		SessionID:        s.ID,
		DoctorUsername:   s.DoctorUsername,
		PatientName:      s.pcase.Name,
		PatientSex:       s.pcase.Sex,
		PatientAge:       s.pcase.AgeRange,
		Disease:          s.pcase.Disease,
		RevealedSymptoms: slices.Clone(s.revealed),
		Status:           s.status,
		FinalDiagnosis:   finalDiagnosis,
		Prescriptions:    prescriptions,
		Transcript:       slices.Clone(s.transcript),
		Timestamp:        at,
	}
}

// mergeRevealed appends entries of add not already present in have, keeping
// insertion order. Matching is exact.
func mergeRevealed(have, add []string) []string {
	for _, s := range add {
		if !slices.Contains(have, s) {
			have = append(have, s)
		}
	}
	return have
}
