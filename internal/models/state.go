// Package models defines session state structures for ICAPP conversations.
package models

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a simulated consultation.
type SessionStatus string

const (
	// StatusActive is the initial state and the state while the consultation continues.
	StatusActive SessionStatus = "active"
	// StatusTreated means the patient accepted an appropriate treatment.
	StatusTreated SessionStatus = "treated"
	// StatusResolved means the doctor ended the consultation. Terminal.
	StatusResolved SessionStatus = "resolved"
	// StatusAbandoned is set by collaborators on timeout or explicit end. Terminal.
	StatusAbandoned SessionStatus = "abandoned"
)

// IsTerminal reports whether no further turns may be taken in this status.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusAbandoned
}

// TurnMetadata is the structured side channel reported by the patient model on every turn.
type TurnMetadata struct {
	Revealed        []string      `json:"revealed"`
	NeedsEscalation bool          `json:"needs_escalation"`
	Status          SessionStatus `json:"status"`
}

// DefaultTurnMetadata is used whenever the model output carries no usable metadata.
func DefaultTurnMetadata() TurnMetadata {
	return TurnMetadata{Revealed: []string{}, NeedsEscalation: false, Status: StatusActive}
}

// Normalize trims revealed entries and applies the active default to a missing status.
// Unknown status strings are kept so the model's report is applied verbatim.
func (m *TurnMetadata) Normalize() {
	m.Revealed = cleanList(m.Revealed)
	m.Status = SessionStatus(strings.ToLower(strings.TrimSpace(string(m.Status))))
	if m.Status == "" {
		m.Status = StatusActive
	}
}

// ConversationTurn is one doctor utterance and the raw patient reply to it.
// Turns are replayed verbatim to the model on every call.
type ConversationTurn struct {
	Doctor  string `json:"doctor"`
	Patient string `json:"patient"`
}

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerDoctor  Speaker = "doctor"
	SpeakerPatient Speaker = "patient"
)

// TranscriptEntry is a human-readable line of the consultation.
type TranscriptEntry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// StateSummary is the per-turn state returned to the doctor.
type StateSummary struct {
	Status           SessionStatus `json:"status"`
	RevealedSymptoms []string      `json:"revealed_symptoms"`
	NeedsEscalation  bool          `json:"needs_escalation"`
}

// SessionView is the public view of a session. Case is only populated when the
// debug surface is enabled.
type SessionView struct {
	SessionID  string            `json:"session_id"`
	Patient    PatientProfile    `json:"patient"`
	State      StateSummary      `json:"state"`
	Transcript []TranscriptEntry `json:"transcript,omitempty"`
	Case       *PatientCase      `json:"case,omitempty"`
}

// HistoryRecord is the archived outcome of a finished session.
type HistoryRecord struct {
	ID               string            `json:"id"`
	SessionID        string            `json:"session_id"`
	DoctorUsername   string            `json:"doctor_username"`
	PatientName      string            `json:"patient_name"`
	PatientSex       Sex               `json:"patient_sex"`
	PatientAge       string            `json:"patient_age"`
	Disease          string            `json:"disease"`
	RevealedSymptoms []string          `json:"revealed_symptoms"`
	Status           SessionStatus     `json:"status"`
	FinalDiagnosis   string            `json:"final_diagnosis,omitempty"`
	Prescriptions    string            `json:"prescriptions,omitempty"`
	Transcript       []TranscriptEntry `json:"transcript,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}
