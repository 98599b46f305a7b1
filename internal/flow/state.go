// Package flow implements the simulated consultation: the per-session state
// machine, the turn pipeline around the model gateway and the collaborator
// services that create, advance, end and expire sessions.
package flow

import (
	"context"
	"errors"
	"time"

	"github.com/ami4go/ICAPP/internal/models"
)

// Error variables returned by the flow package.
var (
	// ErrGatewayUnavailable wraps a model failure that survived the credential retry.
	ErrGatewayUnavailable = errors.New("model gateway unavailable")
	// ErrSessionClosed is returned when a turn is attempted on a resolved or abandoned session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
)

// ApologyReply is returned in persona when the model cannot be reached.
const ApologyReply = "I'm sorry doctor, I'm not feeling well enough to talk right now. Could you repeat that?"

// CaseSource creates patient cases. casegen.Generator implements it.
type CaseSource interface {
	Generate(ctx context.Context) models.PatientCase
}

// Archive persists the outcome of finished sessions. store.Store implements it.
type Archive interface {
	SaveHistoryRecord(ctx context.Context, rec models.HistoryRecord) error
}

// Timer defines the interface for scheduling delayed actions.
type Timer interface {
	// ScheduleAfter schedules a function to run after a delay and returns its id
	ScheduleAfter(delay time.Duration, fn func()) (string, error)

	// Cancel cancels a scheduled function by id
	Cancel(id string) error

	// Stop cancels every scheduled function
	Stop()
}
