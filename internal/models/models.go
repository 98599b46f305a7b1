// Package models defines the core data structures for ICAPP.
//
// It includes patient cases, session state, archived history records and the
// request/response envelopes shared by the API and the command line tools.
package models

import (
	"errors"
	"strings"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for a doctor utterance
	MaxMessageLength = 4096
	// MaxUsernameLength defines the maximum allowed length for a doctor username
	MaxUsernameLength = 100
	// MaxDiagnosisLength defines the maximum allowed length for a final diagnosis or prescription
	MaxDiagnosisLength = 2000
)

// Error variables for better error handling and testability
var (
	ErrEmptySessionID      = errors.New("session_id is required")
	ErrEmptyMessage        = errors.New("message is required")
	ErrMessageTooLong      = errors.New("message exceeds maximum length")
	ErrEmptyUsername       = errors.New("username is required")
	ErrUsernameTooLong     = errors.New("username exceeds maximum length")
	ErrDiagnosisTooLong    = errors.New("final diagnosis exceeds maximum length")
	ErrPrescriptionTooLong = errors.New("prescriptions exceed maximum length")
)

// StartRequest is the payload for creating a new session.
type StartRequest struct {
	DoctorUsername string `json:"doctor_username,omitempty"`
}

// Validate validates a StartRequest.
func (r *StartRequest) Validate() error {
	r.DoctorUsername = strings.TrimSpace(r.DoctorUsername)
	if len(r.DoctorUsername) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	return nil
}

// MessageRequest is the payload for advancing a session by one turn.
type MessageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Validate validates a MessageRequest.
func (r *MessageRequest) Validate() error {
	if r.SessionID == "" {
		return ErrEmptySessionID
	}
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// MessageResult is returned for each completed turn.
type MessageResult struct {
	Reply        string       `json:"reply"`
	StateSummary StateSummary `json:"state_summary"`
	Done         bool         `json:"done"`
}

// EndRequest is the payload for ending a session and archiving its outcome.
type EndRequest struct {
	SessionID      string `json:"session_id"`
	FinalDiagnosis string `json:"final_diagnosis,omitempty"`
	Prescriptions  string `json:"prescriptions,omitempty"`
}

// Validate validates an EndRequest.
func (r *EndRequest) Validate() error {
	if r.SessionID == "" {
		return ErrEmptySessionID
	}
	if len(r.FinalDiagnosis) > MaxDiagnosisLength {
		return ErrDiagnosisTooLong
	}
	if len(r.Prescriptions) > MaxDiagnosisLength {
		return ErrPrescriptionTooLong
	}
	return nil
}

// HistoryDeleteRequest removes one archived session, or all of them when SessionID is empty.
type HistoryDeleteRequest struct {
	Username  string `json:"username"`
	SessionID string `json:"session_id,omitempty"`
}

// Validate validates a HistoryDeleteRequest.
func (r *HistoryDeleteRequest) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return ErrEmptyUsername
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
