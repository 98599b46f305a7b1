// Package testutil provides common test utilities and helpers for ICAPP tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/ami4go/ICAPP/internal/api"
	"github.com/ami4go/ICAPP/internal/flow"
	"github.com/ami4go/ICAPP/internal/genai"
	"github.com/ami4go/ICAPP/internal/models"
	"github.com/ami4go/ICAPP/internal/prompt"
	"github.com/ami4go/ICAPP/internal/store"
)

// TestingT is the subset of testing.TB used by the assertions.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// ScriptedClient is a genai.ClientInterface that replays canned outputs in
// order. Once the script runs out, Err (or a default error) is returned.
type ScriptedClient struct {
	mu      sync.Mutex
	Outputs []string
	Err     error
	Calls   int
}

// Invoke returns the next scripted output.
func (c *ScriptedClient) Invoke(_ context.Context, _ []genai.Message, _ float64, _ genai.Tier) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.Calls
	c.Calls++
	if i < len(c.Outputs) {
		return c.Outputs[i], nil
	}
	if c.Err != nil {
		return "", c.Err
	}
	return "", fmt.Errorf("ScriptedClient: no output scripted for call %d", i)
}

// FixedCases is a flow.CaseSource that always returns the same case.
type FixedCases struct {
	Case models.PatientCase
}

// Generate returns the fixed case.
func (f FixedCases) Generate(context.Context) models.PatientCase { return f.Case }

// SampleCase returns a valid patient case for tests.
func SampleCase() models.PatientCase {
	return models.PatientCase{
		Name:                "James Carter",
		Disease:             "Influenza",
		PresentingSummary:   "I've felt feverish and achy for two days.",
		AgeRange:            "25-34",
		Sex:                 models.SexMale,
		OnsetDays:           2,
		Severity:            models.SeverityModerate,
		Symptoms:            []string{"fever", "body aches", "dry cough", "fatigue"},
		RedFlags:            []string{"shortness of breath"},
		CorrectTreatments:   []string{"Rest", "Fluids", "Paracetamol"},
		IncorrectTreatments: []string{"Antibiotics"},
	}
}

// TurnJSON renders a model reply in the structured turn format.
func TurnJSON(reply string, revealed []string, status string) string {
	if revealed == nil {
		revealed = []string{}
	}
	b, _ := json.Marshal(map[string]interface{}{
		"reply_text": reply,
		"metadata":   map[string]interface{}{"revealed": revealed, "needs_escalation": false, "status": status},
	})
	return string(b)
}

// NewTestServer creates a test API server with in-memory dependencies and the
// given model client. Idle expiry is disabled.
func NewTestServer(client genai.ClientInterface, coordOpts ...flow.CoordinatorOption) (*api.Server, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	engine := flow.NewEngine(client, prompt.MustNewCompiler())
	opts := append([]flow.CoordinatorOption{flow.WithArchive(st), flow.WithIdleTimeout(0)}, coordOpts...)
	coord := flow.NewCoordinator(FixedCases{Case: SampleCase()}, engine, opts...)
	return api.NewServer(coord, st), st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TestingT, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TestingT, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Errorf("response missing or invalid 'status' field")
	}

	return response
}

// DecodeResult decodes the result field of an API envelope into target.
func DecodeResult(t TestingT, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	var envelope struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return
	}
	if err := json.Unmarshal(envelope.Result, target); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TestingT, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// AssertHistoryCount validates the number of archived records for a doctor.
func AssertHistoryCount(t TestingT, st store.Store, doctor string, expected int, label string) {
	t.Helper()
	recs, err := st.ListHistory(context.Background(), doctor)
	if err != nil {
		t.Fatalf("%s: failed to list history: %v", label, err)
		return
	}
	if len(recs) != expected {
		t.Errorf("%s: expected %d history records, got %d", label, expected, len(recs))
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TestingT, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TestingT, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
