// Package prompt compiles the patient persona instruction from a case.
//
// The instruction is regenerated on every turn from the immutable case, so the
// model always sees the full case alongside the replayed conversation.
package prompt

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/ami4go/ICAPP/internal/genai"
	"github.com/ami4go/ICAPP/internal/models"
)

//go:embed templates/persona.tmpl
var personaTemplate string

// FarewellMarkers are the doctor phrases that allow a session to become resolved.
var FarewellMarkers = []string{"goodbye", "end session"}

// ResolvedRestriction is the rendered rule that reserves "resolved" for an explicit farewell.
const ResolvedRestriction = `Set status to "resolved" ONLY when the doctor explicitly says`

type personaData struct {
	Name            string
	AgeRange        string
	Sex             models.Sex
	CaseJSON        string
	FarewellMarkers []string
}

// Compiler renders the persona instruction.
type Compiler struct {
	tmpl *template.Template
}

// NewCompiler parses the embedded persona template.
func NewCompiler() (*Compiler, error) {
	tmpl, err := template.New("persona").Parse(personaTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse persona template: %w", err)
	}
	return &Compiler{tmpl: tmpl}, nil
}

// MustNewCompiler is NewCompiler for package-level wiring; it panics on a broken template.
func MustNewCompiler() *Compiler {
	c, err := NewCompiler()
	if err != nil {
		panic(err)
	}
	return c
}

// Render returns the system instruction for the given case. The output is a
// pure function of the case.
func (c *Compiler) Render(pc models.PatientCase) (string, error) {
	caseJSON, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode patient case: %w", err)
	}
	var buf bytes.Buffer
	err = c.tmpl.Execute(&buf, personaData{
		Name:            pc.Name,
		AgeRange:        pc.AgeRange,
		Sex:             pc.Sex,
		CaseJSON:        string(caseJSON),
		FarewellMarkers: FarewellMarkers,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render persona template: %w", err)
	}
	return buf.String(), nil
}

// Messages builds the full model prompt for one turn: the persona instruction,
// the replayed history in order and the new doctor utterance.
func (c *Compiler) Messages(pc models.PatientCase, history []models.ConversationTurn, utterance string) ([]genai.Message, error) {
	system, err := c.Render(pc)
	if err != nil {
		return nil, err
	}
	messages := make([]genai.Message, 0, 2+2*len(history))
	messages = append(messages, genai.SystemMessage(system))
	for _, turn := range history {
		messages = append(messages, genai.UserMessage(turn.Doctor), genai.AssistantMessage(turn.Patient))
	}
	messages = append(messages, genai.UserMessage(utterance))
	return messages, nil
}

// HasFarewell reports whether a doctor utterance contains a farewell marker.
func HasFarewell(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, m := range FarewellMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
