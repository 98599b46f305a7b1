// Package parser extracts the patient reply and turn metadata from raw model output.
//
// Model output is expected to be a JSON object of the form
//
//	{"reply_text": "...", "metadata": {"revealed": [...], "needs_escalation": false, "status": "active"}}
//
// but models drift: they wrap the object in code fences, surround it with prose,
// or emit only the metadata after a plain sentence. Parse tolerates all of these
// and never fails.
package parser

import (
	"log/slog"
	"strings"

	"github.com/ami4go/ICAPP/internal/models"
)

// FallbackReply is used when no reply text can be recovered from the model output.
const FallbackReply = "Sorry doctor, could you say that again?"

// Strategy names reported in Result.
const (
	StrategyWholeObject    = "whole_object"
	StrategyEmbeddedObject = "embedded_object"
	StrategyPlainText      = "plain_text"
	StrategyRecovered      = "recovered"
)

// Result is the outcome of parsing one model response.
type Result struct {
	Reply    string
	Metadata models.TurnMetadata
	Strategy string
	// Scanned is true when revealed symptoms were inferred from the reply text.
	Scanned bool
}

// outcome is what a single strategy produces when it matches.
type outcome struct {
	reply    string
	metadata models.TurnMetadata
}

// strategy inspects raw text and reports whether it produced a result.
type strategy struct {
	name string
	fn   func(raw string) (outcome, bool)
}

// chain is tried in order; the first match wins. plainText always matches.
var chain = []strategy{
	{StrategyWholeObject, wholeObject},
	{StrategyEmbeddedObject, embeddedObject},
	{StrategyPlainText, plainText},
}

// Parse returns the reply and metadata for raw model text. knownSymptoms are the
// case's symptom strings, used to infer revealed symptoms the model did not tag.
func Parse(raw string, knownSymptoms []string) (string, models.TurnMetadata) {
	res := ParseResult(raw, knownSymptoms)
	return res.Reply, res.Metadata
}

// ParseResult is Parse with the matching strategy reported, for logging and tests.
func ParseResult(raw string, knownSymptoms []string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("parser.ParseResult: recovered from panic", "panic", r, "rawLength", len(raw))
			res = recovered(raw)
		}
	}()

	for _, s := range chain {
		out, ok := s.fn(raw)
		if !ok {
			continue
		}
		res = Result{Reply: strings.TrimSpace(out.reply), Metadata: out.metadata, Strategy: s.name}
		break
	}

	if res.Reply == "" {
		res.Reply = FallbackReply
	}
	if res.Strategy != StrategyWholeObject && len(res.Metadata.Revealed) == 0 {
		if found := ScanSymptoms(res.Reply, knownSymptoms); len(found) > 0 {
			res.Metadata.Revealed = found
			res.Scanned = true
		}
	}

	slog.Debug("parser.ParseResult: parsed model output", "strategy", res.Strategy, "revealed", len(res.Metadata.Revealed), "scanned", res.Scanned, "status", res.Metadata.Status)
	return res
}

// ScanSymptoms returns every known symptom that occurs in text as a
// case-insensitive substring, in the order of knownSymptoms.
func ScanSymptoms(text string, knownSymptoms []string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, s := range knownSymptoms {
		needle := strings.ToLower(strings.TrimSpace(s))
		if needle == "" {
			continue
		}
		if strings.Contains(lower, needle) {
			found = append(found, s)
		}
	}
	return found
}

func recovered(raw string) Result {
	reply := strings.TrimSpace(raw)
	if reply == "" {
		reply = FallbackReply
	}
	return Result{Reply: reply, Metadata: models.DefaultTurnMetadata(), Strategy: StrategyRecovered}
}
