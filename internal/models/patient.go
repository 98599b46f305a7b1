package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sex of the simulated patient.
type Sex string

const (
	SexMale        Sex = "male"
	SexFemale      Sex = "female"
	SexUnspecified Sex = "unspecified"
)

// Severity describes how acutely unwell the patient presents.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Case shape limits.
const (
	MinSymptoms   = 4
	MaxSymptoms   = 6
	MaxRedFlags   = 3
	MinTreatments = 1
	MaxTreatments = 3
)

// Error variables returned by PatientCase.Validate.
var (
	ErrMissingName              = errors.New("case name is required")
	ErrMissingDisease           = errors.New("case disease is required")
	ErrMissingPresentingSummary = errors.New("case presenting summary is required")
	ErrMissingAgeRange          = errors.New("case age range is required")
	ErrSymptomCount             = errors.New("case must list between 4 and 6 symptoms")
	ErrTooManyRedFlags          = errors.New("case lists more than 3 red flags")
	ErrTreatmentCount           = errors.New("case must list between 1 and 3 treatments of each kind")
	ErrDiseaseLeak              = errors.New("case text reveals the disease name")
)

// OnsetDays accepts either a JSON number or a numeric string such as "3 days".
type OnsetDays int

// UnmarshalJSON implements json.Unmarshaler.
func (d *OnsetDays) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*d = OnsetDays(int(n))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("onset_days: expected number or string, got %s", string(data))
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		*d = 0
		return nil
	}
	v, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("onset_days: %q is not numeric", s)
	}
	*d = OnsetDays(v)
	return nil
}

// PatientCase is the hidden ground truth for one simulated patient.
// A case is never mutated once a session has been created from it.
type PatientCase struct {
	Name                string    `json:"name" yaml:"name"`
	Disease             string    `json:"disease" yaml:"disease"`
	PresentingSummary   string    `json:"presenting_summary" yaml:"presenting_summary"`
	AgeRange            string    `json:"age_range" yaml:"age_range"`
	Sex                 Sex       `json:"sex" yaml:"sex"`
	OnsetDays           OnsetDays `json:"onset_days" yaml:"onset_days"`
	Severity            Severity  `json:"severity" yaml:"severity"`
	Symptoms            []string  `json:"symptoms" yaml:"symptoms"`
	RedFlags            []string  `json:"red_flags" yaml:"red_flags"`
	CorrectTreatments   []string  `json:"correct_treatments" yaml:"correct_treatments"`
	IncorrectTreatments []string  `json:"incorrect_treatments" yaml:"incorrect_treatments"`
}

// Normalize coerces loosely formed model output into the canonical case shape.
// It trims text, fixes enum casing, drops symptoms that mention the disease and
// truncates lists that exceed their maximum. It never fails; call Validate after.
func (c *PatientCase) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Disease = strings.TrimSpace(c.Disease)
	c.PresentingSummary = strings.TrimSpace(c.PresentingSummary)
	c.AgeRange = strings.TrimSpace(c.AgeRange)

	switch Sex(strings.ToLower(strings.TrimSpace(string(c.Sex)))) {
	case SexMale:
		c.Sex = SexMale
	case SexFemale:
		c.Sex = SexFemale
	default:
		c.Sex = SexUnspecified
	}

	switch Severity(strings.ToLower(strings.TrimSpace(string(c.Severity)))) {
	case SeverityMild:
		c.Severity = SeverityMild
	case SeveritySevere:
		c.Severity = SeveritySevere
	default:
		c.Severity = SeverityModerate
	}

	if c.OnsetDays < 0 {
		c.OnsetDays = 0
	}

	var symptoms []string
	for _, s := range cleanList(c.Symptoms) {
		if c.mentionsDisease(s) {
			continue
		}
		symptoms = append(symptoms, s)
	}
	c.Symptoms = truncate(symptoms, MaxSymptoms)
	c.RedFlags = truncate(cleanList(c.RedFlags), MaxRedFlags)
	c.CorrectTreatments = truncate(cleanList(c.CorrectTreatments), MaxTreatments)
	c.IncorrectTreatments = truncate(cleanList(c.IncorrectTreatments), MaxTreatments)
}

// Validate checks the structural invariants every live case must satisfy.
func (c PatientCase) Validate() error {
	if c.Name == "" {
		return ErrMissingName
	}
	if c.Disease == "" {
		return ErrMissingDisease
	}
	if c.PresentingSummary == "" {
		return ErrMissingPresentingSummary
	}
	if c.AgeRange == "" {
		return ErrMissingAgeRange
	}
	if len(c.Symptoms) < MinSymptoms || len(c.Symptoms) > MaxSymptoms {
		return fmt.Errorf("%w: got %d", ErrSymptomCount, len(c.Symptoms))
	}
	if len(c.RedFlags) > MaxRedFlags {
		return ErrTooManyRedFlags
	}
	if !inRange(len(c.CorrectTreatments)) || !inRange(len(c.IncorrectTreatments)) {
		return fmt.Errorf("%w: correct=%d incorrect=%d", ErrTreatmentCount, len(c.CorrectTreatments), len(c.IncorrectTreatments))
	}
	if c.mentionsDisease(c.PresentingSummary) {
		return fmt.Errorf("%w: presenting summary", ErrDiseaseLeak)
	}
	for _, s := range c.Symptoms {
		if c.mentionsDisease(s) {
			return fmt.Errorf("%w: symptom %q", ErrDiseaseLeak, s)
		}
	}
	return nil
}

// Profile returns the part of the case a doctor is allowed to see up front.
func (c PatientCase) Profile() PatientProfile {
	return PatientProfile{
		Name:              c.Name,
		AgeRange:          c.AgeRange,
		Sex:               c.Sex,
		PresentingSummary: c.PresentingSummary,
	}
}

func (c PatientCase) mentionsDisease(text string) bool {
	if c.Disease == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(c.Disease))
}

// PatientProfile is the public identity of a patient. It never carries the
// disease or the treatment lists.
type PatientProfile struct {
	Name              string `json:"name"`
	AgeRange          string `json:"age_range"`
	Sex               Sex    `json:"sex"`
	PresentingSummary string `json:"presenting_summary"`
}

func inRange(n int) bool {
	return n >= MinTreatments && n <= MaxTreatments
}

// cleanList trims entries and drops empty and duplicate ones, keeping order.
func cleanList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func truncate(in []string, max int) []string {
	if len(in) > max {
		return in[:max]
	}
	return in
}
