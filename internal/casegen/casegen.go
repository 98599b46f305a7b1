// Package casegen creates randomized patient cases using the fast model tier,
// falling back to a fixed set of hand-written cases whenever generation fails.
package casegen

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ami4go/ICAPP/internal/genai"
	"github.com/ami4go/ICAPP/internal/models"
	"github.com/ami4go/ICAPP/internal/parser"
)

// Generation defaults.
const (
	DefaultTemperature = 0.9
	DefaultTimeout     = 20 * time.Second
	// MaxEntropy bounds the variance seed embedded in the generation request.
	MaxEntropy = 999999
)

//go:embed catalog.yaml
var catalogYAML []byte

//go:embed generator_prompt.txt
var generatorPrompt string

// ErrNoClient is reported when generation is attempted without a model client.
var ErrNoClient = errors.New("no model client configured")

// catalog holds the randomization pools and fallback cases.
type catalog struct {
	Domains          []string             `yaml:"domains"`
	MaleFirstNames   []string             `yaml:"male_first_names"`
	FemaleFirstNames []string             `yaml:"female_first_names"`
	LastNames        []string             `yaml:"last_names"`
	FallbackCases    []models.PatientCase `yaml:"fallback_cases"`
}

func loadCatalog(data []byte) (catalog, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to parse case catalog: %w", err)
	}
	if len(c.Domains) == 0 || len(c.MaleFirstNames) == 0 || len(c.FemaleFirstNames) == 0 || len(c.LastNames) == 0 {
		return c, errors.New("case catalog is missing a randomization pool")
	}
	if len(c.FallbackCases) == 0 {
		return c, errors.New("case catalog has no fallback cases")
	}
	for i := range c.FallbackCases {
		c.FallbackCases[i].Normalize()
		if err := c.FallbackCases[i].Validate(); err != nil {
			return c, fmt.Errorf("fallback case %q is invalid: %w", c.FallbackCases[i].Name, err)
		}
	}
	return c, nil
}

// Knobs are the randomized inputs of one generation request.
type Knobs struct {
	Domain  string
	Sex     models.Sex
	Name    string
	Entropy int
}

// Opts holds generator configuration.
type Opts struct {
	Temperature float64
	Timeout     time.Duration
	Seed        *[2]uint64
}

// Option configures a Generator.
type Option func(*Opts)

// WithTemperature overrides the sampling temperature used for generation.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithTimeout bounds each generation call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithSeed makes randomization reproducible.
func WithSeed(seed1, seed2 uint64) Option {
	return func(o *Opts) { o.Seed = &[2]uint64{seed1, seed2} }
}

// Generator creates patient cases. It is safe for concurrent use.
type Generator struct {
	client      genai.ClientInterface
	catalog     catalog
	temperature float64
	timeout     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator builds a generator. client may be nil, in which case every case
// comes from the fallback set.
func NewGenerator(client genai.ClientInterface, opts ...Option) (*Generator, error) {
	cfg := Opts{Temperature: DefaultTemperature, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	cat, err := loadCatalog(catalogYAML)
	if err != nil {
		slog.Error("Generator.NewGenerator: embedded catalog invalid", "error", err)
		return nil, err
	}
	var src rand.Source
	if cfg.Seed != nil {
		src = rand.NewPCG(cfg.Seed[0], cfg.Seed[1])
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	slog.Debug("Generator.NewGenerator: generator ready", "client_set", client != nil, "temperature", cfg.Temperature, "timeout", cfg.Timeout, "fallbacks", len(cat.FallbackCases))
	return &Generator{
		client:      client,
		catalog:     cat,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		rng:         rand.New(src),
	}, nil
}

// Generate returns a new patient case. It never fails: any gateway, decoding or
// validation problem yields one of the fallback cases instead.
func (g *Generator) Generate(ctx context.Context) models.PatientCase {
	knobs := g.draw()
	slog.Debug("Generator.Generate: generating case", "domain", knobs.Domain, "sex", knobs.Sex, "entropy", knobs.Entropy)

	pc, err := g.generate(ctx, knobs)
	if err != nil {
		fb := g.Fallback()
		slog.Warn("Generator.Generate: generation failed, using fallback case", "error", err, "domain", knobs.Domain, "fallback", fb.Name)
		return fb
	}
	slog.Info("Generator.Generate: case generated", "domain", knobs.Domain, "sex", pc.Sex, "severity", pc.Severity, "symptoms", len(pc.Symptoms))
	return pc
}

func (g *Generator) generate(ctx context.Context, knobs Knobs) (models.PatientCase, error) {
	if g.client == nil {
		return models.PatientCase{}, ErrNoClient
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := []genai.Message{
		genai.SystemMessage(generatorPrompt),
		genai.UserMessage(RequestText(knobs)),
	}
	raw, err := g.client.Invoke(ctx, messages, g.temperature, genai.TierFast)
	if err != nil {
		return models.PatientCase{}, fmt.Errorf("case generation call failed: %w", err)
	}
	return DecodeCase(raw, knobs)
}

// RequestText is the user message sent to the model for one generation.
func RequestText(k Knobs) string {
	return fmt.Sprintf("Generate a NEW unique patient case now. Variance Seed: %d. Focus Domain: %s. Sex: %s. Name: %s. "+
		"Ensure a distinct age from previous cases. Prioritize COMMON everyday conditions (e.g., fractures, flu, wounds, migraines) over rare diseases.",
		k.Entropy, k.Domain, k.Sex, k.Name)
}

// DecodeCase parses model output into a validated case. Only code fences are
// tolerated around the object; the forced sex and name are applied over the
// model's values.
func DecodeCase(raw string, knobs Knobs) (models.PatientCase, error) {
	var pc models.PatientCase
	if err := json.Unmarshal([]byte(parser.StripCodeFence(raw)), &pc); err != nil {
		return pc, fmt.Errorf("failed to decode generated case: %w", err)
	}
	if knobs.Sex != "" {
		pc.Sex = knobs.Sex
	}
	if knobs.Name != "" {
		pc.Name = knobs.Name
	}
	pc.Normalize()
	if err := pc.Validate(); err != nil {
		return pc, fmt.Errorf("generated case rejected: %w", err)
	}
	return pc, nil
}

// Fallback returns a copy of a pseudo-randomly chosen fallback case.
func (g *Generator) Fallback() models.PatientCase {
	g.mu.Lock()
	i := g.rng.IntN(len(g.catalog.FallbackCases))
	g.mu.Unlock()
	return cloneCase(g.catalog.FallbackCases[i])
}

// FallbackCases returns copies of every fallback case.
func (g *Generator) FallbackCases() []models.PatientCase {
	out := make([]models.PatientCase, len(g.catalog.FallbackCases))
	for i, c := range g.catalog.FallbackCases {
		out[i] = cloneCase(c)
	}
	return out
}

func (g *Generator) draw() Knobs {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := Knobs{
		Domain:  g.catalog.Domains[g.rng.IntN(len(g.catalog.Domains))],
		Entropy: g.rng.IntN(MaxEntropy + 1),
	}
	first := g.catalog.FemaleFirstNames
	k.Sex = models.SexFemale
	if g.rng.IntN(2) == 0 {
		first = g.catalog.MaleFirstNames
		k.Sex = models.SexMale
	}
	k.Name = first[g.rng.IntN(len(first))] + " " + g.catalog.LastNames[g.rng.IntN(len(g.catalog.LastNames))]
	return k
}

func cloneCase(c models.PatientCase) models.PatientCase {
	c.Symptoms = slices.Clone(c.Symptoms)
	c.RedFlags = slices.Clone(c.RedFlags)
	c.CorrectTreatments = slices.Clone(c.CorrectTreatments)
	c.IncorrectTreatments = slices.Clone(c.IncorrectTreatments)
	return c
}
