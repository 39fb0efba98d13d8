package analysis

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/simplhealth/go-cds/internal/domain/patient"
)

// Module keys for the built-in risk modules.
const (
	ModuleInfusion    = "infusion"
	ModuleTransfusion = "transfusion"
	ModuleFoleyRisk   = "foley_risk"
	ModuleGTubeRisk   = "gtube_risk"
	ModuleMTNRisk     = "mtn_risk"
)

// DefaultModuleKeys is the fallback set when a client has no module configuration.
var DefaultModuleKeys = []string{
	ModuleInfusion,
	ModuleTransfusion,
	ModuleFoleyRisk,
	ModuleGTubeRisk,
	ModuleMTNRisk,
}

// Module scores one risk type against a patient context. Analyze must be pure:
// no I/O, no mutation of the context, identical output for identical input.
type Module interface {
	Key() string
	Analyze(pc *patient.Context) (*Result, error)
}

// Registry maps module keys to implementations. It is constructed at startup
// and handed to the orchestrator; registration after startup overwrites with
// a warning so substitute modules can be dropped in.
type Registry struct {
	modules map[string]Module
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{modules: make(map[string]Module), logger: logger}
}

// DefaultRegistry returns a registry seeded with the five built-in modules.
func DefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewInfusionModule())
	r.Register(NewTransfusionModule())
	r.Register(NewFoleyRiskModule())
	r.Register(NewGTubeRiskModule())
	r.Register(NewMTNRiskModule())
	return r
}

// Register adds a module, overwriting any existing entry for the same key.
func (r *Registry) Register(m Module) {
	if _, exists := r.modules[m.Key()]; exists {
		r.logger.Warn("overwriting registered analysis module", zap.String("module", m.Key()))
	}
	r.modules[m.Key()] = m
}

// Get returns the module for a key.
func (r *Registry) Get(key string) (Module, bool) {
	m, ok := r.modules[key]
	return m, ok
}

// Keys returns the registered module keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.modules))
	for k := range r.modules {
		keys = append(keys, k)
	}
	return keys
}

// scorecard accumulates rule hits for one module run. Each triggered rule adds
// points once and appends a human-readable reason; rules are independent and
// additive.
type scorecard struct {
	score      int
	reasons    []string
	indicators map[string]interface{}
}

func newScorecard() *scorecard {
	return &scorecard{indicators: make(map[string]interface{})}
}

func (s *scorecard) add(points int, reason string) {
	s.score += points
	s.reasons = append(s.reasons, reason)
}

func (s *scorecard) addf(points int, format string, args ...interface{}) {
	s.add(points, fmt.Sprintf(format, args...))
}

func (s *scorecard) indicator(key string, value interface{}) {
	s.indicators[key] = value
}

// result assembles the module output. With no rules fired the module reports
// normal with the fixed no-findings reasoning, never an error.
func (s *scorecard) result(analysisType string, c cutoffs, priorityFor func(Severity) string, noFindings string) *Result {
	severity := c.severity(s.score)
	reasoning := noFindings
	if len(s.reasons) > 0 {
		reasoning = strings.Join(s.reasons, "; ")
	}
	return &Result{
		AnalysisType:  analysisType,
		Severity:      severity,
		Score:         s.score,
		Priority:      priorityFor(severity),
		Reasoning:     reasoning,
		KeyIndicators: s.indicators,
	}
}
