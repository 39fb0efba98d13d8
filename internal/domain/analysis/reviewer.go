package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simplhealth/go-cds/internal/domain/patient"
)

// aiResultPrefix namespaces reviewer results away from rule-based ones.
const aiResultPrefix = "ai_"

// LLMClient is the capability the reviewer consumes. Given a system and user
// prompt it returns the model's text completion.
type LLMClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// reviewerSystemPrompt frames the LLM as a second reader over the rule engine.
const reviewerSystemPrompt = `You are a clinical decision-support reviewer for a skilled nursing facility.
Given a patient summary and the findings of a rule-based risk engine, assess the patient for the five
risk types: infusion, transfusion, foley_risk, gtube_risk, mtn_risk. Do not repeat findings the rule
engine already made; focus on factors it may have missed. Omit any assessment you judge unremarkable.
Respond with JSON only, matching:
{"assessments":[{"type":"infusion","severity":"critical|high|medium|low|normal","confidence":0.0,
"reasoning":"...","recommendations":["..."],"missed_factors":["..."]}]}`

// aiAssessment is one entry of the LLM's structured response.
type aiAssessment struct {
	Type            string   `json:"type"`
	Severity        string   `json:"severity"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	Recommendations []string `json:"recommendations"`
	MissedFactors   []string `json:"missed_factors"`
}

type aiResponse struct {
	Assessments []aiAssessment `json:"assessments"`
}

// allowedAITypes restricts reviewer output to the five known risk types.
var allowedAITypes = map[string]bool{
	ModuleInfusion:    true,
	ModuleTransfusion: true,
	ModuleFoleyRisk:   true,
	ModuleGTubeRisk:   true,
	ModuleMTNRisk:     true,
}

// Reviewer asks an LLM for a second opinion over the rule-based findings.
type Reviewer struct {
	client  LLMClient
	timeout time.Duration
	logger  *zap.Logger
}

// NewReviewer creates the AI reviewer. A nil client disables the review step.
func NewReviewer(client LLMClient, timeout time.Duration, logger *zap.Logger) *Reviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Reviewer{client: client, timeout: timeout, logger: logger}
}

// Review returns zero or more ai_-prefixed results. It never fails the run:
// any error degrades to an empty list. The LLM is not invoked unless at least
// one rule-based result reached low severity.
func (r *Reviewer) Review(ctx context.Context, pc *patient.Context, ruleResults []*Result) []*Result {
	if r.client == nil {
		return nil
	}

	worthReviewing := false
	for _, res := range ruleResults {
		if res.Severity.AtLeast(SeverityLow) {
			worthReviewing = true
			break
		}
	}
	if !worthReviewing {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.client.Complete(ctx, reviewerSystemPrompt, buildClinicalSummary(pc, ruleResults))
	if err != nil {
		r.logger.Warn("ai review failed",
			zap.String("simpl_id", pc.SimplID),
			zap.Error(err))
		return nil
	}

	resp, err := parseAIResponse(raw)
	if err != nil {
		r.logger.Warn("ai review returned malformed response",
			zap.String("simpl_id", pc.SimplID),
			zap.Error(err))
		return nil
	}

	var results []*Result
	for _, a := range resp.Assessments {
		if !allowedAITypes[a.Type] {
			r.logger.Warn("ai review returned unknown assessment type",
				zap.String("type", a.Type))
			continue
		}
		confidence := math.Min(math.Max(a.Confidence, 0), 1)
		severity := ParseSeverity(a.Severity)
		results = append(results, &Result{
			AnalysisType: aiResultPrefix + a.Type,
			Severity:     severity,
			Score:        int(math.Round(confidence * 100)),
			Priority:     aiPriority(severity),
			Reasoning:    a.Reasoning,
			KeyIndicators: map[string]interface{}{
				"confidence":      confidence,
				"recommendations": a.Recommendations,
				"missed_factors":  a.MissedFactors,
			},
		})
	}
	return results
}

func aiPriority(s Severity) string {
	switch s {
	case SeverityCritical, SeverityHigh:
		return "action_needed"
	case SeverityMedium:
		return "monitor"
	default:
		return "none"
	}
}

// parseAIResponse tolerates code-fenced JSON, which chat models emit routinely.
func parseAIResponse(raw string) (*aiResponse, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	}
	var resp aiResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal assessments: %w", err)
	}
	return &resp, nil
}

// buildClinicalSummary renders the context and rule findings for the prompt.
func buildClinicalSummary(pc *patient.Context, ruleResults []*Result) string {
	var b strings.Builder

	b.WriteString("PATIENT SUMMARY\n\nLabs:\n")
	labCodes := make([]string, 0, len(pc.Labs))
	for code := range pc.Labs {
		labCodes = append(labCodes, code)
	}
	sort.Strings(labCodes)
	for _, code := range labCodes {
		lab := pc.Labs[code]
		fmt.Fprintf(&b, "- %s: %.2f %s", lab.Name, lab.Value, lab.Unit)
		if lab.RefLow != nil && lab.RefHigh != nil {
			fmt.Fprintf(&b, " (ref %.2f-%.2f)", *lab.RefLow, *lab.RefHigh)
		}
		fmt.Fprintf(&b, ", trend %s\n", lab.Trend)
	}
	if len(labCodes) == 0 {
		b.WriteString("- none on file\n")
	}

	b.WriteString("\nActive diagnoses:\n")
	for _, cond := range pc.ActiveConditions {
		fmt.Fprintf(&b, "- %s %s\n", cond.ICD10Code, cond.Description)
	}
	if len(pc.ActiveConditions) == 0 {
		b.WriteString("- none on file\n")
	}

	b.WriteString("\nActive medications:\n")
	for _, med := range pc.Medications {
		fmt.Fprintf(&b, "- %s", med.Name)
		if med.Directions != "" {
			fmt.Fprintf(&b, " (%s)", med.Directions)
		}
		b.WriteString("\n")
	}
	if len(pc.Medications) == 0 {
		b.WriteString("- none on file\n")
	}

	b.WriteString("\nCare plan focuses:\n")
	for _, focus := range pc.CarePlanFocuses {
		fmt.Fprintf(&b, "- %s\n", focus)
	}
	if len(pc.CarePlanFocuses) == 0 {
		b.WriteString("- none on file\n")
	}

	b.WriteString("\nVitals:\n")
	vitalTypes := make([]string, 0, len(pc.Vitals))
	for t := range pc.Vitals {
		vitalTypes = append(vitalTypes, t)
	}
	sort.Strings(vitalTypes)
	for _, t := range vitalTypes {
		v := pc.Vitals[t]
		fmt.Fprintf(&b, "- %s: %s %s\n", v.Type, v.Value, v.Unit)
	}
	if len(vitalTypes) == 0 {
		b.WriteString("- none on file\n")
	}

	b.WriteString("\nAssessment scores:\n")
	assessments := make([]string, 0, len(pc.AssessmentScores))
	for desc := range pc.AssessmentScores {
		assessments = append(assessments, desc)
	}
	sort.Strings(assessments)
	for _, desc := range assessments {
		fmt.Fprintf(&b, "- %s: %.0f\n", desc, pc.AssessmentScores[desc])
	}
	if len(assessments) == 0 {
		b.WriteString("- none on file\n")
	}

	b.WriteString("\nRULE ENGINE FINDINGS\n")
	for _, res := range ruleResults {
		fmt.Fprintf(&b, "- %s: %s (score %d): %s\n",
			res.AnalysisType, res.Severity, res.Score, res.Reasoning)
	}

	return b.String()
}
