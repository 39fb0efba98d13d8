package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/simplhealth/go-cds/internal/domain/patient"
)

type fakeLLM struct {
	calls    int
	response string
	err      error
	lastUser string
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	f.calls++
	f.lastUser = user
	return f.response, f.err
}

func lowResult() []*Result {
	return []*Result{{AnalysisType: ModuleInfusion, Severity: SeverityLow, Score: 15}}
}

func TestReviewSkipsAllNormalResults(t *testing.T) {
	llm := &fakeLLM{response: `{"assessments":[]}`}
	reviewer := NewReviewer(llm, time.Second, nil)

	results := reviewer.Review(context.Background(), &patient.Context{SimplID: "pt-1"},
		[]*Result{
			{AnalysisType: ModuleInfusion, Severity: SeverityNormal},
			{AnalysisType: ModuleTransfusion, Severity: SeverityNormal},
		})

	if results != nil {
		t.Errorf("Review = %v, want nil for all-normal input", results)
	}
	if llm.calls != 0 {
		t.Errorf("LLM called %d times, want 0", llm.calls)
	}
}

func TestReviewNilClient(t *testing.T) {
	reviewer := NewReviewer(nil, time.Second, nil)
	if got := reviewer.Review(context.Background(), &patient.Context{}, lowResult()); got != nil {
		t.Errorf("Review with nil client = %v, want nil", got)
	}
}

func TestReviewHappyPath(t *testing.T) {
	llm := &fakeLLM{response: `{"assessments":[{"type":"infusion","severity":"high",
"confidence":0.87,"reasoning":"Protein trajectory suggests escalation",
"recommendations":["dietitian consult"],"missed_factors":["recent weight loss"]}]}`}
	reviewer := NewReviewer(llm, time.Second, nil)

	pc := &patient.Context{
		SimplID: "pt-1",
		Labs: map[string]patient.LabSnapshot{
			"ALB": {Name: "ALB", Value: 2.1, Unit: "g/dL", Trend: patient.TrendFalling},
		},
	}

	results := reviewer.Review(context.Background(), pc, lowResult())
	if len(results) != 1 {
		t.Fatalf("Review returned %d results, want 1", len(results))
	}

	res := results[0]
	if res.AnalysisType != "ai_infusion" {
		t.Errorf("analysis type = %q, want ai_infusion", res.AnalysisType)
	}
	if res.Severity != SeverityHigh {
		t.Errorf("severity = %v, want high", res.Severity)
	}
	if res.Score != 87 {
		t.Errorf("score = %d, want 87", res.Score)
	}
	if res.Priority != "action_needed" {
		t.Errorf("priority = %q, want action_needed", res.Priority)
	}
	if res.KeyIndicators["confidence"] != 0.87 {
		t.Errorf("confidence indicator = %v, want 0.87", res.KeyIndicators["confidence"])
	}

	if !strings.Contains(llm.lastUser, "ALB: 2.10 g/dL") {
		t.Errorf("prompt missing lab line: %q", llm.lastUser)
	}
	if !strings.Contains(llm.lastUser, "RULE ENGINE FINDINGS") {
		t.Error("prompt missing rule findings section")
	}
}

func TestReviewToleratesCodeFences(t *testing.T) {
	llm := &fakeLLM{response: "```json\n" +
		`{"assessments":[{"type":"foley_risk","severity":"medium","confidence":0.6,"reasoning":"r"}]}` +
		"\n```"}
	reviewer := NewReviewer(llm, time.Second, nil)

	results := reviewer.Review(context.Background(), &patient.Context{SimplID: "pt-1"}, lowResult())
	if len(results) != 1 || results[0].AnalysisType != "ai_foley_risk" {
		t.Fatalf("Review = %+v, want one ai_foley_risk result", results)
	}
	if results[0].Priority != "monitor" {
		t.Errorf("priority = %q, want monitor for medium severity", results[0].Priority)
	}
}

func TestReviewFiltersUnknownTypes(t *testing.T) {
	llm := &fakeLLM{response: `{"assessments":[
{"type":"dialysis","severity":"high","confidence":0.9,"reasoning":"r"},
{"type":"transfusion","severity":"low","confidence":0.4,"reasoning":"r"}]}`}
	reviewer := NewReviewer(llm, time.Second, nil)

	results := reviewer.Review(context.Background(), &patient.Context{SimplID: "pt-1"}, lowResult())
	if len(results) != 1 {
		t.Fatalf("Review returned %d results, want 1 after filtering", len(results))
	}
	if results[0].AnalysisType != "ai_transfusion" {
		t.Errorf("analysis type = %q, want ai_transfusion", results[0].AnalysisType)
	}
}

func TestReviewClampsConfidence(t *testing.T) {
	llm := &fakeLLM{response: `{"assessments":[
{"type":"infusion","severity":"low","confidence":1.7,"reasoning":"r"},
{"type":"mtn_risk","severity":"low","confidence":-0.3,"reasoning":"r"}]}`}
	reviewer := NewReviewer(llm, time.Second, nil)

	results := reviewer.Review(context.Background(), &patient.Context{SimplID: "pt-1"}, lowResult())
	if len(results) != 2 {
		t.Fatalf("Review returned %d results, want 2", len(results))
	}
	if results[0].Score != 100 {
		t.Errorf("over-range confidence score = %d, want 100", results[0].Score)
	}
	if results[1].Score != 0 {
		t.Errorf("under-range confidence score = %d, want 0", results[1].Score)
	}
}

func TestReviewDegradesOnLLMError(t *testing.T) {
	llm := &fakeLLM{err: errors.New("upstream timeout")}
	reviewer := NewReviewer(llm, time.Second, nil)

	if got := reviewer.Review(context.Background(), &patient.Context{SimplID: "pt-1"}, lowResult()); got != nil {
		t.Errorf("Review after LLM error = %v, want nil", got)
	}
}

func TestReviewDegradesOnMalformedResponse(t *testing.T) {
	llm := &fakeLLM{response: "I cannot assess this patient."}
	reviewer := NewReviewer(llm, time.Second, nil)

	if got := reviewer.Review(context.Background(), &patient.Context{SimplID: "pt-1"}, lowResult()); got != nil {
		t.Errorf("Review after malformed response = %v, want nil", got)
	}
}
