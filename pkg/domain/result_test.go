package domain

import (
	"context"
	"strings"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{})
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "stop"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if !strings.Contains(err.Error(), "block: stop") || strings.Contains(err.Error(), "warn") {
		t.Fatalf("unexpected error string %q", err.Error())
	}
	if msg := (RuleViolationError{}).Error(); msg != "transaction blocked by rules" {
		t.Fatalf("unexpected empty message %q", msg)
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, TransactionView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type emptyView struct{}

func (emptyView) Get([]byte) ([]byte, bool) { return nil, false }
func (emptyView) Exists([]byte) bool        { return false }

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"a"})
	engine.Register(staticRule{"b"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 2 || len(engine.Rules()) != 2 {
		t.Fatalf("expected a violation per rule, got %+v", res.Violations)
	}
}
