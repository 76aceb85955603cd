package risk

import (
	"fmt"

	"github.com/tessera-trading/advisor/internal/config"
	"github.com/tessera-trading/advisor/internal/domain"
)

// Engine runs every registered rule against a signal and aggregates the
// verdict. All rules always run, even after one fails, so the proposer
// sees the complete list of objections at once.
type Engine struct {
	registry *Registry
}

// NewEngine creates an Engine over the given rule registry.
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// NewEngineFromConfig builds an Engine with the four built-in rules
// parameterised from config, in their standard evaluation order.
func NewEngineFromConfig(cfg config.RiskConfig) *Engine {
	registry := NewRegistry()
	registry.Register(ConfidenceRule{MinConfidence: cfg.MinConfidence})
	registry.Register(ConcentrationRule{
		MaxSinglePosition: cfg.MaxSinglePosition,
		MaxSectorExposure: cfg.MaxSectorExposure,
		Sectors:           cfg.Sectors,
	})
	registry.Register(FrequencyRule{MaxSignalsPerDay: cfg.MaxSignalsPerDay})
	registry.Register(DrawdownRule{MaxDrawdown: cfg.MaxDrawdown})
	return NewEngine(registry)
}

// Evaluate runs all rules in registration order. A rule that panics is
// recorded as a failed evaluation rather than taking down the caller.
func (e *Engine) Evaluate(in Input) domain.RiskResult {
	rules := e.registry.All()
	evaluations := make([]domain.RuleEvaluation, 0, len(rules))

	for _, rule := range rules {
		evaluations = append(evaluations, safeEvaluate(rule, in))
	}

	approved := true
	for _, ev := range evaluations {
		if !ev.Passed {
			approved = false
			break
		}
	}

	return domain.RiskResult{Approved: approved, Evaluations: evaluations}
}

func safeEvaluate(rule Rule, in Input) (ev domain.RuleEvaluation) {
	defer func() {
		if r := recover(); r != nil {
			ev = domain.RuleEvaluation{
				RuleName: rule.Name(),
				Passed:   false,
				Reason:   fmt.Sprintf("Rule panicked: %v", r),
			}
		}
	}()
	return rule.Evaluate(in)
}
