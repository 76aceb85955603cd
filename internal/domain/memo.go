package domain

import (
	"fmt"
	"strings"
	"time"
)

// Scenario is one branch in a memo's scenario tree.
type Scenario struct {
	Name        string   `json:"name"`
	Probability float64  `json:"probability"`
	Description string   `json:"description"`
	TargetPrice *float64 `json:"target_price,omitempty"`
	Timeline    string   `json:"timeline,omitempty"`
}

// Memo is the structured analysis behind a signal, rendered to
// Markdown for the human reader.
type Memo struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	ExecutiveSummary string     `json:"executive_summary,omitempty"`
	Catalyst         string     `json:"catalyst,omitempty"`
	MarketContext    string     `json:"market_context,omitempty"`
	Scenarios        []Scenario `json:"scenario_tree,omitempty"`
	TradeExpression  string     `json:"trade_expression,omitempty"`
	Risks            []string   `json:"risks,omitempty"`
	MonitoringPlan   string     `json:"monitoring_plan,omitempty"`

	AgentsUsed []string `json:"agents_used,omitempty"`
	ModelName  string   `json:"model_name,omitempty"`
}

// NewMemo builds a memo with a fresh ID.
func NewMemo(correlationID string) Memo {
	return Memo{
		ID:            NewID("memo"),
		CorrelationID: correlationID,
	}
}

// Markdown renders the memo as a document with YAML frontmatter.
func (m Memo) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "---\nid: %s\ncreated_at: %s\ncorrelation_id: %s\n---\n\n",
		m.ID, m.CreatedAt.Format(time.RFC3339), m.CorrelationID)

	if m.ExecutiveSummary != "" {
		fmt.Fprintf(&b, "# Executive Summary\n\n%s\n\n", m.ExecutiveSummary)
	}
	if m.Catalyst != "" {
		fmt.Fprintf(&b, "## Catalyst\n\n%s\n\n", m.Catalyst)
	}
	if m.MarketContext != "" {
		fmt.Fprintf(&b, "## Market Context\n\n%s\n\n", m.MarketContext)
	}
	if len(m.Scenarios) > 0 {
		b.WriteString("## Scenarios\n\n| Scenario | Probability | Target | Timeline |\n|---|---|---|---|\n")
		for _, s := range m.Scenarios {
			target := "n/a"
			if s.TargetPrice != nil {
				target = fmt.Sprintf("$%.2f", *s.TargetPrice)
			}
			timeline := s.Timeline
			if timeline == "" {
				timeline = "n/a"
			}
			fmt.Fprintf(&b, "| %s | %.0f%% | %s | %s |\n", s.Name, s.Probability*100, target, timeline)
		}
		b.WriteString("\n")
	}
	if m.TradeExpression != "" {
		fmt.Fprintf(&b, "## Trade Expression\n\n%s\n\n", m.TradeExpression)
	}
	if len(m.Risks) > 0 {
		b.WriteString("## Risks\n\n")
		for _, r := range m.Risks {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}
	if m.MonitoringPlan != "" {
		fmt.Fprintf(&b, "## Monitoring Plan\n\n%s\n\n", m.MonitoringPlan)
	}
	return b.String()
}
