package optimizer

import (
	"fmt"
	"log/slog"

	"github.com/cube2222/octoframe/octoframe"
	. "github.com/cube2222/octoframe/plan"
)

const DefaultMaxPasses = 16

type Rule struct {
	Name  string
	Apply func(node Node) (output Node, changed bool)
}

func DefaultRules(broadcastThreshold float64) []Rule {
	return []Rule{
		{Name: "merge_filters", Apply: MergeFilters},
		{Name: "push_down_filters", Apply: PushDownFilters},
		{Name: "push_down_projections", Apply: PushDownProjections},
		{Name: "eliminate_common_subexpressions", Apply: EliminateCommonSubexpressions},
		{Name: "reorder_joins", Apply: ReorderJoins},
		{Name: "select_join_strategy", Apply: SelectJoinStrategy(broadcastThreshold)},
		{Name: "push_down_slice", Apply: PushDownSlice},
	}
}

func RuleNames() []string {
	rules := DefaultRules(DefaultBroadcastThreshold)
	out := make([]string, len(rules))
	for i := range rules {
		out[i] = rules[i].Name
	}
	return out
}

type DiagnosticKind int

const (
	DiagnosticRuleFired DiagnosticKind = iota
	DiagnosticRuleSkipped
	DiagnosticLimitExceeded
)

func (kind DiagnosticKind) String() string {
	switch kind {
	case DiagnosticRuleFired:
		return "rule_fired"
	case DiagnosticRuleSkipped:
		return "rule_skipped"
	case DiagnosticLimitExceeded:
		return "limit_exceeded"
	}
	return "unknown"
}

type Diagnostic struct {
	Kind DiagnosticKind
	Rule string
	Pass int
	// Err is set for skipped rules and for the pass limit.
	Err error
}

func (d Diagnostic) String() string {
	if d.Err != nil {
		return fmt.Sprintf("pass %d: %s %s: %s", d.Pass, d.Kind, d.Rule, d.Err)
	}
	return fmt.Sprintf("pass %d: %s %s", d.Pass, d.Kind, d.Rule)
}

type Optimizer struct {
	Rules     []Rule
	MaxPasses int
	Logger    *slog.Logger
}

type Options struct {
	MaxPasses          int
	DisabledRules      []string
	BroadcastThreshold float64
	Logger             *slog.Logger
}

func New(options Options) *Optimizer {
	disabled := make(map[string]bool)
	for _, name := range options.DisabledRules {
		disabled[name] = true
	}
	var rules []Rule
	for _, rule := range DefaultRules(options.BroadcastThreshold) {
		if !disabled[rule.Name] {
			rules = append(rules, rule)
		}
	}
	maxPasses := options.MaxPasses
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{
		Rules:     rules,
		MaxPasses: maxPasses,
		Logger:    logger,
	}
}

// Optimize runs the rules until none of them changes the plan. It never fails:
// misbehaving rules are skipped for the rest of the run, and reaching the pass limit
// returns the last plan with a limit diagnostic.
func (o *Optimizer) Optimize(node Node) (Node, []Diagnostic) {
	var diagnostics []Diagnostic
	skipped := make(map[string]bool)

	for pass := 1; pass <= o.MaxPasses; pass++ {
		changed := false
		for _, rule := range o.Rules {
			if skipped[rule.Name] {
				continue
			}
			output, curChanged, err := applyRule(rule, node)
			if err != nil {
				skipped[rule.Name] = true
				diagnostics = append(diagnostics, Diagnostic{Kind: DiagnosticRuleSkipped, Rule: rule.Name, Pass: pass, Err: err})
				o.Logger.Warn("optimizer rule skipped", "rule", rule.Name, "pass", pass, "error", err)
				continue
			}
			if curChanged {
				changed = true
				node = output
				diagnostics = append(diagnostics, Diagnostic{Kind: DiagnosticRuleFired, Rule: rule.Name, Pass: pass})
				o.Logger.Debug("optimizer rule fired", "rule", rule.Name, "pass", pass)
			}
		}
		if !changed {
			return node, diagnostics
		}
	}

	err := &octoframe.OptimizerLimitExceeded{Passes: o.MaxPasses}
	diagnostics = append(diagnostics, Diagnostic{Kind: DiagnosticLimitExceeded, Pass: o.MaxPasses, Err: err})
	o.Logger.Warn("optimizer pass limit exceeded", "passes", o.MaxPasses)
	return node, diagnostics
}

func applyRule(rule Rule, node Node) (output Node, changed bool, err error) {
	defer func() {
		if msg := recover(); msg != nil {
			err = fmt.Errorf("rule panicked: %v", msg)
		}
	}()
	output, changed = rule.Apply(node)
	if !changed {
		return node, false, nil
	}
	if !output.Schema.Equals(node.Schema) {
		return node, false, fmt.Errorf("rule changed the root schema from %s to %s", DescribeSchema(node.Schema), DescribeSchema(output.Schema))
	}
	derived, err := DeriveSchema(output)
	if err != nil {
		return node, false, fmt.Errorf("rule produced an invalid plan: %w", err)
	}
	if !derived.Equals(output.Schema) {
		return node, false, fmt.Errorf("rule produced a root with a stale schema")
	}
	return output, true, nil
}
