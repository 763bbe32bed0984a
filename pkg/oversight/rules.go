package oversight

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/havenline/triage/pkg/contracts"
)

// TriggerRule is an operator-defined escalation trigger expressed in CEL.
// The expression sees the variables risk, confidence, crisis_level,
// message_type, language and categories, and must evaluate to a bool.
// A true result escalates with the rule's priority, case type and
// expertise requirements.
type TriggerRule struct {
	Name       string              `yaml:"name"`
	Expression string              `yaml:"expression"`
	Priority   contracts.Priority  `yaml:"priority"`
	CaseType   contracts.CaseType  `yaml:"case_type"`
	Expertise  []string            `yaml:"expertise"`
}

type celRule struct {
	rule TriggerRule
	prg  cel.Program
}

// compileRules builds CEL programs for the configured trigger rules.
func compileRules(rules []TriggerRule) ([]*celRule, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("risk", cel.DoubleType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("crisis_level", cel.StringType),
		cel.Variable("message_type", cel.StringType),
		cel.Variable("language", cel.StringType),
		cel.Variable("categories", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}

	compiled := make([]*celRule, 0, len(rules))
	for _, r := range rules {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if r.Priority == "" {
			r.Priority = contracts.PriorityMedium
		}
		if r.CaseType == "" {
			r.CaseType = contracts.CaseEdgeCase
		}
		compiled = append(compiled, &celRule{rule: r, prg: prg})
	}
	return compiled, nil
}

// eval runs one rule against a moderation result. Evaluation errors
// disable the rule for this input rather than failing the request.
func (c *celRule) eval(res *contracts.ModerationResult, reqctx contracts.RequestContext) bool {
	cats := make([]string, len(res.Categories))
	copy(cats, res.Categories)
	out, _, err := c.prg.Eval(map[string]any{
		"risk":         res.RiskScore,
		"confidence":   res.ConfidenceScore,
		"crisis_level": string(res.CrisisLevel),
		"message_type": string(reqctx.MessageType),
		"language":     res.Language,
		"categories":   cats,
	})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}
