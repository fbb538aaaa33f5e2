package approval

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// PolicyRule is a named boolean expression every approval must satisfy.
//
// Expressions see: principal, requester, action_type, scope, target,
// target_kind, parameters, permissions.
type PolicyRule struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
}

// DefaultPolicyRules forbid approving one's own request.
var DefaultPolicyRules = []PolicyRule{
	{Name: "no_self_approval", Expression: "principal != requester"},
}

// PolicyEnv is the evaluation environment for policy expressions.
type PolicyEnv struct {
	Principal   string            `expr:"principal"`
	Requester   string            `expr:"requester"`
	ActionType  string            `expr:"action_type"`
	Scope       string            `expr:"scope"`
	Target      string            `expr:"target"`
	TargetKind  string            `expr:"target_kind"`
	Parameters  map[string]string `expr:"parameters"`
	Permissions []string          `expr:"permissions"`
}

// Policy is a compiled PolicyRule.
type Policy struct {
	Name    string
	program *vm.Program
}

// CompilePolicies type-checks each rule against PolicyEnv.
func CompilePolicies(rules []PolicyRule) ([]Policy, error) {
	out := make([]Policy, 0, len(rules))
	for _, r := range rules {
		program, err := expr.Compile(r.Expression, expr.Env(PolicyEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile policy %q: %w", r.Name, err)
		}
		out = append(out, Policy{Name: r.Name, program: program})
	}
	return out, nil
}

// firstViolation returns the name of the first rule env does not satisfy.
func firstViolation(policies []Policy, env PolicyEnv) (string, error) {
	for _, p := range policies {
		out, err := expr.Run(p.program, env)
		if err != nil {
			return p.Name, fmt.Errorf("evaluate policy %q: %w", p.Name, err)
		}
		if ok, _ := out.(bool); !ok {
			return p.Name, nil
		}
	}
	return "", nil
}
