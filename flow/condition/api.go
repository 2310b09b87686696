package condition

import (
	"fmt"
	"sort"

	"github.com/dshills/agentflow-go/flow/playbook"
)

// ValidateSyntax parses the expression without evaluating it and returns the
// SyntaxError, if any.
func ValidateSyntax(expr string) error {
	_, err := parse(expr)
	return err
}

// ReferencedVariables lists the variable names an expression reads, sorted
// and deduplicated. Function names and string literals are not variables.
func ReferencedVariables(expr string) ([]string, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, t := range tokens {
		if t.Kind == TokenVariable {
			seen[t.Text] = true
		}
	}
	vars := make([]string, 0, len(seen))
	for name := range seen {
		vars = append(vars, name)
	}
	sort.Strings(vars)
	return vars, nil
}

// ScanReport summarizes the conditions found in a playbook.
type ScanReport struct {
	// Variables are all variable names referenced by any condition, sorted.
	Variables []string
	// Errors lists malformed conditions keyed by the step that declares them.
	Errors map[string][]error
}

// Valid reports whether every scanned condition parsed cleanly.
func (r *ScanReport) Valid() bool {
	return len(r.Errors) == 0
}

// ScanPlaybook walks the playbook's process, handoff, and feedback steps,
// validates each attached condition, and collects the variables the playbook
// expects the workflow state to provide.
func ScanPlaybook(pb *playbook.Playbook) *ScanReport {
	report := &ScanReport{Errors: make(map[string][]error)}
	seen := make(map[string]bool)
	for i := range pb.Steps {
		step := &pb.Steps[i]
		for _, expr := range step.Conditions() {
			vars, err := ReferencedVariables(expr)
			if err != nil {
				report.Errors[step.ID] = append(report.Errors[step.ID],
					fmt.Errorf("condition %q: %w", expr, err))
				continue
			}
			for _, name := range vars {
				seen[name] = true
			}
		}
	}
	for name := range seen {
		report.Variables = append(report.Variables, name)
	}
	sort.Strings(report.Variables)
	return report
}
