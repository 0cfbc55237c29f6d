package actions

import (
	"fmt"

	"github.com/mlenz/conductor/internal/conductor"
)

// Issue reports one step whose action is not registered.
type Issue struct {
	StepID string `json:"step_id"`
	Action string `json:"action"`
}

func (i Issue) String() string {
	return fmt.Sprintf("step %q references unregistered action %q", i.StepID, i.Action)
}

// ValidateDefinition checks every step's action against the registry and
// collects all problems in one pass rather than failing on the first, so a
// single validation surfaces the complete set before a run starts.
func ValidateDefinition(def *conductor.WorkflowDefinition, reg *Registry) []Issue {
	registered := make(map[string]struct{})
	for _, name := range reg.Names() {
		registered[name] = struct{}{}
	}

	var issues []Issue
	for _, step := range def.Steps {
		if _, ok := registered[step.Action]; !ok {
			issues = append(issues, Issue{StepID: step.ID, Action: step.Action})
		}
	}
	return issues
}

// MissingActions reduces issues to the unique set of unregistered action
// names, in first-seen order.
func MissingActions(issues []Issue) []string {
	seen := make(map[string]struct{})
	var missing []string
	for _, i := range issues {
		if _, ok := seen[i.Action]; ok {
			continue
		}
		seen[i.Action] = struct{}{}
		missing = append(missing, i.Action)
	}
	return missing
}
