// Package subagent implements the read-only subagent task manager: a bounded
// worker pool that runs short-lived, conversation-scoped turns on the agent
// runtime and reports their outcome back to the spawning session.
package subagent

import (
	"fmt"

	"github.com/fern-run/fern/pkg/models"
)

// Contract describes the tool/step-limit sandbox a subagent type runs under.
type Contract struct {
	AllowedTools []string
	MaxSteps     int
	PromptHint   string
}

var contracts = map[models.SubagentType]Contract{
	models.SubagentExplore: {
		AllowedTools: []string{"read", "grep", "glob", "bash"},
		MaxSteps:     30,
		PromptHint:   "Find files and report concisely. Do not modify anything.",
	},
	models.SubagentResearch: {
		AllowedTools: []string{"read", "grep", "glob", "webfetch"},
		MaxSteps:     40,
		PromptHint:   "Research the question using the available tools and summarize findings.",
	},
	models.SubagentPlan: {
		AllowedTools: []string{"read", "grep", "glob"},
		MaxSteps:     50,
		PromptHint:   "Produce an ordered step list with concrete file paths. Take no side-effecting action.",
	},
}

// ContractFor returns the sandbox contract for a subagent type.
func ContractFor(t models.SubagentType) (Contract, error) {
	c, ok := contracts[t]
	if !ok {
		return Contract{}, fmt.Errorf("unknown subagent type %q", t)
	}
	return c, nil
}

// instructions renders the contract into the extra system-prompt text the
// runtime appends for this turn.
func (c Contract) instructions() string {
	return fmt.Sprintf(
		"%s You have at most %d tool-use steps for this task; wrap up and answer before exhausting them.",
		c.PromptHint, c.MaxSteps,
	)
}
