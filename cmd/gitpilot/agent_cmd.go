package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fentz26/gitpilot/internal/agent"
	"github.com/fentz26/gitpilot/internal/llm"
)

var agentCmd = &cobra.Command{
	Use:    "agent",
	Short:  "Run one worker invocation (internal, launched by the daemon)",
	Hidden: true,
	RunE:   runAgent,
}

// runAgent reads the self-contained environment payload and executes one
// task. A non-nil return exits the process non-zero; the daemon only learns
// of the outcome through the callbacks.
func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := agent.FromEnv()
	if err != nil {
		return err
	}

	reporter := agent.NewReporter(cfg.BackendURL, cfg.TaskID)
	rewriter := llm.NewOpenAIClient(cfg.RewriteModel)

	return agent.New(cfg, reporter, rewriter).Run(context.Background())
}
