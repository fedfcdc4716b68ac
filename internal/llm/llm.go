// Package llm defines the model boundary: a rewrite function for file edits
// and a plan function for execution plans. Callers depend on the interfaces;
// the OpenAI client is one implementation.
package llm

import "context"

// Rewriter produces the full updated content of a single file.
type Rewriter interface {
	// Rewrite returns the complete new file content for path given the
	// user's instruction and the current content.
	Rewrite(ctx context.Context, instruction, path, content string) (string, error)

	// Model identifies the generator, recorded alongside its output.
	Model() string
}

// Planner produces a human-reviewable step-by-step plan.
type Planner interface {
	Plan(ctx context.Context, prompt string) (string, error)
	Model() string
}
