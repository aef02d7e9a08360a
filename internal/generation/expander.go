package generation

import (
	"context"

	"github.com/easelhq/easel-api/internal/domain"
)

// PromptExpander defines the interface for expanding a task subject into
// distinct prompt variants. This interface serves as a boundary between the
// orchestration core and external AI/LLM services, following the hexagonal
// architecture pattern.
type PromptExpander interface {
	// ExpandPrompts produces count prompt variants for the given subject.
	// Each variant is a self-contained image prompt with a short name and a
	// filename-safe slug.
	//
	// Parameters:
	//   - ctx: Context for the operation, which can be used for cancellation
	//   - subject: The user's original creative subject
	//   - count: How many variants to produce (the caller validates bounds)
	//   - useWebSearch: Whether the expander may ground variants in current
	//     web results, for subjects that reference recent events or products
	//
	// Returns:
	//   - A slice of domain.PromptVariant values in a stable order
	//   - An error if the expansion fails for any reason (see errors.go for
	//     specific types)
	ExpandPrompts(ctx context.Context, subject string, count int, useWebSearch bool) ([]domain.PromptVariant, error)
}
