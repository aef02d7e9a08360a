// Package fanout turns one submitted task into its full set of generation
// units: the cartesian product of prompt variants, effective styles, models
// and batch indices. Planning is pure; persisting the resulting subtasks and
// enqueueing their jobs is the expansion handler's side effect.
package fanout

import (
	"errors"
	"fmt"

	"github.com/easelhq/easel-api/internal/domain"
)

var (
	// ErrEmptyDimension is returned when a fan-out dimension (variants,
	// styles or models) is empty. The condition is fatal for the task;
	// retrying the expansion cannot fix it.
	ErrEmptyDimension = errors.New("fan-out dimension is empty")

	// ErrBatchSizeOutOfRange is returned when the per-prompt image count
	// falls outside the permitted range.
	ErrBatchSizeOutOfRange = errors.New("count per prompt is out of range")
)

// Planner expands a task into generation units in a deterministic order.
type Planner struct{}

// NewPlanner creates a Planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan computes one pending subtask per (variant, style, model, batchIndex)
// tuple, iterating in that order so the plan is reproducible for the same
// inputs. Styles must already be resolved to the task's effective style list,
// base style included when the task asks for it.
//
// Each unit carries the style-merged prompt (expanded text when expansion
// produced any, the original prompt otherwise), the merged negative prompt,
// the task's aspect ratio and, when the task pins a seed, a per-unit seed of
// base seed plus the unit's ordinal in plan order.
func (p *Planner) Plan(task *domain.Task, variants []domain.PromptVariant, styles []domain.Style) ([]*domain.SubTask, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: no prompt variants", ErrEmptyDimension)
	}
	if len(styles) == 0 {
		return nil, fmt.Errorf("%w: no styles", ErrEmptyDimension)
	}
	if len(task.ModelIDs) == 0 {
		return nil, fmt.Errorf("%w: no models", ErrEmptyDimension)
	}

	countPerPrompt := task.Batch.CountPerPrompt
	if countPerPrompt < 1 || countPerPrompt > domain.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrBatchSizeOutOfRange, countPerPrompt, domain.MaxBatchSize)
	}

	units := make([]*domain.SubTask, 0, len(variants)*len(styles)*len(task.ModelIDs)*countPerPrompt)

	ordinal := 0
	for _, variant := range variants {
		prompt := variant.ExpandedText
		if prompt == "" {
			prompt = variant.OriginalText
		}

		for _, style := range styles {
			styled := style.Apply(prompt)
			negative := style.MergeNegativePrompt(task.Batch.NegativePrompt)

			for _, modelID := range task.ModelIDs {
				for batchIndex := 0; batchIndex < countPerPrompt; batchIndex++ {
					unit, err := domain.NewSubTask(
						task.ID,
						variant.ID,
						style.ID,
						modelID,
						batchIndex,
						styled,
						negative,
						task.Batch.AspectRatio,
						unitSeed(task.Batch.Seed, ordinal),
					)
					if err != nil {
						return nil, fmt.Errorf("planning unit %d (%s/%s/%s): %w", ordinal, variant.ID, style.ID, modelID, err)
					}

					units = append(units, unit)
					ordinal++
				}
			}
		}
	}

	return units, nil
}

// unitSeed derives the seed for one unit from the task's base seed and the
// unit's position in plan order. A task without a pinned seed produces
// unseeded units, leaving seed choice to the provider.
func unitSeed(base *int64, ordinal int) *int64 {
	if base == nil {
		return nil
	}
	seed := *base + int64(ordinal)
	return &seed
}
