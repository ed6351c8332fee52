package agent

import (
	"context"

	"github.com/mohammad-safakhou/counsel/internal/preprocess"
)

// Planner turns a query into a Plan.
type Planner interface {
	Plan(ctx context.Context, query string, sess SessionRef, files []preprocess.ProcessedFile) (Plan, error)
}

// FixedPlanner always searches the web and then generates an answer.
// With Retrieval set and files present, a retrieve step runs in between.
type FixedPlanner struct {
	Retrieval bool
}

func (p FixedPlanner) Plan(_ context.Context, query string, sess SessionRef, files []preprocess.ProcessedFile) (Plan, error) {
	steps := []Step{{Kind: StepSearch, Input: query}}
	if p.Retrieval && len(files) > 0 {
		steps = append(steps, Step{Kind: StepRetrieve, Input: query})
	}
	steps = append(steps, Step{Kind: StepGenerate, Input: query})
	return Plan{
		Steps: steps,
		Meta: PlanMeta{
			Query:              query,
			Session:            sess,
			ProcessedFileCount: len(files),
		},
	}, nil
}
