package agent

// Evaluator condenses step results into the final response.
type Evaluator interface {
	Evaluate(results []StepResult) FinalResponse
}

// LastOutputEvaluator answers with the output of the last step.
type LastOutputEvaluator struct{}

func (LastOutputEvaluator) Evaluate(results []StepResult) FinalResponse {
	if results == nil {
		results = []StepResult{}
	}
	var response any
	if n := len(results); n > 0 {
		response = results[n-1].Output
	}
	return FinalResponse{Response: response, AllResults: results}
}
