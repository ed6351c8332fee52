package agent

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/counsel/internal/apperr"
	"github.com/mohammad-safakhou/counsel/internal/docstore"
	"github.com/mohammad-safakhou/counsel/internal/models"
	"github.com/mohammad-safakhou/counsel/internal/search"
	"github.com/mohammad-safakhou/counsel/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer = otel.Tracer("counsel/internal/agent")

const defaultRetrieveTopK = 5

// Router resolves the generative capability for a session.
type Router interface {
	Select(ctx context.Context, sessionID, policy string) (models.Capability, error)
}

// Retriever looks up indexed documents for a session.
type Retriever interface {
	Query(ctx context.Context, sessionID, text string, topK int) ([]docstore.Hit, error)
}

// Executor runs plan steps one after another and records one result per step.
type Executor struct {
	search    search.Provider
	router    Router
	retriever Retriever
	policy    string
	genOpts   models.Options
	topK      int
	metrics   *telemetry.Metrics
	log       zerolog.Logger
}

type ExecutorOption func(*Executor)

// WithPolicy fixes the routing policy; empty defers to the configured default.
func WithPolicy(policy string) ExecutorOption { return func(e *Executor) { e.policy = policy } }

func WithRetriever(r Retriever) ExecutorOption { return func(e *Executor) { e.retriever = r } }

func WithRetrievalTopK(k int) ExecutorOption {
	return func(e *Executor) {
		if k > 0 {
			e.topK = k
		}
	}
}

func WithGenerateOptions(o models.Options) ExecutorOption {
	return func(e *Executor) { e.genOpts = o }
}

func WithStepMetrics(m *telemetry.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

func NewExecutor(sp search.Provider, router Router, logger zerolog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		search: sp,
		router: router,
		topK:   defaultRetrieveTopK,
		log:    logger.With().Str("component", "agent").Logger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// runContext carries per-plan state. The capability is resolved at most once.
type runContext struct {
	plan     Plan
	resolved bool
	model    models.Capability
	modelErr error
}

func (rc *runContext) capability(ctx context.Context, router Router, policy string) (models.Capability, error) {
	if !rc.resolved {
		rc.resolved = true
		if router == nil {
			rc.modelErr = apperr.Config("no model router configured")
		} else {
			rc.model, rc.modelErr = router.Select(ctx, rc.plan.Meta.Session.ID, policy)
		}
	}
	return rc.model, rc.modelErr
}

// Execute returns exactly one result per step, in plan order. A failing step
// never stops the steps after it.
func (e *Executor) Execute(ctx context.Context, plan Plan) []StepResult {
	rc := &runContext{plan: plan}
	results := make([]StepResult, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		results = append(results, e.runStep(ctx, rc, i, step))
	}
	return results
}

func (e *Executor) runStep(ctx context.Context, rc *runContext, index int, step Step) StepResult {
	ctx, span := tracer.Start(ctx, "agent.step", trace.WithAttributes(
		attribute.String("step.kind", string(step.Kind)),
		attribute.Int("step.index", index),
	))
	defer span.End()

	res := e.dispatch(ctx, rc, step)

	outcome := "ok"
	if res.Error != nil {
		outcome = "error"
		span.SetStatus(codes.Error, res.Error.Message)
		span.SetAttributes(attribute.String("step.error_kind", string(res.Error.Kind)))
		e.log.Warn().
			Str("kind", string(step.Kind)).
			Int("index", index).
			Str("error_kind", string(res.Error.Kind)).
			Str("error", res.Error.Message).
			Msg("step failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	e.metrics.ObserveStep(string(step.Kind), outcome)
	return res
}

func (e *Executor) dispatch(ctx context.Context, rc *runContext, step Step) StepResult {
	input := rc.plan.input(step)
	res := StepResult{Step: step}
	switch step.Kind {
	case StepSearch:
		if e.search == nil {
			msg := "search provider not configured"
			res.Output = []search.Result{{Error: msg}}
			res.Error = &StepError{Kind: apperr.KindConfig, Message: msg}
			return res
		}
		results := e.search.Search(ctx, input)
		res.Output = results
		if msg, failed := search.Failed(results); failed {
			res.Error = &StepError{Kind: apperr.KindProvider, Message: msg}
		}
	case StepGenerate:
		model, err := rc.capability(ctx, e.router, e.policy)
		if err != nil {
			res.Error = stepError(err)
			return res
		}
		text, err := model.Generate(ctx, input, e.genOpts)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				err = &apperr.ProviderError{Provider: model.Name(), Err: err}
			}
			res.Error = stepError(err)
			return res
		}
		res.Output = text
	case StepEcho:
		res.Output = input
	case StepRetrieve:
		if e.retriever == nil {
			res.Output = []docstore.Hit{}
			return res
		}
		hits, err := e.retriever.Query(ctx, rc.plan.Meta.Session.ID, input, e.topK)
		if err != nil {
			res.Output = []docstore.Hit{}
			res.Error = stepError(err)
			return res
		}
		res.Output = hits
	default:
		res.Output = fmt.Sprintf("Executed %s", step.Kind)
		res.Error = &StepError{Kind: apperr.KindUnsupportedStep, Message: fmt.Sprintf("unsupported step kind %q", step.Kind)}
	}
	return res
}
