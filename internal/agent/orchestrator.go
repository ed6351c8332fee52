package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mohammad-safakhou/counsel/internal/apperr"
	"github.com/mohammad-safakhou/counsel/internal/preprocess"
	"github.com/mohammad-safakhou/counsel/internal/session"
	"github.com/mohammad-safakhou/counsel/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SessionStore is the slice of session.Store the pipeline needs.
type SessionStore interface {
	Get(ctx context.Context, id string) session.Record
	AppendMessages(ctx context.Context, id string, msgs ...session.Message) error
	DeleteSession(ctx context.Context, id string) error
}

// DocIndex receives extracted upload text for later retrieval.
type DocIndex interface {
	Add(ctx context.Context, sessionID, doc string, metadata map[string]string) (string, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Orchestrator drives a request through preprocessing, the pipeline stages
// and the session history hooks.
type Orchestrator struct {
	planner    Planner
	executor   *Executor
	evaluator  Evaluator
	store      SessionStore
	docs       DocIndex
	preprocess func(context.Context, []preprocess.Upload) []preprocess.ProcessedFile
	metrics    *telemetry.Metrics
	now        func() time.Time
	log        zerolog.Logger
}

type Option func(*Orchestrator)

func WithPlanner(p Planner) Option { return func(o *Orchestrator) { o.planner = p } }

func WithEvaluator(ev Evaluator) Option { return func(o *Orchestrator) { o.evaluator = ev } }

func WithStore(s SessionStore) Option { return func(o *Orchestrator) { o.store = s } }

func WithDocIndex(d DocIndex) Option { return func(o *Orchestrator) { o.docs = d } }

func WithMetrics(m *telemetry.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func NewOrchestrator(exec *Executor, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:    FixedPlanner{},
		executor:   exec,
		evaluator:  LastOutputEvaluator{},
		preprocess: preprocess.Files,
		now:        time.Now,
		log:        logger.With().Str("component", "agent").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunAgent answers query within sessionID. Both turns are appended to the
// session history afterwards; a failed append fails the request.
func (o *Orchestrator) RunAgent(ctx context.Context, query, sessionID string, files []preprocess.Upload) (resp FinalResponse, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("files", len(files)),
	))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.metrics.ObserveRequest(outcome, time.Since(start))
	}()

	if strings.TrimSpace(query) == "" {
		return FinalResponse{}, apperr.Validation("query", "must not be empty")
	}
	log := o.log.With().Str("session_id", sessionID).Logger()
	log.Info().Int("query_len", len(query)).Int("files", len(files)).Msg("request received")

	processed := o.preprocess(ctx, files)
	o.indexFiles(ctx, sessionID, processed)

	ref := SessionRef{ID: sessionID, History: []session.Message{}}
	if o.store != nil && sessionID != "" {
		ref.History = o.store.Get(ctx, sessionID).Messages
	}

	planCtx, planSpan := tracer.Start(ctx, "agent.plan")
	plan, err := o.planner.Plan(planCtx, query, ref, processed)
	if err != nil {
		planSpan.RecordError(err)
		planSpan.SetStatus(codes.Error, err.Error())
		planSpan.End()
		return FinalResponse{}, fmt.Errorf("plan: %w", err)
	}
	planSpan.End()
	log.Debug().Int("steps", len(plan.Steps)).Msg("plan ready")

	execCtx, execSpan := tracer.Start(ctx, "agent.execute")
	results := o.executor.Execute(execCtx, plan)
	execSpan.End()
	log.Debug().Int("results", len(results)).Msg("plan executed")

	_, evalSpan := tracer.Start(ctx, "agent.evaluate")
	resp = o.evaluator.Evaluate(results)
	evalSpan.End()
	log.Debug().Msg("results evaluated")

	if o.store != nil && sessionID != "" {
		ts := o.now().UTC().Format(time.RFC3339)
		err := o.store.AppendMessages(ctx, sessionID,
			session.Message{Role: session.RoleUser, Text: query, Timestamp: ts},
			session.Message{Role: session.RoleAgent, Text: renderResponse(resp.Response), Timestamp: ts},
		)
		if err != nil {
			return FinalResponse{}, fmt.Errorf("append messages: %w", err)
		}
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("request completed")
	return resp, nil
}

// DeleteSession forgets a session: its history and every document uploaded
// in it. Deleting an unknown session is not an error.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return apperr.Validation("session_id", "required")
	}
	var errs []error
	if o.store != nil {
		if err := o.store.DeleteSession(ctx, sessionID); err != nil {
			errs = append(errs, fmt.Errorf("delete history: %w", err))
		}
	}
	if o.docs != nil {
		if err := o.docs.DeleteSession(ctx, sessionID); err != nil {
			errs = append(errs, fmt.Errorf("delete documents: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	o.log.Info().Str("session_id", sessionID).Msg("session deleted")
	return nil
}

// indexFiles is a no-op without a session id; documents are only ever
// retrievable from the session that uploaded them.
func (o *Orchestrator) indexFiles(ctx context.Context, sessionID string, files []preprocess.ProcessedFile) {
	if o.docs == nil || sessionID == "" {
		return
	}
	for _, f := range files {
		if !f.HasText() {
			continue
		}
		meta := map[string]string{"filename": f.Filename, "mime_type": f.MimeType}
		if _, err := o.docs.Add(ctx, sessionID, f.Content, meta); err != nil {
			o.log.Warn().Err(err).Str("filename", f.Filename).Msg("index upload failed")
		}
	}
}

// renderResponse is the text stored as the agent turn.
func renderResponse(v any) string {
	switch r := v.(type) {
	case nil:
		return "(no response)"
	case string:
		return r
	case fmt.Stringer:
		return r.String()
	}
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
