package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/counsel/internal/apperr"
	"github.com/mohammad-safakhou/counsel/internal/docstore"
	"github.com/mohammad-safakhou/counsel/internal/models"
	"github.com/mohammad-safakhou/counsel/internal/preprocess"
	"github.com/mohammad-safakhou/counsel/internal/search"
	"github.com/mohammad-safakhou/counsel/internal/session"
	"github.com/rs/zerolog"
)

type memStore struct {
	history   map[string][]session.Message
	appendErr error
	gets      []string
	appends   int
	deleted   []string
}

func newMemStore() *memStore { return &memStore{history: map[string][]session.Message{}} }

func (m *memStore) Get(_ context.Context, id string) session.Record {
	m.gets = append(m.gets, id)
	rec := session.Empty(id)
	rec.Messages = append(rec.Messages, m.history[id]...)
	return rec
}

func (m *memStore) AppendMessages(_ context.Context, id string, msgs ...session.Message) error {
	m.appends++
	if m.appendErr != nil {
		return m.appendErr
	}
	m.history[id] = append(m.history[id], msgs...)
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	delete(m.history, id)
	return nil
}

var fixedNow = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)) }

func franceModel() models.Capability {
	return models.Func{ID: "stub", Fn: func(_ context.Context, prompt string, _ models.Options) (string, error) {
		if strings.Contains(prompt, "capital of France") {
			return "The capital of France is Paris.", nil
		}
		return "I don't know.", nil
	}}
}

func TestRunAgentFranceScenario(t *testing.T) {
	store := newMemStore()
	sp := &stubSearch{results: []search.Result{{Title: "Paris", URL: "https://example.com", Snippet: "Paris is the capital."}}}
	ex := NewExecutor(sp, &stubRouter{model: franceModel()}, zerolog.Nop())
	o := NewOrchestrator(ex, zerolog.Nop(), WithStore(store), WithClock(fixedNow))

	resp, err := o.RunAgent(context.Background(), "What is the capital of France?", "s1", nil)
	if err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	text, ok := resp.Response.(string)
	if !ok || !strings.Contains(text, "Paris") {
		t.Fatalf("expected Paris in response, got %#v", resp.Response)
	}
	if len(resp.AllResults) != 2 || resp.AllResults[0].Step.Kind != StepSearch || resp.AllResults[1].Step.Kind != StepGenerate {
		t.Fatalf("unexpected results %+v", resp.AllResults)
	}

	hist := store.history["s1"]
	if len(hist) != 2 {
		t.Fatalf("expected 2 appended messages, got %d", len(hist))
	}
	if hist[0].Role != session.RoleUser || hist[0].Text != "What is the capital of France?" {
		t.Fatalf("unexpected user message %+v", hist[0])
	}
	if hist[1].Role != session.RoleAgent || hist[1].Text != "The capital of France is Paris." {
		t.Fatalf("unexpected agent message %+v", hist[1])
	}
	if hist[0].Timestamp != "2024-05-01T11:00:00Z" {
		t.Fatalf("timestamp should be RFC3339 UTC, got %q", hist[0].Timestamp)
	}
	if store.appends != 1 {
		t.Fatalf("both turns should be stored in one call, got %d calls", store.appends)
	}
}

type scriptedPlanner struct{ steps []Step }

func (p scriptedPlanner) Plan(_ context.Context, q string, s SessionRef, _ []preprocess.ProcessedFile) (Plan, error) {
	return Plan{Steps: p.steps, Meta: PlanMeta{Query: q, Session: s}}, nil
}

func TestRunAgentUnsupportedStepDoesNotPanic(t *testing.T) {
	ex := NewExecutor(nil, nil, zerolog.Nop())
	o := NewOrchestrator(ex, zerolog.Nop(), WithPlanner(scriptedPlanner{steps: []Step{{Kind: "summarize"}}}))

	resp, err := o.RunAgent(context.Background(), "summarize my lease", "", nil)
	if err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	if resp.Response != "Executed summarize" {
		t.Fatalf("unexpected response %#v", resp.Response)
	}
	if resp.AllResults[0].Error == nil || resp.AllResults[0].Error.Kind != apperr.KindUnsupportedStep {
		t.Fatalf("expected unsupported_step error, got %+v", resp.AllResults[0])
	}
}

func TestRunAgentEmptyPlan(t *testing.T) {
	store := newMemStore()
	o := NewOrchestrator(NewExecutor(nil, nil, zerolog.Nop()), zerolog.Nop(), WithPlanner(scriptedPlanner{}), WithStore(store))
	resp, err := o.RunAgent(context.Background(), "hello", "s2", nil)
	if err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	if resp.Response != nil || len(resp.AllResults) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got := store.history["s2"]; len(got) != 2 || got[1].Text != "(no response)" {
		t.Fatalf("unexpected history %+v", got)
	}
}

func TestRunAgentPassesHistoryToPlanner(t *testing.T) {
	store := newMemStore()
	store.history["s3"] = []session.Message{{Role: session.RoleUser, Text: "earlier", Timestamp: "2024-01-01T00:00:00Z"}}
	var seen SessionRef
	planner := plannerFunc(func(_ context.Context, q string, s SessionRef, _ []preprocess.ProcessedFile) (Plan, error) {
		seen = s
		return Plan{Meta: PlanMeta{Query: q, Session: s}}, nil
	})
	o := NewOrchestrator(NewExecutor(nil, nil, zerolog.Nop()), zerolog.Nop(), WithPlanner(planner), WithStore(store))
	if _, err := o.RunAgent(context.Background(), "follow up", "s3", nil); err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	if seen.ID != "s3" || len(seen.History) != 1 || seen.History[0].Text != "earlier" {
		t.Fatalf("planner did not receive history: %+v", seen)
	}
}

type plannerFunc func(context.Context, string, SessionRef, []preprocess.ProcessedFile) (Plan, error)

func (f plannerFunc) Plan(ctx context.Context, q string, s SessionRef, files []preprocess.ProcessedFile) (Plan, error) {
	return f(ctx, q, s, files)
}

func TestRunAgentAppendFailureIsReturned(t *testing.T) {
	store := newMemStore()
	store.appendErr = &apperr.StorageError{Op: "append", Err: errors.New("disk full")}
	o := NewOrchestrator(NewExecutor(nil, nil, zerolog.Nop()), zerolog.Nop(), WithPlanner(scriptedPlanner{steps: []Step{{Kind: StepEcho}}}), WithStore(store))
	_, err := o.RunAgent(context.Background(), "q", "s4", nil)
	if apperr.KindOf(err) != apperr.KindStorage {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(store.history["s4"]) != 0 {
		t.Fatalf("no turn should be stored after a failed append: %+v", store.history["s4"])
	}
}

func TestRunAgentSkipsHooksWithoutSession(t *testing.T) {
	store := newMemStore()
	o := NewOrchestrator(NewExecutor(nil, nil, zerolog.Nop()), zerolog.Nop(), WithPlanner(scriptedPlanner{steps: []Step{{Kind: StepEcho}}}), WithStore(store))
	if _, err := o.RunAgent(context.Background(), "q", "", nil); err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	if len(store.gets) != 0 || len(store.history) != 0 {
		t.Fatalf("store should be untouched without a session id: gets=%v history=%v", store.gets, store.history)
	}
}

func TestRunAgentRejectsEmptyQuery(t *testing.T) {
	o := NewOrchestrator(NewExecutor(nil, nil, zerolog.Nop()), zerolog.Nop())
	if _, err := o.RunAgent(context.Background(), "   ", "s", nil); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunAgentIndexesUploadsForRetrieval(t *testing.T) {
	idx, err := docstore.New()
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}
	defer idx.Close()

	ex := NewExecutor(nil, nil, zerolog.Nop(), WithRetriever(idx))
	o := NewOrchestrator(ex, zerolog.Nop(),
		WithDocIndex(idx),
		WithPlanner(scriptedPlanner{steps: []Step{{Kind: StepRetrieve}}}),
	)
	files := []preprocess.Upload{
		{Filename: "notes.txt", Data: []byte("The arbitration clause requires disputes to be settled in Delaware.")},
	}
	resp, err := o.RunAgent(context.Background(), "arbitration clause", "s5", files)
	if err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	hits, ok := resp.Response.([]docstore.Hit)
	if !ok || len(hits) != 1 || hits[0].Metadata["filename"] != "notes.txt" {
		t.Fatalf("expected the uploaded file to be retrievable, got %#v", resp.Response)
	}
}

func TestRenderResponse(t *testing.T) {
	if got := renderResponse(nil); got != "(no response)" {
		t.Fatalf("nil: %q", got)
	}
	if got := renderResponse([]search.Result{{Info: "No results found."}}); got != `[{"info":"No results found."}]` {
		t.Fatalf("slice: %q", got)
	}
}

func TestRunAgentDoesNotIndexUploadsWithoutSession(t *testing.T) {
	idx, err := docstore.New()
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}
	defer idx.Close()

	ex := NewExecutor(nil, nil, zerolog.Nop(), WithRetriever(idx))
	o := NewOrchestrator(ex, zerolog.Nop(),
		WithDocIndex(idx),
		WithPlanner(scriptedPlanner{steps: []Step{{Kind: StepRetrieve}}}),
	)
	alice := []preprocess.Upload{{Filename: "lease.txt", Data: []byte("Alice lease agreement with rent of 2000 euros")}}
	if _, err := o.RunAgent(context.Background(), "lease rent", "", alice); err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	if idx.Len() != 0 {
		t.Fatalf("anonymous upload was indexed")
	}

	resp, err := o.RunAgent(context.Background(), "lease rent", "", nil)
	if err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	if hits, ok := resp.Response.([]docstore.Hit); !ok || len(hits) != 0 {
		t.Fatalf("another anonymous caller saw documents: %#v", resp.Response)
	}
}

func TestDeleteSessionForgetsHistoryAndDocuments(t *testing.T) {
	idx, err := docstore.New()
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}
	defer idx.Close()
	store := newMemStore()
	o := NewOrchestrator(NewExecutor(nil, nil, zerolog.Nop()), zerolog.Nop(),
		WithPlanner(scriptedPlanner{steps: []Step{{Kind: StepEcho}}}),
		WithStore(store),
		WithDocIndex(idx),
	)
	files := []preprocess.Upload{{Filename: "will.txt", Data: []byte("Last will and testament of the client.")}}
	if _, err := o.RunAgent(context.Background(), "read my will", "s6", files); err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	if idx.Len() != 1 || len(store.history["s6"]) != 2 {
		t.Fatalf("setup: docs=%d history=%d", idx.Len(), len(store.history["s6"]))
	}

	if err := o.DeleteSession(context.Background(), "s6"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if idx.Len() != 0 || len(store.history["s6"]) != 0 || len(store.deleted) != 1 {
		t.Fatalf("session not forgotten: docs=%d history=%v deleted=%v", idx.Len(), store.history["s6"], store.deleted)
	}
	if err := o.DeleteSession(context.Background(), ""); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for empty id, got %v", err)
	}
}
