// Package docstore keeps uploaded document text searchable per session.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/search/query"
	"github.com/google/uuid"
)

const previewLen = 50

// ErrNoSession is returned by Add when no session id is given. Documents are
// only ever visible inside the session that uploaded them.
var ErrNoSession = errors.New("docstore: session id required")

// Hit is one matching document.
type Hit struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Preview  string            `json:"preview"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type document struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

type entry struct {
	session  string
	content  string
	metadata map[string]string
	added    time.Time
}

// Index is an in-memory bleve index shared by all sessions. Queries are
// filtered to a single session.
type Index struct {
	bleve   bleve.Index
	docs    map[string]entry
	order   []string // ids, oldest first
	ttl     time.Duration
	maxDocs int
	now     func() time.Time
	mu      sync.RWMutex
}

type Option func(*Index)

// WithTTL drops documents older than d. Zero keeps them until deleted.
func WithTTL(d time.Duration) Option { return func(x *Index) { x.ttl = d } }

// WithMaxDocuments caps the index size; the oldest documents are evicted first.
func WithMaxDocuments(n int) Option { return func(x *Index) { x.maxDocs = n } }

func WithClock(now func() time.Time) Option { return func(x *Index) { x.now = now } }

func New(opts ...Option) (*Index, error) {
	m := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	sessionField := bleve.NewTextFieldMapping()
	sessionField.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("session_id", sessionField)
	m.DefaultMapping = docMapping

	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("docstore: new index: %w", err)
	}
	x := &Index{bleve: idx, docs: make(map[string]entry), now: time.Now}
	for _, o := range opts {
		o(x)
	}
	return x, nil
}

// Add indexes doc for sessionID and returns its generated id.
func (x *Index) Add(ctx context.Context, sessionID, doc string, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if sessionID == "" {
		return "", ErrNoSession
	}
	id := uuid.NewString()
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.bleve.Index(id, document{SessionID: sessionID, Content: doc}); err != nil {
		return "", fmt.Errorf("docstore: index %s: %w", id, err)
	}
	x.docs[id] = entry{session: sessionID, content: doc, metadata: metadata, added: x.now()}
	x.order = append(x.order, id)
	if err := x.evictLocked(); err != nil {
		return id, err
	}
	return id, nil
}

// Query returns up to topK hits for text within sessionID, best first.
func (x *Index) Query(ctx context.Context, sessionID, text string, topK int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return []Hit{}, nil
	}
	if topK <= 0 {
		topK = 5
	}
	match := bleve.NewMatchQuery(text)
	match.SetField("content")
	session := bleve.NewTermQuery(sessionID)
	session.SetField("session_id")
	q := bleve.NewConjunctionQuery([]query.Query{match, session}...)

	x.mu.RLock()
	defer x.mu.RUnlock()
	size := topK
	if x.ttl > 0 {
		// expired documents are only swept on Add; over-fetch so they can be skipped
		size += len(x.order)
	}
	res, err := x.bleve.Search(bleve.NewSearchRequestOptions(q, size, 0, false))
	if err != nil {
		return nil, fmt.Errorf("docstore: search: %w", err)
	}
	out := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		e, ok := x.docs[h.ID]
		if !ok || x.expired(e) {
			continue
		}
		out = append(out, Hit{ID: h.ID, Score: h.Score, Preview: preview(e.content), Metadata: e.metadata})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// DeleteSession removes every document uploaded in sessionID.
func (x *Index) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	var ids []string
	for id, e := range x.docs {
		if e.session == sessionID {
			ids = append(ids, id)
		}
	}
	return x.removeLocked(ids)
}

// Len reports the number of stored documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Close releases the underlying index.
func (x *Index) Close() error { return x.bleve.Close() }

func (x *Index) expired(e entry) bool {
	return x.ttl > 0 && x.now().Sub(e.added) > x.ttl
}

// evictLocked drops expired documents and then the oldest ones over the cap.
func (x *Index) evictLocked() error {
	var ids []string
	n := 0
	for _, id := range x.order {
		if x.expired(x.docs[id]) {
			ids = append(ids, id)
			n++
			continue
		}
		break
	}
	if x.maxDocs > 0 {
		for over := len(x.order) - n - x.maxDocs; over > 0; over-- {
			ids = append(ids, x.order[n])
			n++
		}
	}
	return x.removeLocked(ids)
}

func (x *Index) removeLocked(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	b := x.bleve.NewBatch()
	gone := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		b.Delete(id)
		gone[id] = struct{}{}
		delete(x.docs, id)
	}
	kept := x.order[:0]
	for _, id := range x.order {
		if _, ok := gone[id]; !ok {
			kept = append(kept, id)
		}
	}
	x.order = kept
	if err := x.bleve.Batch(b); err != nil {
		return fmt.Errorf("docstore: delete: %w", err)
	}
	return nil
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > previewLen {
		r = r[:previewLen]
	}
	return string(r) + "..."
}
