package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/subtrackr/internal/record"
)

type logEntry struct {
	revision string
	id       string
}

// Memory is an in-process document store. It backs tests and the HTTP server.
type Memory struct {
	mu      sync.Mutex
	docs    map[string]Document
	log     []logEntry // append order == revision order
	head    string
	tokens  Tokens
	offline bool
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithTokens replaces the ULID revision generator.
func WithTokens(t Tokens) MemoryOption {
	return func(m *Memory) { m.tokens = t }
}

// NewMemory returns an empty store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{docs: make(map[string]Document)}
	for _, opt := range opts {
		opt(m)
	}
	if m.tokens == nil {
		m.tokens = NewULIDTokens(nil)
	}
	return m
}

// SetOffline makes every call fail with ErrUnavailable until cleared.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Pull returns up to limit documents written after cursor, oldest first.
func (m *Memory) Pull(ctx context.Context, cursor string, limit int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if limit < 1 {
		limit = DefaultPageSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return Page{}, fmt.Errorf("pull: %w", ErrUnavailable)
	}

	start := sort.Search(len(m.log), func(i int) bool { return after(m.log[i].revision, cursor) })
	page := Page{Cursor: cursor}
	for i := start; i < len(m.log); i++ {
		e := m.log[i]
		doc := m.docs[e.id]
		if doc.Revision != e.revision {
			continue // superseded by a later write
		}
		if len(page.Documents) == limit {
			page.More = true
			break
		}
		page.Documents = append(page.Documents, doc)
		page.Cursor = e.revision
	}
	return page, nil
}

// Push stores every envelope whose document has not been rewritten after
// req.Since. Envelopes identical to the stored document are accepted without
// a new revision.
func (m *Memory) Push(ctx context.Context, req PushRequest) (PushResult, error) {
	if err := ctx.Err(); err != nil {
		return PushResult{}, err
	}
	for _, env := range req.Envelopes {
		if env.ID() == "" {
			return PushResult{}, fmt.Errorf("push: %w: envelope without id", ErrBadRequest)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return PushResult{}, fmt.Errorf("push: %w", ErrUnavailable)
	}

	res := PushResult{FastForward: !after(m.head, req.Since)}
	for _, env := range req.Envelopes {
		id := env.ID()
		cur, ok := m.docs[id]
		switch {
		case ok && after(cur.Revision, req.Since):
			res.Rejected = append(res.Rejected, id)
			continue
		case ok && record.Same(cur.Envelope, env):
		default:
			rev := m.tokens.Next()
			m.docs[id] = Document{Envelope: env, Revision: rev}
			m.log = append(m.log, logEntry{revision: rev, id: id})
			m.head = rev
		}
		res.Accepted = append(res.Accepted, id)
	}
	res.Head = m.head
	return res, nil
}

// Head returns the newest revision, or "" for an empty store.
func (m *Memory) Head() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head
}

// Documents returns every stored document ordered by id.
func (m *Memory) Documents() []Document {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Envelope.ID() < out[j].Envelope.ID() })
	return out
}

// Get returns the document for id.
func (m *Memory) Get(id string) (Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	return d, ok
}
