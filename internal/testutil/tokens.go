package testutil

import (
	"fmt"
	"sync"
)

// SeqTokens issues revision tokens that sort in issue order:
// "<prefix>0000000001", "<prefix>0000000002", ...
//
// Unlike ULIDs the sequence is identical on every run, so golden output and
// scenario traces stay byte-stable. Can be reset for test reuse.
type SeqTokens struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSeqTokens creates a generator. The first call to Next returns seq 1.
func NewSeqTokens(prefix string) *SeqTokens {
	return &SeqTokens{prefix: prefix}
}

// Next increments and returns the next token.
func (g *SeqTokens) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s%010d", g.prefix, g.seq)
}

// Current returns the number of tokens issued.
func (g *SeqTokens) Current() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset restarts the sequence. After Reset, Next returns seq 1.
func (g *SeqTokens) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}

// FixedIDs hands out predictable record ids: "<prefix>-0001", "<prefix>-0002", ...
type FixedIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedIDs creates an id generator. An empty prefix means "sub".
func NewFixedIDs(prefix string) *FixedIDs {
	if prefix == "" {
		prefix = "sub"
	}
	return &FixedIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *FixedIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
