// Package remote implements the cross-device document store that devices
// sync through.
//
// The store keeps one document per record id. Every write stamps the document
// with a new revision token (a ULID), so tokens order all writes and a cursor
// is simply the last token a device has seen. The store never merges: it
// accepts a document only when the writer has seen the current revision, and
// leaves conflict resolution to the devices.
package remote

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/roach88/subtrackr/internal/record"
)

// DefaultPageSize is used when Pull is called with limit < 1.
const DefaultPageSize = 100

// ErrUnavailable is returned when the remote cannot be reached or fails to
// answer. Nothing was changed on either side.
var ErrUnavailable = errors.New("remote unavailable")

// ErrBadRequest is returned for requests the remote refuses to process.
var ErrBadRequest = errors.New("bad request")

// Document is one stored envelope with its revision.
type Document struct {
	Envelope record.Envelope `json:"envelope"`
	Revision string          `json:"revision"`
}

// Page is one chunk of a Pull.
type Page struct {
	Documents []Document `json:"documents"`
	// Cursor is the revision of the last document in the page, or the
	// requested cursor when the page is empty.
	Cursor string `json:"cursor"`
	// More is set when documents past Cursor remain.
	More bool `json:"more"`
}

// PushRequest carries local envelopes plus the cursor they were merged against.
type PushRequest struct {
	Device    string            `json:"device"`
	Since     string            `json:"since"`
	Envelopes []record.Envelope `json:"envelopes"`
}

// PushResult reports which envelopes were stored.
type PushResult struct {
	Accepted []string `json:"accepted"`
	// Rejected ids were written by someone else after Since.
	Rejected []string `json:"rejected"`
	// Head is the newest revision after the push.
	Head string `json:"head"`
	// FastForward is set when nothing was written after Since by anyone
	// else, so Head may become the pusher's cursor.
	FastForward bool `json:"fast_forward"`
}

// Tokens issues strictly increasing revision tokens.
type Tokens interface {
	Next() string
}

// ULIDTokens issues monotonic ULIDs.
type ULIDTokens struct {
	mu      sync.Mutex
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
	last    ulid.ULID
}

// NewULIDTokens returns a generator reading time from now (time.Now if nil).
func NewULIDTokens(now func() time.Time) *ULIDTokens {
	if now == nil {
		now = time.Now
	}
	return &ULIDTokens{now: now, entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Next returns a token greater than every token returned before, even if the
// clock steps backwards.
func (g *ULIDTokens) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := ulid.Timestamp(g.now())
	if ms < g.last.Time() {
		ms = g.last.Time()
	}
	id, err := ulid.New(ms, g.entropy)
	if err != nil || id.Compare(g.last) <= 0 {
		// Entropy exhausted within one millisecond, or a seeded token shares
		// the millisecond; move to the next one.
		id = ulid.MustNew(ms+1, g.entropy)
	}
	g.last = id
	return id.String()
}

// Seed makes every later token sort after rev. Revisions that are not ULIDs
// are ignored.
func (g *ULIDTokens) Seed(rev string) {
	id, err := ulid.ParseStrict(rev)
	if err != nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if id.Compare(g.last) > 0 {
		g.last = id
	}
}

// seeder is implemented by generators that can resume after a stored head.
type seeder interface {
	Seed(rev string)
}

// after reports whether revision a is newer than cursor b. The empty cursor
// precedes everything.
func after(a, b string) bool {
	return strings.Compare(a, b) > 0
}
