package reader

import (
	"errors"
	"sync"
	"time"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

// ErrNotLoaded is returned by session updates that need a loaded document
var ErrNotLoaded = errors.New("no document loaded")

// Session is the view-model of one open document. Every event has its own
// update function; all of them are safe for concurrent use.
type Session struct {
	mu       sync.RWMutex
	tracker  *Tracker
	now      func() time.Time
	newID    func() string
	token    uint64
	closed   bool
	doc      *domain.Document
	rendered *domain.RenderedDocument
	position Position
	// pending is the latest geometry dropped by the throttle
	pending *domain.Geometry
}

// SessionOption customizes a session
type SessionOption func(*Session)

// WithClock overrides the bookmark timestamp source
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithIDGenerator overrides the bookmark id source
func WithIDGenerator(newID func() string) SessionOption {
	return func(s *Session) { s.newID = newID }
}

// NewSession creates an empty session
func NewSession(tracker *Tracker, opts ...SessionOption) *Session {
	if tracker == nil {
		tracker = NewTracker(nil)
	}
	s := &Session{tracker: tracker, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginLoad starts a new load and invalidates any load still in flight
func (s *Session) BeginLoad() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token++
	return s.token
}

// CompleteLoad installs a loaded document. It returns false and changes
// nothing when the token is stale or the session was closed meanwhile.
func (s *Session) CompleteLoad(token uint64, doc *domain.Document, rendered *domain.RenderedDocument) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || token != s.token {
		return false
	}
	if rendered == nil {
		rendered = &domain.RenderedDocument{}
	}

	s.doc = doc.Clone()
	s.doc.Normalize()
	s.rendered = rendered
	s.pending = nil

	index := 0
	if doc.CurrentElementIndex != nil && *doc.CurrentElementIndex >= 0 && *doc.CurrentElementIndex < len(rendered.Blocks) {
		index = *doc.CurrentElementIndex
	}
	s.position = Position{Index: index, Color: s.tracker.Color(0)}
	if index < len(rendered.Blocks) {
		s.position.Text = rendered.Blocks[index].Text
		s.position.Visible = true
	}
	return true
}

// Loaded reports whether a document is installed
func (s *Session) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc != nil && !s.closed
}

// Scroll handles a scroll or resize event. changed reports whether the current
// block moved; ok is false when the event was throttled or nothing is loaded.
// A throttled geometry is kept and applied by Settle or the next read.
func (s *Session) Scroll(g domain.Geometry) (pos Position, changed, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil || s.closed {
		return Position{}, false, false
	}

	next, ok := s.tracker.Observe(g, s.rendered.Blocks)
	if !ok {
		s.pending = &g
		return s.position, false, false
	}
	s.pending = nil
	changed = s.apply(next)
	return s.position, changed, true
}

// Settle applies the last throttled geometry. changed reports whether the
// current block moved.
func (s *Session) Settle() (pos Position, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = s.settle()
	return s.position, changed
}

func (s *Session) settle() bool {
	if s.pending == nil || s.doc == nil || s.closed {
		return false
	}
	g := *s.pending
	s.pending = nil
	return s.apply(s.tracker.Compute(g, s.rendered.Blocks))
}

func (s *Session) apply(next Position) bool {
	if !next.Visible {
		// Keep the last known block when nothing is on screen.
		next.Index = s.position.Index
		next.Text = s.position.Text
	}
	changed := next.Visible && next.Index != s.position.Index
	s.position = next
	if changed {
		idx := next.Index
		s.doc.CurrentElementIndex = &idx
	}
	return changed
}

// AddBookmark bookmarks the current block and returns the updated document
func (s *Session) AddBookmark() (*domain.Document, domain.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil || s.closed {
		return nil, domain.Bookmark{}, ErrNotLoaded
	}
	s.settle()

	b := NewBookmark(s.position.Index, s.position.Text, s.now())
	if s.newID != nil {
		b.ID = s.newID()
	}
	s.doc.Bookmarks = AddBookmark(s.doc.Bookmarks, b)
	return s.doc.Clone(), b, nil
}

// RemoveBookmark drops a bookmark and returns the updated document
func (s *Session) RemoveBookmark(id string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil || s.closed {
		return nil, ErrNotLoaded
	}
	s.doc.Bookmarks = RemoveBookmark(s.doc.Bookmarks, id)
	return s.doc.Clone(), nil
}

// TOC builds the table of contents for the current position
func (s *Session) TOC() []*domain.TocNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	return s.toc()
}

func (s *Session) toc() []*domain.TocNode {
	if s.rendered == nil {
		return []*domain.TocNode{}
	}
	return BuildTOC(s.rendered.Headings, s.position.Index)
}

// Bookmarks returns the bookmarks resolved against the rendered blocks
func (s *Session) Bookmarks(order SortOrder) []ResolvedBookmark {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bookmarks(order)
}

func (s *Session) bookmarks(order SortOrder) []ResolvedBookmark {
	if s.doc == nil {
		return []ResolvedBookmark{}
	}
	return ResolveBookmarks(SortBookmarks(s.doc.Bookmarks, order), s.rendered.Blocks)
}

// View is a read-only snapshot of the session
type View struct {
	Document *domain.Document   `json:"document"`
	Markup   string             `json:"markup"`
	Blocks   int                `json:"blocks"`
	Position Position           `json:"position"`
	TOC      []*domain.TocNode  `json:"toc"`
	Marks    []ResolvedBookmark `json:"bookmarks"`
}

// Snapshot returns the current view
func (s *Session) Snapshot(order SortOrder) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil || s.closed {
		return nil, ErrNotLoaded
	}
	s.settle()

	doc := s.doc.Clone()
	doc.PreviewMarkup = ""
	return &View{
		Document: doc,
		Markup:   s.rendered.Markup,
		Blocks:   len(s.rendered.Blocks),
		Position: s.position,
		TOC:      s.toc(),
		Marks:    s.bookmarks(order),
	}, nil
}

// Document returns a copy of the loaded document
func (s *Session) Document() *domain.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

// Close ends the session; later loads and updates are ignored
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
