package reader

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

func testRendered() *domain.RenderedDocument {
	return &domain.RenderedDocument{
		Markup: "<h1>A</h1><p>a</p><h2>A.1</h2><p>b</p><h1>B</h1>",
		Blocks: []domain.ContentBlock{
			{Index: 0, Tag: "h1", Text: "A"},
			{Index: 1, Tag: "p", Text: "a"},
			{Index: 2, Tag: "h2", Text: "A.1"},
			{Index: 3, Tag: "p", Text: "b"},
			{Index: 4, Tag: "h1", Text: "B"},
		},
		Headings: []domain.Heading{
			{Name: "A", Level: 1, Position: 0},
			{Name: "A.1", Level: 2, Position: 2},
			{Name: "B", Level: 1, Position: 4},
		},
	}
}

// geometryAt lays out five 100px blocks with block idx at the top of the viewport
func geometryAt(idx int) domain.Geometry {
	g := domain.Geometry{
		ContainerTop:    float64(-idx * 100),
		ContainerHeight: 500,
		ViewportWidth:   800,
		ViewportHeight:  150,
	}
	for i := 0; i < 5; i++ {
		top := float64((i - idx) * 100)
		g.Blocks = append(g.Blocks, domain.Rect{Top: top, Bottom: top + 100, Left: 0, Right: 800})
	}
	return g
}

func newTestSession() *Session {
	n := 0
	return NewSession(NewTracker(nil),
		WithClock(func() time.Time { return epoch }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("bm-%d", n) }),
	)
}

func TestSessionLoadAndScroll(t *testing.T) {
	s := newTestSession()
	token := s.BeginLoad()
	require.True(t, s.CompleteLoad(token, &domain.Document{ID: "doc"}, testRendered()))
	assert.True(t, s.Loaded())

	pos, changed, ok := s.Scroll(geometryAt(3))
	require.True(t, ok)
	assert.True(t, changed)
	assert.Equal(t, 3, pos.Index)
	assert.Equal(t, "b", pos.Text)

	doc := s.Document()
	require.NotNil(t, doc.CurrentElementIndex)
	assert.Equal(t, 3, *doc.CurrentElementIndex)

	_, changed, ok = s.Scroll(geometryAt(3))
	assert.True(t, ok)
	assert.False(t, changed)

	path := ActivePath(s.TOC())
	require.Len(t, path, 2)
	assert.Equal(t, "A.1", path[1].Name)
}

func TestSessionRestoresLastPosition(t *testing.T) {
	s := newTestSession()
	idx := 4
	require.True(t, s.CompleteLoad(s.BeginLoad(), &domain.Document{ID: "doc", CurrentElementIndex: &idx}, testRendered()))

	view, err := s.Snapshot(SortByLocation)
	require.NoError(t, err)
	assert.Equal(t, 4, view.Position.Index)
	assert.Equal(t, "B", view.Position.Text)
	assert.Equal(t, 5, view.Blocks)
	assert.Empty(t, view.Document.PreviewMarkup)
	assert.NotNil(t, view.Document.Bookmarks)
}

func TestSessionIgnoresStaleLoads(t *testing.T) {
	s := newTestSession()
	first := s.BeginLoad()
	second := s.BeginLoad()

	assert.False(t, s.CompleteLoad(first, &domain.Document{ID: "old"}, testRendered()))
	assert.False(t, s.Loaded())

	s.Close()
	assert.False(t, s.CompleteLoad(second, &domain.Document{ID: "new"}, testRendered()))
	assert.False(t, s.Loaded())
}

func TestSessionBookmarks(t *testing.T) {
	s := newTestSession()

	_, _, err := s.AddBookmark()
	assert.ErrorIs(t, err, ErrNotLoaded)

	require.True(t, s.CompleteLoad(s.BeginLoad(), &domain.Document{ID: "doc"}, testRendered()))
	s.Scroll(geometryAt(2))

	doc, b, err := s.AddBookmark()
	require.NoError(t, err)
	assert.Equal(t, "bm-1", b.ID)
	assert.Equal(t, 2, b.ElementIndex)
	assert.Equal(t, "A.1", b.Content)
	assert.Equal(t, epoch, b.CreatedAt)
	require.Len(t, doc.Bookmarks, 1)

	marks := s.Bookmarks(SortByLocation)
	require.Len(t, marks, 1)
	require.NotNil(t, marks[0].Block)
	assert.Equal(t, "A.1", marks[0].Block.Text)

	doc, err = s.RemoveBookmark(b.ID)
	require.NoError(t, err)
	assert.Empty(t, doc.Bookmarks)

	doc, err = s.RemoveBookmark(b.ID)
	require.NoError(t, err)
	assert.Empty(t, doc.Bookmarks)
}

func TestSessionScrollWithoutDocument(t *testing.T) {
	s := newTestSession()
	_, _, ok := s.Scroll(geometryAt(1))
	assert.False(t, ok)
	assert.Empty(t, s.TOC())
	_, err := s.Snapshot(SortByLocation)
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestSessionSettlesThrottledScroll(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.MinInterval = time.Second
	now := epoch
	tracker.now = func() time.Time { return now }

	s := NewSession(tracker)
	require.True(t, s.CompleteLoad(s.BeginLoad(), &domain.Document{ID: "doc"}, testRendered()))

	_, _, ok := s.Scroll(geometryAt(0))
	require.True(t, ok)

	// last event of the burst lands inside the throttle window, then scrolling stops
	now = now.Add(100 * time.Millisecond)
	pos, changed, ok := s.Scroll(geometryAt(4))
	assert.False(t, ok)
	assert.False(t, changed)
	assert.Equal(t, 0, pos.Index)

	view, err := s.Snapshot(SortByLocation)
	require.NoError(t, err)
	assert.Equal(t, 4, view.Position.Index)
	assert.Equal(t, "B", view.Position.Text)
	assert.Equal(t, 100.0, view.Position.Percent)

	path := ActivePath(view.TOC)
	require.Len(t, path, 1)
	assert.Equal(t, "B", path[0].Name)

	doc := s.Document()
	require.NotNil(t, doc.CurrentElementIndex)
	assert.Equal(t, 4, *doc.CurrentElementIndex)

	_, changed = s.Settle()
	assert.False(t, changed, "nothing left to settle")
}

func TestSessionSettleReportsMove(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.MinInterval = time.Second
	now := epoch
	tracker.now = func() time.Time { return now }

	s := NewSession(tracker)
	require.True(t, s.CompleteLoad(s.BeginLoad(), &domain.Document{ID: "doc"}, testRendered()))

	_, _, ok := s.Scroll(geometryAt(1))
	require.True(t, ok)
	_, _, ok = s.Scroll(geometryAt(2))
	require.False(t, ok)

	pos, changed := s.Settle()
	assert.True(t, changed)
	assert.Equal(t, 2, pos.Index)

	_, _, ok = s.Scroll(geometryAt(3))
	require.False(t, ok)
	_, b, err := s.AddBookmark()
	require.NoError(t, err)
	assert.Equal(t, 3, b.ElementIndex, "bookmarks land on the settled block")
}
