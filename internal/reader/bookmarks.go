package reader

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

// SortOrder is a presentation order for bookmarks
type SortOrder string

const (
	SortByLocation SortOrder = "location"
	SortNewest     SortOrder = "newest"
	SortOldest     SortOrder = "oldest"
)

// ParseSortOrder maps a query value to a sort order, defaulting to location
func ParseSortOrder(s string) SortOrder {
	switch SortOrder(strings.ToLower(strings.TrimSpace(s))) {
	case SortNewest:
		return SortNewest
	case SortOldest:
		return SortOldest
	default:
		return SortByLocation
	}
}

// NewBookmark creates a bookmark for the given block
func NewBookmark(elementIndex int, content string, createdAt time.Time) domain.Bookmark {
	return domain.Bookmark{
		ID:           uuid.NewString(),
		ElementIndex: elementIndex,
		Content:      content,
		CreatedAt:    createdAt,
	}
}

// AddBookmark returns a new list with b appended. The input is not modified.
func AddBookmark(list []domain.Bookmark, b domain.Bookmark) []domain.Bookmark {
	out := make([]domain.Bookmark, 0, len(list)+1)
	out = append(out, list...)
	return append(out, b)
}

// RemoveBookmark returns a new list without the bookmark with the given id
func RemoveBookmark(list []domain.Bookmark, id string) []domain.Bookmark {
	out := make([]domain.Bookmark, 0, len(list))
	for _, b := range list {
		if b.ID != id {
			out = append(out, b)
		}
	}
	return out
}

// SortBookmarks returns a sorted copy. Equal keys keep their original order.
func SortBookmarks(list []domain.Bookmark, order SortOrder) []domain.Bookmark {
	out := append([]domain.Bookmark(nil), list...)
	var less func(a, b domain.Bookmark) bool
	switch order {
	case SortNewest:
		less = func(a, b domain.Bookmark) bool { return a.CreatedAt.After(b.CreatedAt) }
	case SortOldest:
		less = func(a, b domain.Bookmark) bool { return a.CreatedAt.Before(b.CreatedAt) }
	default:
		less = func(a, b domain.Bookmark) bool { return a.ElementIndex < b.ElementIndex }
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// ResolvedBookmark pairs a bookmark with the live block it points at.
// Block is nil when the document has fewer blocks than the recorded index.
type ResolvedBookmark struct {
	domain.Bookmark
	Block *domain.ContentBlock `json:"block"`
}

// ResolveBookmarks maps every bookmark to its block by position
func ResolveBookmarks(list []domain.Bookmark, blocks []domain.ContentBlock) []ResolvedBookmark {
	out := make([]ResolvedBookmark, len(list))
	for i, b := range list {
		out[i] = ResolvedBookmark{Bookmark: b}
		if b.ElementIndex >= 0 && b.ElementIndex < len(blocks) {
			block := blocks[b.ElementIndex]
			out[i].Block = &block
		}
	}
	return out
}
