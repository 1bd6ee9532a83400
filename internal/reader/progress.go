package reader

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

const (
	DefaultStartColor = "#ff0000"
	DefaultEndColor   = "#00ff00"
)

// ProgressFraction is how far the container has been scrolled, in [0, 1]
func ProgressFraction(g domain.Geometry) float64 {
	denominator := g.ContainerHeight - g.ViewportHeight
	if denominator <= 0 {
		// Content fits into the viewport: read once it is entirely on screen.
		if g.ContainerTop >= 0 && g.ContainerTop+g.ContainerHeight <= g.ViewportHeight {
			return 1
		}
		return 0
	}
	return clamp(-g.ContainerTop / denominator)
}

// ProgressPercent is ProgressFraction expressed in [0, 100]
func ProgressPercent(g domain.Geometry) float64 {
	return ProgressFraction(g) * 100
}

func clamp(v float64) float64 {
	// v <= 0 also folds -0 into 0
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Gradient interpolates between two colours in HSL space
type Gradient struct {
	start, end colorful.Color
}

// NewGradient parses two hex colours
func NewGradient(start, end string) (*Gradient, error) {
	s, err := colorful.Hex(start)
	if err != nil {
		return nil, fmt.Errorf("parse start color %q: %w", start, err)
	}
	e, err := colorful.Hex(end)
	if err != nil {
		return nil, fmt.Errorf("parse end color %q: %w", end, err)
	}
	return &Gradient{start: s, end: e}, nil
}

// DefaultGradient goes from red to green
func DefaultGradient() *Gradient {
	g, _ := NewGradient(DefaultStartColor, DefaultEndColor)
	return g
}

// At returns the colour at fraction t as #rrggbb
func (g *Gradient) At(t float64) string {
	t = clamp(t)
	h1, s1, l1 := g.start.Hsl()
	h2, s2, l2 := g.end.Hsl()

	// Achromatic endpoints have no meaningful hue.
	if s1 == 0 {
		h1 = h2
	}
	if s2 == 0 {
		h2 = h1
	}

	// Shorter arc around the hue circle.
	dh := h2 - h1
	if dh > 180 {
		dh -= 360
	} else if dh < -180 {
		dh += 360
	}
	h := math.Mod(h1+t*dh+360, 360)

	c := colorful.Hsl(h, s1+t*(s2-s1), l1+t*(l2-l1)).Clamped()
	return strings.ToLower(c.Hex())
}

// VisibleBlock returns the first block that intersects the viewport on both axes
func VisibleBlock(g domain.Geometry) (int, bool) {
	for i, r := range g.Blocks {
		vertical := r.Top < g.ViewportHeight && r.Bottom > 0
		horizontal := r.Left < g.ViewportWidth && r.Right > 0
		if vertical && horizontal {
			return i, true
		}
	}
	return 0, false
}

// Position is the tracker output for one observation
type Position struct {
	Index    int     `json:"index"`
	Text     string  `json:"text"`
	Visible  bool    `json:"visible"`
	Fraction float64 `json:"fraction"`
	Percent  float64 `json:"percent"`
	Color    string  `json:"color"`
}

// Tracker recomputes the reading position on every scroll event
type Tracker struct {
	gradient *Gradient
	// MinInterval drops observations arriving sooner than this after the last one
	MinInterval time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewTracker creates a tracker using the given gradient
func NewTracker(gradient *Gradient) *Tracker {
	if gradient == nil {
		gradient = DefaultGradient()
	}
	return &Tracker{gradient: gradient, now: time.Now}
}

// Observe computes the position for the reported geometry. blocks supplies
// the text of the rendered blocks. ok is false when the event was throttled;
// the caller keeps the geometry and settles it later with Compute.
func (t *Tracker) Observe(g domain.Geometry, blocks []domain.ContentBlock) (pos Position, ok bool) {
	if t.MinInterval > 0 {
		t.mu.Lock()
		now := t.now()
		if !t.last.IsZero() && now.Sub(t.last) < t.MinInterval {
			t.mu.Unlock()
			return Position{}, false
		}
		t.last = now
		t.mu.Unlock()
	}
	return t.Compute(g, blocks), true
}

// Compute is Observe without throttling
func (t *Tracker) Compute(g domain.Geometry, blocks []domain.ContentBlock) Position {
	fraction := ProgressFraction(g)
	pos := Position{
		Fraction: fraction,
		Percent:  fraction * 100,
		Color:    t.gradient.At(fraction),
	}

	if idx, visible := VisibleBlock(g); visible {
		pos.Index = idx
		pos.Visible = true
		if idx < len(blocks) {
			pos.Text = blocks[idx].Text
		}
	}
	return pos
}

// Color returns the gradient colour for a fraction
func (t *Tracker) Color(fraction float64) string {
	return t.gradient.At(fraction)
}
