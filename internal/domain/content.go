package domain

// ContentBlock is a rendered top-level child of the document body
type ContentBlock struct {
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	Text  string `json:"text"`
}

// Heading is a flat table-of-contents entry
type Heading struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
	// Position is the index of the top-level block containing the heading
	Position int  `json:"position"`
	Active   bool `json:"active"`
}

// TocNode is a heading with its nested sub-headings
type TocNode struct {
	Heading
	Children []*TocNode `json:"children"`
}

// RenderedDocument is sanitized preview markup split into blocks
type RenderedDocument struct {
	Markup   string         `json:"markup"`
	Blocks   []ContentBlock `json:"blocks"`
	Headings []Heading      `json:"headings"`
}

// Rect is a bounding box in viewport coordinates
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
}

// Geometry is the layout a client reports on scroll or resize
type Geometry struct {
	ContainerTop    float64 `json:"containerTop"`
	ContainerHeight float64 `json:"containerHeight"`
	ViewportWidth   float64 `json:"viewportWidth"`
	ViewportHeight  float64 `json:"viewportHeight"`
	Blocks          []Rect  `json:"blocks"`
}
