package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

// ClassPrefix is prepended to every class of the uploaded markup so document
// classes cannot collide with the reader's own styles.
const ClassPrefix = "book--"

// classToTag promotes semantic classes produced by the converter to real tags
var classToTag = map[string]string{
	"book--title":     "h1",
	"book--title1":    "h1",
	"book--title2":    "h2",
	"book--title3":    "h3",
	"book--title4":    "h4",
	"book--title5":    "h5",
	"book--title6":    "h6",
	"book--paragraph": "p",
	"book--cite":      "blockquote",
}

// classPriority fixes the order classToTag is applied in; the last match wins
var classPriority = []string{
	"book--title", "book--title1", "book--title2", "book--title3",
	"book--title4", "book--title5", "book--title6", "book--paragraph", "book--cite",
}

var headingLevels = map[atom.Atom]int{
	atom.H1: 1,
	atom.H2: 2,
	atom.H3: 3,
	atom.H4: 4,
}

var headingClasses = map[string]int{
	"book--title1": 1,
	"book--title2": 2,
	"book--title3": 3,
	"book--title4": 4,
}

// Renderer sanitizes preview markup and splits it into content blocks
type Renderer struct {
	policy *bluemonday.Policy
}

// NewRenderer creates a renderer with the reader's allow-list
func NewRenderer() *Renderer {
	return &Renderer{policy: Policy()}
}

// Policy is the sanitizer allow-list: user-generated content tags plus images,
// data URIs and free id/class attributes.
func Policy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowImages()
	p.AllowDataURIImages()
	p.AllowAttrs("id", "class").Globally()
	return p
}

// Render sanitizes markup, rewrites classes and returns the top-level blocks
// and headings in document order.
func (r *Renderer) Render(markup string) (*domain.RenderedDocument, error) {
	clean := r.policy.Sanitize(markup)

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(clean), body)
	if err != nil {
		return nil, &domain.ValidationError{Field: "previewFileHtml", Message: err.Error()}
	}

	out := &domain.RenderedDocument{
		Blocks:   []domain.ContentBlock{},
		Headings: []domain.Heading{},
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		transform(n)
		if err := html.Render(&buf, n); err != nil {
			return nil, fmt.Errorf("render markup: %w", err)
		}

		if n.Type != html.ElementNode {
			continue
		}
		index := len(out.Blocks)
		out.Blocks = append(out.Blocks, domain.ContentBlock{
			Index: index,
			Tag:   n.Data,
			Text:  TextContent(n),
		})
		out.Headings = append(out.Headings, collectHeadings(n, index)...)
	}
	out.Markup = buf.String()

	return out, nil
}

// transform prefixes classes and renames elements carrying semantic classes
func transform(n *html.Node) {
	if n.Type == html.ElementNode {
		for i, a := range n.Attr {
			if a.Namespace != "" || a.Key != "class" {
				continue
			}
			classes := strings.Fields(a.Val)
			for j, c := range classes {
				classes[j] = ClassPrefix + c
			}
			n.Attr[i].Val = strings.Join(classes, " ")

			for _, c := range classPriority {
				if hasClass(classes, c) {
					rename(n, classToTag[c])
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		transform(c)
	}
}

func rename(n *html.Node, tag string) {
	n.Data = tag
	n.DataAtom = atom.Lookup([]byte(tag))
}

func hasClass(classes []string, class string) bool {
	for _, c := range classes {
		if c == class {
			return true
		}
	}
	return false
}

func classesOf(n *html.Node) []string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == "class" {
			return strings.Fields(a.Val)
		}
	}
	return nil
}

// headingLevel returns the TOC level of n, or 0 when n is not a heading
func headingLevel(n *html.Node) int {
	level := 0
	classes := classesOf(n)
	for l := 1; l <= 4; l++ {
		tagMatch := headingLevels[n.DataAtom] == l
		classMatch := false
		for _, c := range classes {
			if headingClasses[c] == l {
				classMatch = true
			}
		}
		if tagMatch || classMatch {
			level = l
		}
	}
	return level
}

func collectHeadings(block *html.Node, position int) []domain.Heading {
	var headings []domain.Heading
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level := headingLevel(n); level > 0 {
				headings = append(headings, domain.Heading{
					Name:     TextContent(n),
					Level:    level,
					Position: position,
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(block)
	return headings
}

// TextContent returns the whitespace-collapsed text of n and its descendants
func TextContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
