// Package bookfile checks e-book files locally before they are sent to the
// remote document service.
package bookfile

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/taylorskalyo/goreader/epub"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

// Info is the package metadata of an EPUB file
type Info struct {
	Title    string `json:"title"`
	Creator  string `json:"creator,omitempty"`
	Language string `json:"language,omitempty"`
	Chapters int    `json:"chapters"`
}

// IsEPUB reports whether filename looks like an EPUB by extension
func IsEPUB(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".epub")
}

// Inspect opens the EPUB at path and reads its package metadata
func Inspect(path string) (*Info, error) {
	rc, err := epub.OpenReader(path)
	if err != nil {
		return nil, invalid(err)
	}
	defer rc.Close()

	return info(rc.Rootfiles)
}

// InspectReader is Inspect for an already opened file of the given size
func InspectReader(ra io.ReaderAt, size int64) (*Info, error) {
	r, err := epub.NewReader(ra, size)
	if err != nil {
		return nil, invalid(err)
	}
	return info(r.Rootfiles)
}

func info(rootfiles []*epub.Rootfile) (*Info, error) {
	if len(rootfiles) == 0 {
		return nil, &domain.ValidationError{Field: "file", Message: "no rootfiles found in epub"}
	}

	book := rootfiles[0]
	chapters := 0
	for _, ref := range book.Spine.Itemrefs {
		if ref.Item != nil {
			chapters++
		}
	}
	if chapters == 0 {
		return nil, &domain.ValidationError{Field: "file", Message: "epub has no readable chapters"}
	}

	return &Info{
		Title:    strings.TrimSpace(book.Title),
		Creator:  strings.TrimSpace(book.Creator),
		Language: strings.TrimSpace(book.Language),
		Chapters: chapters,
	}, nil
}

func invalid(err error) error {
	return &domain.ValidationError{Field: "file", Message: fmt.Sprintf("not a valid epub: %v", err)}
}
