package pptx

import (
	"archive/zip"
	"fmt"
	"io"
	"regexp"

	"github.com/ternarybob/lectern/internal/models"
)

var slideEntryRe = regexp.MustCompile(`^ppt/slides/slide\d+\.xml$`)

// Deck is one presentation archive opened for reading. A pptx file is
// a zip; slide N lives at ppt/slides/slideN.xml.
type Deck struct {
	path string
	zr   *zip.ReadCloser
}

// OpenDeck opens the archive. A file that is not a readable zip fails
// here, which is how corrupt presentations surface during planning.
func OpenDeck(path string) (*Deck, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open presentation: %w", err)
	}
	return &Deck{path: path, zr: zr}, nil
}

func (d *Deck) Close() error {
	return d.zr.Close()
}

// SlideCount returns the number of slide entries in the archive.
func (d *Deck) SlideCount() int {
	count := 0
	for _, f := range d.zr.File {
		if slideEntryRe.MatchString(f.Name) {
			count++
		}
	}
	return count
}

// SlideText extracts the visible text of slide pageNo (1-based): every
// drawingml text run, one per line, in document order.
func (d *Deck) SlideText(pageNo int) (string, error) {
	name := fmt.Sprintf("ppt/slides/slide%d.xml", pageNo)
	rc, err := d.open(name)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return extractRuns(rc)
}

// Aspect classifies the deck's slide geometry from the presentation
// part, or unknown when the part is absent or unparsable.
func (d *Deck) Aspect() models.Aspect {
	rc, err := d.open("ppt/presentation.xml")
	if err != nil {
		return models.AspectUnknown
	}
	defer rc.Close()
	cx, cy, err := slideSize(rc)
	if err != nil {
		return models.AspectUnknown
	}
	return ClassifyAspect(cx, cy)
}

func (d *Deck) open(name string) (io.ReadCloser, error) {
	for _, f := range d.zr.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("archive entry not found: %s", name)
}
