package pptx

import (
	"encoding/xml"
	"io"
	"strings"
)

const drawingmlNS = "http://schemas.openxmlformats.org/drawingml/2006/main"

// extractRuns walks a slide part and collects every <a:t> text run in
// document order, one run per line. Empty runs keep their line so run
// boundaries survive into the raw text.
func extractRuns(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var runs []string
	var current strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == drawingmlNS && t.Name.Local == "t" {
				depth++
				current.Reset()
			}
		case xml.CharData:
			if depth > 0 {
				current.Write(t)
			}
		case xml.EndElement:
			if t.Name.Space == drawingmlNS && t.Name.Local == "t" && depth > 0 {
				depth--
				runs = append(runs, current.String())
			}
		}
	}
	return strings.Join(runs, "\n"), nil
}
