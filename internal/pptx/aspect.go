package pptx

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/ternarybob/lectern/internal/models"
)

// ClassifyAspect buckets a slide size into 4:3 or 16:9 with a small
// tolerance for rounding in authoring tools, otherwise unknown.
func ClassifyAspect(cx, cy int64) models.Aspect {
	if cx <= 0 || cy <= 0 {
		return models.AspectUnknown
	}
	r := float64(cx) / float64(cy)
	if math.Abs(r-4.0/3.0) < 0.08 {
		return models.Aspect4x3
	}
	if math.Abs(r-16.0/9.0) < 0.12 {
		return models.Aspect16x9
	}
	return models.AspectUnknown
}

// slideSize pulls the sldSz cx/cy EMU attributes out of the
// presentation part.
func slideSize(r io.Reader) (int64, int64, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return 0, 0, fmt.Errorf("presentation part has no sldSz element")
		}
		if err != nil {
			return 0, 0, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "sldSz" {
			continue
		}
		var cx, cy int64
		for _, attr := range start.Attr {
			v, err := strconv.ParseInt(attr.Value, 10, 64)
			if err != nil {
				continue
			}
			switch attr.Name.Local {
			case "cx":
				cx = v
			case "cy":
				cy = v
			}
		}
		return cx, cy, nil
	}
}
