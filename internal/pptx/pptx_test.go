package pptx

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/lectern/internal/models"
)

// writeDeck builds a minimal presentation archive: a presentation part
// (unless cx is zero) and one slide part per entry of slides.
func writeDeck(t *testing.T, cx, cy int64, slides ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deck.pptx")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	if cx > 0 {
		w, err := zw.Create("ppt/presentation.xml")
		require.NoError(t, err)
		fmt.Fprintf(w, `<?xml version="1.0"?>`+
			`<p:presentation xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">`+
			`<p:sldSz cx="%d" cy="%d"/></p:presentation>`, cx, cy)
	}
	for i, body := range slides {
		w, err := zw.Create(fmt.Sprintf("ppt/slides/slide%d.xml", i+1))
		require.NoError(t, err)
		fmt.Fprintf(w, `<?xml version="1.0"?>`+
			`<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"`+
			` xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">%s</p:sld>`, body)
	}
	require.NoError(t, zw.Close())
	return path
}

func TestDeck_SlideCountAndText(t *testing.T) {
	path := writeDeck(t, 9144000, 6858000,
		`<a:t>Hello</a:t><a:t>World</a:t>`,
		`<a:t>  spaced   out  </a:t>`,
		``)

	deck, err := OpenDeck(path)
	require.NoError(t, err)
	defer deck.Close()

	assert.Equal(t, 3, deck.SlideCount())

	text, err := deck.SlideText(1)
	require.NoError(t, err)
	assert.Equal(t, "Hello\nWorld", text)

	text, err = deck.SlideText(3)
	require.NoError(t, err)
	assert.Equal(t, "", text)

	_, err = deck.SlideText(4)
	assert.Error(t, err)
}

func TestOpenDeck_RejectsNonZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pptx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0644))
	_, err := OpenDeck(path)
	assert.Error(t, err)
}

func TestDeck_Aspect(t *testing.T) {
	tests := []struct {
		name string
		cx   int64
		cy   int64
		want models.Aspect
	}{
		{"standard 4:3", 9144000, 6858000, models.Aspect4x3},
		{"widescreen 16:9", 12192000, 6858000, models.Aspect16x9},
		{"odd geometry", 10000000, 10000000, models.AspectUnknown},
		{"no presentation part", 0, 0, models.AspectUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeDeck(t, tt.cx, tt.cy, `<a:t>x</a:t>`)
			deck, err := OpenDeck(path)
			require.NoError(t, err)
			defer deck.Close()
			assert.Equal(t, tt.want, deck.Aspect())
		})
	}
}

func TestClassifyAspect_Tolerance(t *testing.T) {
	// Slightly off-ratio sizes still classify.
	assert.Equal(t, models.Aspect4x3, ClassifyAspect(1334, 1000))
	assert.Equal(t, models.Aspect16x9, ClassifyAspect(1744, 1000))
	assert.Equal(t, models.AspectUnknown, ClassifyAspect(1500, 1000))
	assert.Equal(t, models.AspectUnknown, ClassifyAspect(-1, 1000))
	assert.Equal(t, models.AspectUnknown, ClassifyAspect(1000, 0))
}

func TestNormalize(t *testing.T) {
	raw := "  Hello​   World  \r\n\r\n\tsecond\trow\t\r\n   "
	norm := Normalize(raw)
	assert.Equal(t, "Hello World\nsecond row", norm)

	// Idempotent: normalizing normalized text changes nothing.
	assert.Equal(t, norm, Normalize(norm))

	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize(" ​ \r\n \n "))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("Hello World")
	b := Fingerprint("Hello World")
	c := Fingerprint("Hello  World")

	assert.Len(t, a, 16)
	assert.Equal(t, a, b, "same text, same fingerprint")
	assert.NotEqual(t, a, c)
	assert.Empty(t, Fingerprint(""))

	// Same content in different files yields the same fingerprint, so
	// the embedding cache can be shared across pages.
	assert.Equal(t, Fingerprint(Normalize("Hello   World")), a)
}
