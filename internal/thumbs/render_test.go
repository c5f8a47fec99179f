package thumbs

import (
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/lectern/internal/models"
)

func writeTestPDF(t *testing.T, pages int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.pdf")
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Helvetica", "B", 24)
	for i := 0; i < pages; i++ {
		pdf.AddPage()
		pdf.Cell(60, 20, "slide content")
	}
	require.NoError(t, pdf.OutputFileAndClose(path))
	return path
}

func TestRenderPage_ProducesExactGeometry(t *testing.T) {
	r, err := OpenPDF(writeTestPDF(t, 2))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 2, r.PageCount())

	out := filepath.Join(t.TempDir(), "1_4:3_320x240.jpg")
	require.NoError(t, r.RenderPage(1, 144, 320, 240, out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy())
}

func TestRenderPage_OutOfRange(t *testing.T) {
	r, err := OpenPDF(writeTestPDF(t, 1))
	require.NoError(t, err)
	defer r.Close()

	out := filepath.Join(t.TempDir(), "x.jpg")
	assert.Error(t, r.RenderPage(5, 144, 320, 180, out))
}

func TestSizeFor(t *testing.T) {
	opts := models.ThumbOptions{Width: 320, Height4x3: 240, Height16x9: 180}

	w, h := SizeFor(models.Aspect4x3, opts)
	assert.Equal(t, 320, w)
	assert.Equal(t, 240, h)

	w, h = SizeFor(models.Aspect16x9, opts)
	assert.Equal(t, 320, w)
	assert.Equal(t, 180, h)

	// Unknown geometry renders in the widescreen frame.
	_, h = SizeFor(models.AspectUnknown, opts)
	assert.Equal(t, 180, h)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "7_4:3_320x240.jpg", FileName(7, models.Aspect4x3, 320, 240))
	assert.Equal(t, "1_16:9_320x180.jpg", FileName(1, models.Aspect16x9, 320, 180))
}
