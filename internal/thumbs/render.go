package thumbs

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/image/draw"

	"github.com/ternarybob/lectern/internal/models"
)

const jpegQuality = 85

// Renderer rasterizes pages of one converted PDF. Open once per file;
// go-fitz keeps the document parsed across pages.
type Renderer struct {
	doc *fitz.Document
}

func OpenPDF(path string) (*Renderer, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	return &Renderer{doc: doc}, nil
}

func (r *Renderer) Close() error {
	return r.doc.Close()
}

func (r *Renderer) PageCount() int {
	return r.doc.NumPage()
}

// RenderPage rasterizes page pageNo (1-based) at dpi, scales it to
// exactly width x height, and writes a JPEG at outPath.
func (r *Renderer) RenderPage(pageNo, dpi, width, height int, outPath string) error {
	src, err := r.doc.ImageDPI(pageNo-1, float64(dpi))
	if err != nil {
		return fmt.Errorf("failed to rasterize page %d: %w", pageNo, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create thumbnail file: %w", err)
	}
	defer out.Close()
	if err := jpeg.Encode(out, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return nil
}

// SizeFor picks the thumbnail geometry for a page aspect: 4:3 pages get
// the taller variant, everything else the widescreen one.
func SizeFor(aspect models.Aspect, opts models.ThumbOptions) (int, int) {
	if aspect == models.Aspect4x3 {
		return opts.Width, opts.Height4x3
	}
	return opts.Width, opts.Height16x9
}

// FileName is the on-disk naming scheme inside the per-file thumbnail
// directory.
func FileName(pageNo int, aspect models.Aspect, width, height int) string {
	return fmt.Sprintf("%d_%s_%dx%d.jpg", pageNo, aspect, width, height)
}
