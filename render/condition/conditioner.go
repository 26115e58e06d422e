package condition

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	// Register decoders for every raster format a captured view may arrive in.
	_ "image/gif"

	"go.uber.org/zap"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/BaSui01/renderflow/types"
)

// jpegQuality is used when re-encoding corrected JPEG sources.
const jpegQuality = 95

// correctedSuffix is appended to the base name of derived images.
const correctedSuffix = "_corrected"

// Constraints is a provider's acceptable geometry envelope.
// A zero value means "no constraints".
type Constraints struct {
	MinAspect float64
	MaxAspect float64
	MaxPixels int64
}

// IsZero reports whether no constraint is declared.
func (c Constraints) IsZero() bool {
	return c.MinAspect == 0 && c.MaxAspect == 0 && c.MaxPixels == 0
}

// Satisfied reports whether a w×h image already fits the envelope.
func (c Constraints) Satisfied(w, h int) bool {
	if w <= 0 || h <= 0 {
		return false
	}
	if c.aspectBounded() {
		ratio := float64(w) / float64(h)
		if ratio < c.MinAspect || ratio > c.MaxAspect {
			return false
		}
	}
	return c.MaxPixels <= 0 || int64(w)*int64(h) <= c.MaxPixels
}

func (c Constraints) aspectBounded() bool {
	return c.MinAspect > 0 && c.MaxAspect > 0 && c.MinAspect <= c.MaxAspect
}

// Detail converts the envelope into a constraint description for the given size.
func (c Constraints) Detail(w, h int) types.ConstraintDetail {
	return types.ConstraintDetail{
		Width:     w,
		Height:    h,
		MinAspect: c.MinAspect,
		MaxAspect: c.MaxAspect,
		MaxPixels: c.MaxPixels,
	}
}

// CropRect returns the centered region that brings a w×h image to the nearest
// aspect bound. ok is false when the aspect ratio is already in range.
func CropRect(w, h int, c Constraints) (r image.Rectangle, ok bool) {
	if !c.aspectBounded() || w <= 0 || h <= 0 {
		return image.Rectangle{}, false
	}
	ratio := float64(w) / float64(h)
	switch {
	case ratio > c.MaxAspect:
		nw := floorDim(float64(h) * c.MaxAspect)
		x := (w - nw) / 2
		return image.Rect(x, 0, x+nw, h), true
	case ratio < c.MinAspect:
		nh := floorDim(float64(w) / c.MinAspect)
		y := (h - nh) / 2
		return image.Rect(0, y, w, y+nh), true
	default:
		return image.Rectangle{}, false
	}
}

// ScaledSize returns the dimensions after a uniform downscale by
// sqrt(maxPixels/(w*h)). ok is false when the image is within the pixel budget.
func ScaledSize(w, h int, maxPixels int64) (nw, nh int, ok bool) {
	total := int64(w) * int64(h)
	if maxPixels <= 0 || total <= maxPixels {
		return w, h, false
	}
	scale := math.Sqrt(float64(maxPixels) / float64(total))
	nw = floorDim(float64(w) * scale)
	nh = floorDim(float64(h) * scale)
	// float error can leave the product a hair over budget
	for int64(nw)*int64(nh) > maxPixels && (nw > 1 || nh > 1) {
		if nw >= nh {
			nw--
		} else {
			nh--
		}
	}
	return nw, nh, true
}

// floorDim truncates a computed dimension, absorbing float noise such as
// 999.9999999 for an exact 1000, and never returns less than one pixel.
func floorDim(v float64) int {
	n := int(math.Floor(v + 1e-9))
	if n < 1 {
		return 1
	}
	return n
}

// Result is a conditioned image. Path equals the input path when no correction applied.
type Result struct {
	Path   string
	Width  int
	Height int
	// Notes holds one human-readable line per applied correction.
	Notes []string
}

// Changed reports whether any correction was written.
func (r *Result) Changed() bool { return len(r.Notes) > 0 }

// Conditioner normalizes source images to a provider's geometry envelope.
type Conditioner struct {
	logger *zap.Logger
}

// New creates a Conditioner.
func New(logger *zap.Logger) *Conditioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conditioner{logger: logger.With(zap.String("component", "conditioner"))}
}

// Condition crops to the nearest aspect bound first, then downscales to the pixel
// budget. The source file is never modified. On any read, decode or write failure
// the returned Result still carries the original path so the caller can submit
// the unmodified image, alongside an IMAGE_IO error.
func (c *Conditioner) Condition(path string, cons Constraints) (*Result, error) {
	res := &Result{Path: path}

	w, h, err := decodeSize(path)
	if err != nil {
		return res, ioError("read image header", path, err)
	}
	res.Width, res.Height = w, h

	if cons.IsZero() || cons.Satisfied(w, h) {
		return res, nil
	}

	img, err := decodeFile(path)
	if err != nil {
		return res, ioError("decode image", path, err)
	}

	out := derivedPath(path)
	var notes []string

	if rect, ok := CropRect(w, h, cons); ok {
		cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		draw.Draw(cropped, cropped.Bounds(), img, img.Bounds().Min.Add(rect.Min), draw.Src)
		notes = append(notes, fmt.Sprintf("Aspect ratio %.2f corrected to %.2f (%dx%d -> %dx%d)",
			float64(w)/float64(h), float64(rect.Dx())/float64(rect.Dy()), w, h, rect.Dx(), rect.Dy()))
		img = cropped
	}

	cw, ch := img.Bounds().Dx(), img.Bounds().Dy()
	if nw, nh, ok := ScaledSize(cw, ch, cons.MaxPixels); ok {
		scaled := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
		notes = append(notes, fmt.Sprintf("Downscaled %dx%d to %dx%d (limit %d pixels)",
			cw, ch, nw, nh, cons.MaxPixels))
		img = scaled
	}

	if len(notes) == 0 {
		return res, nil
	}

	if err := encodeFile(out, img); err != nil {
		return res, ioError("write conditioned image", out, err)
	}

	res.Path = out
	res.Width, res.Height = img.Bounds().Dx(), img.Bounds().Dy()
	res.Notes = notes

	for _, n := range notes {
		c.logger.Info(n, zap.String("source", path), zap.String("output", out))
	}
	return res, nil
}

func ioError(op, path string, err error) *types.Error {
	return types.NewError(types.ErrImageIO, op+" "+filepath.Base(path)).
		WithStage(types.StageCondition).
		WithCause(err)
}

// decodeSize reads only the header.
func decodeSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

// derivedPath maps view.png to view_corrected.png. Sources in formats we can
// read but not write are re-encoded as PNG. A path that is already derived is
// reused so repeated conditioning replaces the previous artifact.
func derivedPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	base := strings.TrimSuffix(path, filepath.Ext(path))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".bmp":
	default:
		ext = ".png"
	}
	if strings.HasSuffix(base, correctedSuffix) {
		return base + ext
	}
	return base + correctedSuffix + ext
}

func encodeFile(path string, img image.Image) error {
	var buf bytes.Buffer
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case ".bmp":
		err = bmp.Encode(&buf, img)
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
