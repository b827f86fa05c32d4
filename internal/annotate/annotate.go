// Package annotate draws detection overlays onto a frame: an outlined box
// per detection and a filled label tag above it with the class name and
// confidence. Output is always JPEG; on any failure the original bytes are
// returned so the frame is never lost.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/fpang/safesite-pipeline/internal/inference"
)

const (
	strokeWidth = 3
	// Label tag padding in pixels.
	padTop    = 2
	padRight  = 4
	padBottom = 2
	padLeft   = 2
)

var (
	colorDefault = color.RGBA{R: 255, A: 255}
	colorHelmet  = color.RGBA{R: 255, G: 255, A: 255}
	colorSuit    = color.RGBA{R: 255, G: 165, A: 255}
	colorText    = color.Black
)

// Result describes one annotation attempt.
type Result struct {
	// Image is the JPEG-encoded annotated frame, or the original input
	// bytes when Err is set.
	Image   []byte
	Drawn   int
	Skipped int
	Err     error
}

// BoxColor picks the overlay color for a label by substring.
func BoxColor(label string) color.RGBA {
	switch {
	case strings.Contains(label, "helmet"):
		return colorHelmet
	case strings.Contains(label, "suit"):
		return colorSuit
	default:
		return colorDefault
	}
}

// LabelText formats the tag text, e.g. "no_helmet (92.0%)".
func LabelText(label string, confidence float64) string {
	return fmt.Sprintf("%s (%.1f%%)", label, confidence*100)
}

// Draw decodes src, draws every detection that has a valid box, and
// re-encodes as JPEG.
func Draw(src []byte, detections []inference.Detection) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Image: src, Err: fmt.Errorf("annotate panic: %v", r)}
		}
	}()

	decoded, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return Result{Image: src, Err: fmt.Errorf("decode image: %w", err)}
	}
	canvas := imaging.Clone(decoded)

	for i, det := range detections {
		coords, ok := det.Coords()
		if !ok {
			log.Warn().
				Int("index", i).
				Str("label", det.Label).
				Stringer("bbox", det.BBox).
				Msg("Skipping detection with invalid box")
			res.Skipped++
			continue
		}
		box := image.Rect(int(coords[0]), int(coords[1]), int(coords[2]), int(coords[3]))
		col := BoxColor(det.Label)
		strokeRect(canvas, box, col, strokeWidth)
		drawTag(canvas, box, LabelText(labelOrUnknown(det.Label), det.Confidence), col)
		res.Drawn++
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: jpeg.DefaultQuality}); err != nil {
		return Result{Image: src, Skipped: res.Skipped, Err: fmt.Errorf("encode jpeg: %w", err)}
	}

	log.Debug().
		Stringer("size", canvas.Bounds().Size()).
		Int("drawn", res.Drawn).
		Int("skipped", res.Skipped).
		Int("bytes", buf.Len()).
		Msg("Frame annotated")

	res.Image = buf.Bytes()
	return res
}

// strokeRect draws a rectangle outline of the given width inside r.
func strokeRect(dst draw.Image, r image.Rectangle, c color.Color, width int) {
	src := image.NewUniform(c)
	if r.Dx() <= 2*width || r.Dy() <= 2*width {
		draw.Draw(dst, r, src, image.Point{}, draw.Src)
		return
	}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}

// TagRect is the filled background for a label above box, clamped so it
// never extends above the image top.
func TagRect(box image.Rectangle, text string, imageTop int) image.Rectangle {
	face := basicfont.Face7x13
	textW := font.MeasureString(face, text).Ceil()
	textH := face.Metrics().Height.Ceil()

	top := box.Min.Y - textH - padTop - padBottom
	if top < imageTop {
		top = imageTop
	}
	return image.Rect(box.Min.X, top, box.Min.X+padLeft+textW+padRight, top+padTop+textH+padBottom)
}

func drawTag(dst draw.Image, box image.Rectangle, text string, bg color.Color) {
	tag := TagRect(box, text, dst.Bounds().Min.Y)
	draw.Draw(dst, tag, image.NewUniform(bg), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(colorText),
		Face: face,
		Dot:  fixed.P(tag.Min.X+padLeft, tag.Min.Y+padTop+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}

func labelOrUnknown(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
