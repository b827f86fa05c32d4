package annotate

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/fpang/safesite-pipeline/internal/inference"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 40, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestBoxColor(t *testing.T) {
	tests := []struct {
		label string
		want  color.RGBA
	}{
		{"helmet", colorHelmet},
		{"no_helmet", colorHelmet},
		{"no_suit", colorSuit},
		{"tampering", colorDefault},
		{"HELMET", colorDefault},
	}
	for _, tt := range tests {
		if got := BoxColor(tt.label); got != tt.want {
			t.Errorf("BoxColor(%q) = %v, want %v", tt.label, got, tt.want)
		}
	}
}

func TestLabelText(t *testing.T) {
	if got := LabelText("no_helmet", 0.92); got != "no_helmet (92.0%)" {
		t.Errorf("LabelText = %q", got)
	}
	if got := LabelText("intrusion", 0.4567); got != "intrusion (45.7%)" {
		t.Errorf("LabelText = %q", got)
	}
}

func TestDraw_OutlinesBox(t *testing.T) {
	src := testPNG(t, 120, 120)
	dets := []inference.Detection{
		{Label: "tampering", Confidence: 0.9, BBox: inference.NewBox(20, 40, 100, 110)},
	}

	res := Draw(src, dets)
	if res.Err != nil {
		t.Fatalf("Draw error = %v", res.Err)
	}
	if res.Drawn != 1 || res.Skipped != 0 {
		t.Errorf("Drawn=%d Skipped=%d", res.Drawn, res.Skipped)
	}

	out, err := jpeg.Decode(bytes.NewReader(res.Image))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if out.Bounds().Dx() != 120 || out.Bounds().Dy() != 120 {
		t.Errorf("output size = %v", out.Bounds())
	}

	// Left edge of the box should be red; the box interior untouched (blue).
	r, g, b, _ := out.At(21, 80).RGBA()
	if r>>8 < 180 || g>>8 > 90 || b>>8 > 90 {
		t.Errorf("box edge pixel = (%d,%d,%d), want red", r>>8, g>>8, b>>8)
	}
	r, _, b, _ = out.At(60, 80).RGBA()
	if b>>8 < 150 || r>>8 > 100 {
		t.Errorf("interior pixel = (%d,_,%d), want original blue", r>>8, b>>8)
	}
}

func TestDraw_SkipsInvalidBoxes(t *testing.T) {
	src := testPNG(t, 64, 64)
	dets := []inference.Detection{
		{Label: "no_suit", Confidence: 0.5, BBox: inference.NewBox(1, 2, 3)},
		{Label: "no_suit", Confidence: 0.5},
		{Label: "no_suit", Confidence: 0.5, BBox: inference.NewBox(5, 5, 30, 30)},
	}

	res := Draw(src, dets)
	if res.Err != nil {
		t.Fatalf("Draw error = %v", res.Err)
	}
	if res.Drawn != 1 || res.Skipped != 2 {
		t.Errorf("Drawn=%d Skipped=%d, want 1 and 2", res.Drawn, res.Skipped)
	}
	if _, err := jpeg.Decode(bytes.NewReader(res.Image)); err != nil {
		t.Errorf("output is not a valid JPEG: %v", err)
	}
}

func TestDraw_NoDetectionsStillReencodes(t *testing.T) {
	res := Draw(testPNG(t, 16, 16), nil)
	if res.Err != nil {
		t.Fatalf("Draw error = %v", res.Err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(res.Image)); err != nil {
		t.Errorf("output is not a valid JPEG: %v", err)
	}
}

func TestDraw_UndecodableFallsBack(t *testing.T) {
	src := []byte("definitely not an image")
	res := Draw(src, []inference.Detection{{Label: "x", BBox: inference.NewBox(1, 1, 5, 5)}})
	if res.Err == nil {
		t.Fatal("expected decode error")
	}
	if !bytes.Equal(res.Image, src) {
		t.Error("expected original bytes on failure")
	}
}

func TestTagRect_ClampedToTop(t *testing.T) {
	box := image.Rect(10, 4, 50, 50)
	tag := TagRect(box, "no_helmet (92.0%)", 0)
	if tag.Min.Y != 0 {
		t.Errorf("tag top = %d, want clamped to 0", tag.Min.Y)
	}
	if tag.Min.X != 10 {
		t.Errorf("tag left = %d, want box left", tag.Min.X)
	}

	low := TagRect(image.Rect(10, 80, 50, 120), "x (1.0%)", 0)
	if low.Max.Y != 80 {
		t.Errorf("tag bottom = %d, want flush with box top 80", low.Max.Y)
	}
}
