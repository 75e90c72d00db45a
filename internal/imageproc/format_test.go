package imageproc

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodeTestJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func encodeTestPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestProbeFormatDetectsJPEG(t *testing.T) {
	if got := ProbeFormat(encodeTestJPEG(t)); got != "jpeg" {
		t.Fatalf("ProbeFormat(jpeg) = %q, want jpeg", got)
	}
}

func TestProbeFormatDetectsPNG(t *testing.T) {
	if got := ProbeFormat(encodeTestPNG(t)); got != "png" {
		t.Fatalf("ProbeFormat(png) = %q, want png", got)
	}
}

func TestProbeFormatReturnsEmptyForNonImageData(t *testing.T) {
	if got := ProbeFormat([]byte("not an image at all")); got != "" {
		t.Fatalf("ProbeFormat(text) = %q, want empty", got)
	}
}
