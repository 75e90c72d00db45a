package imageproc

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	// Blank-imported for their side-effecting image.RegisterFormat calls,
	// so imaging.Decode (and the stdlib image.Decode it wraps) can read
	// these formats. Encoding them goes through the encoders in Encode.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode decodes an image from raw bytes, auto-detecting the codec from
// the data itself rather than trusting any client-supplied extension.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// Resize thumbnails img to targetWidth preserving aspect ratio. A height
// of 0 tells imaging.Resize to compute it from the source aspect ratio.
func Resize(img image.Image, targetWidth uint) image.Image {
	return imaging.Resize(img, int(targetWidth), 0, imaging.Lanczos)
}

// Encode serializes img into format. chai2010/webp is the only encoder in
// this module that produces real WebP output; every other supported
// format goes through disintegration/imaging's encoder.
func Encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case "webp":
		if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: 90}); err != nil {
			return nil, fmt.Errorf("encoding webp: %w", err)
		}
	case "jpeg", "jpg":
		if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
			return nil, fmt.Errorf("encoding jpeg: %w", err)
		}
	case "png":
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("encoding png: %w", err)
		}
	case "gif":
		if err := imaging.Encode(&buf, img, imaging.GIF); err != nil {
			return nil, fmt.Errorf("encoding gif: %w", err)
		}
	case "tiff":
		if err := imaging.Encode(&buf, img, imaging.TIFF); err != nil {
			return nil, fmt.Errorf("encoding tiff: %w", err)
		}
	case "bmp":
		if err := imaging.Encode(&buf, img, imaging.BMP); err != nil {
			return nil, fmt.Errorf("encoding bmp: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}

	return buf.Bytes(), nil
}
