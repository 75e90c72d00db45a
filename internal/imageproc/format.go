package imageproc

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ProbeFormat classifies data by magic number and returns the bare format
// string used for file extensions and formats.<in> config lookups: the
// MIME subtype with any "+suffix" (e.g. "svg+xml") or ";parameter" tail
// stripped. Returns "" unless the detected MIME type is an image/* type,
// including when the detector could not identify the content at all.
func ProbeFormat(data []byte) string {
	mt := mimetype.Detect(data)

	mime := mt.String()
	if semi := strings.IndexByte(mime, ';'); semi >= 0 {
		mime = mime[:semi]
	}

	slash := strings.IndexByte(mime, '/')
	if slash < 0 {
		return ""
	}
	subtype := mime[slash+1:]

	if plus := strings.IndexByte(subtype, '+'); plus >= 0 {
		subtype = subtype[:plus]
	}

	if !strings.HasPrefix(mt.String(), "image/") {
		return ""
	}

	return subtype
}
