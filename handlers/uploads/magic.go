package uploads

import "bytes"

// allowedMimes is the image allow-list. SVG is intentionally excluded: a
// text-based format bypasses magic-byte validation and would need a full
// XML sanitizer to be safe.
var allowedMimes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// matchesMagic reports whether the leading bytes of data carry the known
// signature for the declared MIME type.
func matchesMagic(mimeType string, data []byte) bool {
	switch mimeType {
	case "image/png":
		return bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47})
	case "image/jpeg":
		return bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF})
	case "image/gif":
		return bytes.HasPrefix(data, []byte{0x47, 0x49, 0x46, 0x38})
	case "image/webp":
		return len(data) >= 12 &&
			bytes.Equal(data[0:4], []byte("RIFF")) &&
			bytes.Equal(data[8:12], []byte("WEBP"))
	}
	return false
}
