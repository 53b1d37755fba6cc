package img

import (
	"net/http"
	"slices"
	"strings"
)

// OutputMimeType is the type of every Encoded.Data.
const OutputMimeType = "image/jpeg"

// SupportedMimeTypes returns the input types the engine can decode.
func SupportedMimeTypes() []string {
	return []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/bmp",
		"image/tiff",
	}
}

// Supports reports whether mimeType is a decodable input type. Parameters
// such as "; charset=" are ignored.
func Supports(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return slices.Contains(SupportedMimeTypes(), mimeType)
}

// DetectMimeType sniffs the content type of data from its first bytes.
func DetectMimeType(data []byte) string {
	if len(data) > 512 {
		data = data[:512]
	}
	return http.DetectContentType(data)
}
