package media

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// FallbackExtension is used when neither the mimetype nor the filename
// give a usable extension.
const FallbackExtension = ".bin"

var extensionsByMimetype = map[string]string{
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"image/heic":      ".heic",
	"image/heif":      ".heif",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"video/x-m4v":     ".m4v",
	"video/3gpp":      ".3gp",
}

// ProbeOrder is the order extensions are tried when a record carries no
// media reference.
var ProbeOrder = []string{
	".jpg", ".jpeg", ".png", ".webp", ".gif", ".heic", ".heif",
	".mp4", ".webm", ".mov", ".m4v", ".3gp", ".bin",
}

const maxExtensionLen = 10

// ExtensionFor picks the stored file extension for an upload.
func ExtensionFor(contentType, filename string) string {
	if ext, ok := extensionsByMimetype[baseMimetype(contentType)]; ok {
		return ext
	}
	if ext := sanitizeExtension(filepath.Ext(filename)); ext != "" {
		return ext
	}
	return FallbackExtension
}

// StoredName is the flat file name media for id is saved under.
func StoredName(id, contentType, filename string) string {
	return id + ExtensionFor(contentType, filename)
}

// DetectMimetype sniffs the content type from the leading bytes.
func DetectMimetype(data []byte) string {
	return baseMimetype(mimetype.Detect(data).String())
}

// ResolveMimetype keeps the client supplied type unless it is missing or
// generic, in which case the content is sniffed.
func ResolveMimetype(declared string, data []byte) string {
	base := baseMimetype(declared)
	if base == "" || base == "application/octet-stream" {
		return DetectMimetype(data)
	}
	return base
}

func baseMimetype(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(value); err == nil {
		return parsed
	}
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	return strings.ToLower(strings.TrimSpace(value))
}

func sanitizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" || len(ext) > maxExtensionLen {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return "." + ext
}
