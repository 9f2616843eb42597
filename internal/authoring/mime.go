package authoring

import (
	"path/filepath"
	"strings"
)

// contentTypes maps lowercase file extensions to upload content types.
// Anything unknown falls back to text/plain, matching the service's
// permissive handling of resource bodies.
var contentTypes = map[string]string{
	".avif": "image/avif",
	".css":  "text/css",
	".csv":  "text/csv",
	".gif":  "image/gif",
	".htm":  "text/html",
	".html": "text/html",
	".ico":  "image/x-icon",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".js":   "text/javascript",
	".json": "application/json",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".otf":  "font/otf",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".svg":  "image/svg+xml",
	".ttf":  "font/ttf",
	".txt":  "text/plain",
	".webm": "video/webm",
	".webp": "image/webp",
	".woff": "font/woff",
	".xml":  "application/xml",
	".zip":  "application/zip",
}

// ContentTypeForFilename infers the upload Content-Type from a file
// name's extension. Defaults to text/plain.
func ContentTypeForFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}

	return "text/plain"
}
