// Package mediatype holds the fixed MIME and extension tables for stored assets.
package mediatype

import (
	"path"
	"strings"
)

// Kind classifies a stored asset.
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
)

// OctetStream is served for extensions outside the table.
const OctetStream = "application/octet-stream"

type entry struct {
	mime string
	ext  string
	kind Kind
}

// allowed is the upload allow-list; the first extension per MIME is canonical.
var allowed = []entry{
	{"video/mp4", ".mp4", KindVideo},
	{"video/webm", ".webm", KindVideo},
	{"video/quicktime", ".mov", KindVideo},
	{"video/x-matroska", ".mkv", KindVideo},
	{"video/x-msvideo", ".avi", KindVideo},
	{"video/x-ms-wmv", ".wmv", KindVideo},
	{"video/x-flv", ".flv", KindVideo},
	{"image/jpeg", ".jpg", KindImage},
	{"image/png", ".png", KindImage},
	{"image/gif", ".gif", KindImage},
	{"image/webp", ".webp", KindImage},
}

var aliases = map[string]string{
	"image/jpg":      "image/jpeg",
	"image/pjpeg":    "image/jpeg",
	"video/mkv":      "video/x-matroska",
	"video/avi":      "video/x-msvideo",
	"video/mov":      "video/quicktime",
	"video/x-ms-asf": "video/x-ms-wmv",
}

var extraExtensions = map[string]string{
	".jpeg": "image/jpeg",
	".m4v":  "video/mp4",
}

// Normalize lowercases a MIME type and strips parameters such as charset.
func Normalize(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if canonical, ok := aliases[mime]; ok {
		return canonical
	}
	return mime
}

// Allowed reports whether mime is on the upload allow-list.
func Allowed(mime string) bool {
	_, ok := lookupMIME(Normalize(mime))
	return ok
}

// KindForMIME returns the asset kind for an allow-listed MIME type.
func KindForMIME(mime string) (Kind, bool) {
	e, ok := lookupMIME(Normalize(mime))
	return e.kind, ok
}

// ExtensionForMIME returns the canonical extension (with dot) for an allow-listed MIME type.
func ExtensionForMIME(mime string) (string, bool) {
	e, ok := lookupMIME(Normalize(mime))
	return e.ext, ok
}

// KindForName derives the kind from a file name's extension.
func KindForName(name string) (Kind, bool) {
	e, ok := lookupExt(strings.ToLower(path.Ext(name)))
	return e.kind, ok
}

// ContentType maps a file name to its served Content-Type.
func ContentType(name string) string {
	if e, ok := lookupExt(strings.ToLower(path.Ext(name))); ok {
		return e.mime
	}
	return OctetStream
}

// MatchesMIME reports whether name's extension already belongs to mime.
func MatchesMIME(name, mime string) bool {
	e, ok := lookupExt(strings.ToLower(path.Ext(name)))
	return ok && e.mime == Normalize(mime)
}

func lookupMIME(mime string) (entry, bool) {
	for _, e := range allowed {
		if e.mime == mime {
			return e, true
		}
	}
	return entry{}, false
}

func lookupExt(ext string) (entry, bool) {
	if ext == "" {
		return entry{}, false
	}
	if mime, ok := extraExtensions[ext]; ok {
		return lookupMIME(mime)
	}
	for _, e := range allowed {
		if e.ext == ext {
			return e, true
		}
	}
	return entry{}, false
}
