// Package imagetype recognises the image formats a trip accepts by their
// leading bytes.
package imagetype

import (
	"fmt"
	"net/http"
	"strings"
)

// SniffLen is how many leading bytes Detect looks at.
const SniffLen = 512

var byMIME = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var heicBrands = map[string]bool{
	"heic": true, "heix": true, "heim": true, "heis": true, "hevc": true, "mif1": true, "msf1": true,
}

// ExtForMIME returns the extension for an image Content-Type, or "" when the
// type is not accepted.
func ExtForMIME(contentType string) string {
	mime, _, _ := strings.Cut(contentType, ";")
	return byMIME[strings.TrimSpace(strings.ToLower(mime))]
}

// Canonical returns the extension files of type ext are stored under, or ""
// when ext is not an accepted image type.
func Canonical(ext string) string {
	switch ext = strings.ToLower(ext); ext {
	case ".jpeg", ".jpg":
		return ".jpg"
	case ".png", ".gif", ".webp", ".heic":
		return ext
	}
	return ""
}

// Detect returns the canonical extension data starts like, or "".
func Detect(data []byte) string {
	if len(data) >= 12 && string(data[4:8]) == "ftyp" && heicBrands[string(data[8:12])] {
		return ".heic"
	}
	return ExtForMIME(http.DetectContentType(data))
}

// Check verifies that data really is an image of type ext.
func Check(data []byte, ext string) error {
	want := Canonical(ext)
	if want == "" {
		return fmt.Errorf("unsupported image type %s", ext)
	}
	if got := Detect(data); got != want {
		return fmt.Errorf("content does not match extension %s (detected: %s)", ext, http.DetectContentType(data))
	}
	return nil
}
