package mirror

import (
	"path/filepath"
	"strings"
)

// pdfSuffix is appended to every sanitized map name.
const pdfSuffix = ".pdf"

func isNameRune(r rune) bool {
	return isAlnum(r) || r == '_' || r == ' ' || r == '-'
}

func isRegionRune(r rune) bool {
	return isAlnum(r) || r == '.' || r == '_' || r == '-'
}

func isAlnum(r rune) bool {
	return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
}

func sanitize(s string, allowed func(rune) bool) string {
	return strings.Map(func(r rune) rune {
		if allowed(r) {
			return r
		}
		return '_'
	}, s)
}

// SanitizeName maps a display name to a file name ending in ".pdf".
func SanitizeName(name string) string {
	return sanitize(name, isNameRune) + pdfSuffix
}

// SanitizeRegion maps a region code to a directory name.
//
// "." and ".." are allowed by the character set but are not directory
// names; their dots are replaced as well. A leading dot is replaced too:
// hidden names below the mirror root are reserved for the lock file and
// the staging directory.
func SanitizeRegion(region string) string {
	s := sanitize(region, isRegionRune)
	switch {
	case s == "." || s == ".." || s == "":
		s = strings.Repeat("_", max(len(s), 1))
	case strings.HasPrefix(s, "."):
		s = "_" + s[1:]
	}
	return s
}

// ResolvePath returns the local path of a map: root/region/name.pdf.
//
// ResolvePath performs no I/O and always returns the same path for the
// same input. Distinct entries may resolve to the same path.
func ResolvePath(region, name, root string) string {
	return filepath.Join(root, SanitizeRegion(region), SanitizeName(name))
}
