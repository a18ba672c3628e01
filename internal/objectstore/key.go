package objectstore

import (
	"path"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const maxKeyNameLen = 128

// NewKey returns a fresh object key for an uploaded file. The random prefix
// guarantees uniqueness; the client-supplied name is kept only as a readable
// suffix after sanitising.
func NewKey(filename string) string {
	return uuid.NewString() + "_" + SanitizeName(filename)
}

// SanitizeName strips directories and any character outside a conservative
// set from a client-supplied file name.
func SanitizeName(filename string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	if name == "" {
		name = "file"
	}
	if len(name) > maxKeyNameLen {
		name = name[len(name)-maxKeyNameLen:]
	}
	return name
}
