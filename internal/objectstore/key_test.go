package objectstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "photo.jpg", want: "photo.jpg"},
		{name: "spaces", in: "vet report.pdf", want: "vet_report.pdf"},
		{name: "traversal", in: "../../etc/passwd", want: "passwd"},
		{name: "windows path", in: `C:\Users\me\dog.png`, want: "dog.png"},
		{name: "non ascii dropped", in: "pies😀.gif", want: "pies.gif"},
		{name: "empty", in: "", want: "file"},
		{name: "only dots", in: "...", want: "file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeName(tc.in))
		})
	}
}

func TestSanitizeNameKeepsExtensionWhenTruncating(t *testing.T) {
	got := SanitizeName(strings.Repeat("a", 300) + ".png")
	assert.Len(t, got, maxKeyNameLen)
	assert.True(t, strings.HasSuffix(got, ".png"))
}

func TestNewKeyIsUniquePerCall(t *testing.T) {
	a := NewKey("photo.jpg")
	b := NewKey("photo.jpg")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, "_photo.jpg"))
}
