package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		in     string
		parent string
		name   string
	}{
		{"/notes/a.md", "/notes/", "a.md"},
		{"/a.md", "/", "a.md"},
		{"a.md", "/", "a.md"},
		{"/work/deep/x", "/work/deep/", "x"},
		{"/work/", "/", "work"},
	}

	for _, tt := range tests {
		parent, name := splitPath(tt.in)
		assert.Equal(t, tt.parent, parent, "parent of %q", tt.in)
		assert.Equal(t, tt.name, name, "name of %q", tt.in)
	}
}
