package ui

import (
	"io"
	"testing"
)

func TestPlaceholderEmbedded(t *testing.T) {
	f, err := FS().Open("/" + PlaceholderName)
	if err != nil {
		t.Fatalf("open placeholder: %v", err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(b) < 4 || b[0] != 0xFF || b[1] != 0xD8 {
		t.Fatalf("placeholder is not a JPEG")
	}
}
