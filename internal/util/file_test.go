package util

import (
	"strings"
	"testing"
)

func TestUniqueFilenameAvoidsCollisions(t *testing.T) {
	a := UniqueFilename("photo.jpg")
	b := UniqueFilename("photo.jpg")
	if a == b {
		t.Fatalf("same source name produced identical keys: %s", a)
	}
	if !strings.HasSuffix(a, "_photo.jpg") {
		t.Fatalf("original name lost: %s", a)
	}
}

func TestUniqueFilenameSanitizes(t *testing.T) {
	got := UniqueFilename("第 1 题?.png")
	if strings.ContainsAny(got, " ?") {
		t.Fatalf("unsafe characters survived: %s", got)
	}
	if !strings.HasSuffix(got, ".png") {
		t.Fatalf("extension lost: %s", got)
	}
}
