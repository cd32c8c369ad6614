package util

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
)

// 带噪声的大图，保证 JPEG 编码后有可观体积
func noisyImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x*7 + y*13) % 256),
				G: uint8((x * y) % 256),
				B: uint8((x + y*3) % 256),
				A: 255,
			})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestCompressImageShrinksOversized(t *testing.T) {
	src := encodePNG(t, noisyImage(2400, 1800))

	out, err := CompressImage(src, 200)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	decoded, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() > ImageMaxDimension || b.Dy() > ImageMaxDimension {
		t.Fatalf("output exceeds max dimension: %dx%d", b.Dx(), b.Dy())
	}
	if len(out) >= len(src) {
		t.Fatalf("expected compression, got %d >= %d", len(out), len(src))
	}
}

func TestCompressImageKeepsSmallDimensions(t *testing.T) {
	src := encodePNG(t, noisyImage(320, 240))

	out, err := CompressImage(src, 200)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	decoded, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != 320 || b.Dy() != 240 {
		t.Fatalf("small image should keep dimensions, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestCompressImageRejectsGarbage(t *testing.T) {
	_, err := CompressImage([]byte("not an image"), 200)
	if !errors.Is(err, ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode, got %v", err)
	}
}

func TestDecodeDataURL(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0xff, 0xe0}
	encoded := base64.StdEncoding.EncodeToString(payload)

	// 带 data URL 前缀
	got, err := DecodeDataURL("data:image/jpeg;base64," + encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %v", got)
	}

	// 裸 base64
	got, err = DecodeDataURL(encoded)
	if err != nil {
		t.Fatalf("decode bare: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %v", got)
	}

	// 非法 base64
	if _, err := DecodeDataURL("data:image/jpeg;base64,@@@@"); !errors.Is(err, ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode, got %v", err)
	}
}
