package util

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	"github.com/disintegration/imaging"
)

// 图片压缩参数，与前端采集侧约定保持一致
const (
	ImageMaxDimension    = 1600 // 最长边像素上限
	ImageBudgetKB        = 200  // 目标体积（尽力而为，质量降到下限后不保证）
	imageStartQuality    = 90
	imageQualityStep     = 10
	imageQualityFloor    = 10
	imageFallbackScale   = 0.7
	imageFallbackQuality = 70
)

// CompressImage 将原始图片重编码为体积受限的 JPEG。
// 流程：超限则等比缩放到最长边 1600px；从质量 90 起每次降 10 重编码，直到
// 满足预算或到达质量下限；仍超限则再做一次 0.7 倍缩放并以质量 70 编码。
// 解码失败直接返回错误，不回退到原始数据。
func CompressImage(data []byte, budgetKB int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	if budgetKB <= 0 {
		budgetKB = ImageBudgetKB
	}
	budget := budgetKB * 1024

	bounds := img.Bounds()
	if bounds.Dx() > ImageMaxDimension || bounds.Dy() > ImageMaxDimension {
		img = imaging.Fit(img, ImageMaxDimension, ImageMaxDimension, imaging.Lanczos)
	}

	quality := imageStartQuality
	encoded, err := encodeJPEG(img, quality)
	if err != nil {
		return nil, err
	}

	for len(encoded) > budget && quality > imageQualityFloor {
		quality -= imageQualityStep
		if encoded, err = encodeJPEG(img, quality); err != nil {
			return nil, err
		}
	}

	if len(encoded) > budget {
		w := int(float64(img.Bounds().Dx()) * imageFallbackScale)
		img = imaging.Resize(img, w, 0, imaging.Lanczos)
		if encoded, err = encodeJPEG(img, imageFallbackQuality); err != nil {
			return nil, err
		}
	}

	return encoded, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeDataURL 解析 "data:image/...;base64,xxx" 形式的图片数据，
// 也接受无前缀的裸 base64 字符串
func DecodeDataURL(s string) ([]byte, error) {
	if idx := strings.Index(s, ","); idx >= 0 && strings.HasPrefix(s, "data:") {
		s = s[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return data, nil
}
