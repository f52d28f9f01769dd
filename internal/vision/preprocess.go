package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
)

// PreprocessForDetection converts img to the [3,H,W] float32 layout
// RetinaFace expects, mean/std matching the det_10g export.
func PreprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

// PreprocessForEmbedding converts an aligned face crop to the [3,H,W]
// float32 layout ArcFace expects.
func PreprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW resizes img to targetW×targetH and converts to CHW
// float32 in a single pass: pixel = (pixel - mean) / std.
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	data := make([]float32, 3*targetH*targetW)
	planeSize := targetH * targetW

	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	minX := bounds.Min.X
	minY := bounds.Min.Y

	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < targetH; y++ {
			srcY := minY + y*srcH/targetH
			for x := 0; x < targetW; x++ {
				srcX := minX + x*srcW/targetW
				off := src.PixOffset(srcX, srcY)
				pix := src.Pix[off : off+3 : off+3]
				idx := y*targetW + x
				data[idx] = (float32(pix[0]) - mean[0]) / std[0]
				data[planeSize+idx] = (float32(pix[1]) - mean[1]) / std[1]
				data[2*planeSize+idx] = (float32(pix[2]) - mean[2]) / std[2]
			}
		}
	case *image.YCbCr:
		for y := 0; y < targetH; y++ {
			srcY := minY + y*srcH/targetH
			for x := 0; x < targetW; x++ {
				srcX := minX + x*srcW/targetW
				yi := src.YOffset(srcX, srcY)
				ci := src.COffset(srcX, srcY)
				r8, g8, b8 := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				idx := y*targetW + x
				data[idx] = (float32(r8) - mean[0]) / std[0]
				data[planeSize+idx] = (float32(g8) - mean[1]) / std[1]
				data[2*planeSize+idx] = (float32(b8) - mean[2]) / std[2]
			}
		}
	default:
		for y := 0; y < targetH; y++ {
			srcY := minY + y*srcH/targetH
			for x := 0; x < targetW; x++ {
				srcX := minX + x*srcW/targetW
				r, g, b, _ := img.At(srcX, srcY).RGBA()
				idx := y*targetW + x
				data[idx] = (float32(r>>8) - mean[0]) / std[0]
				data[planeSize+idx] = (float32(g>>8) - mean[1]) / std[1]
				data[2*planeSize+idx] = (float32(b>>8) - mean[2]) / std[2]
			}
		}
	}

	return data
}

// resizeImage performs a nearest-neighbour resize, returning *image.RGBA.
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))

	if src, ok := img.(*image.RGBA); ok {
		minX := bounds.Min.X
		minY := bounds.Min.Y
		for y := 0; y < targetH; y++ {
			srcY := minY + y*srcH/targetH
			for x := 0; x < targetW; x++ {
				srcX := minX + x*srcW/targetW
				sOff := src.PixOffset(srcX, srcY)
				dOff := dst.PixOffset(x, y)
				copy(dst.Pix[dOff:dOff+4], src.Pix[sOff:sOff+4])
			}
		}
		return dst
	}

	for y := 0; y < targetH; y++ {
		srcY := bounds.Min.Y + y*srcH/targetH
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}

	return dst
}

// UpscaleWhole scales the whole image up, preserving aspect ratio, so its
// shortest side reaches at least minSize pixels. Used ahead of detection
// per the "small images are up-scaled so min(h,w) >= 480" rule; images
// already large enough are returned unchanged, with scale 1.0.
func UpscaleWhole(img image.Image, minSize int) (image.Image, float64) {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	shortest := w
	if h < shortest {
		shortest = h
	}
	if shortest >= minSize || shortest <= 0 {
		return img, 1.0
	}

	scale := float64(minSize) / float64(shortest)
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	return resizeImage(img, newW, newH), scale
}

// CropFace extracts a face region from img given a pixel bounding box,
// padding by pct on each side and clamping to image bounds.
func CropFace(img image.Image, bbox [4]float32, pct float32) image.Image {
	bounds := img.Bounds()

	x1 := int(bbox[0])
	y1 := int(bbox[1])
	x2 := int(bbox[2])
	y2 := int(bbox[3])

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}

	padW := int(float32(w) * pct)
	padH := int(float32(h) * pct)
	x1 -= padW
	y1 -= padH
	x2 += padW
	y2 += padH

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}

	rect := image.Rect(x1, y1, x2, y2)

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(rect)
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}
	return crop
}

// SquareResize pads img to a square (short side padded, not cropped) and
// resizes to size×size — grounded on register_db.py's crop_face_image,
// which squares crops before upload so thumbnails never distort faces.
func SquareResize(img image.Image, size int) image.Image {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	side := w
	if h > side {
		side = h
	}

	square := image.NewRGBA(image.Rect(0, 0, side, side))
	offX := (side - w) / 2
	offY := (side - h) / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			square.Set(x+offX, y+offY, img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return resizeImage(square, size, size)
}

// EncodeJPEG encodes img as JPEG at the given quality.
func EncodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}
