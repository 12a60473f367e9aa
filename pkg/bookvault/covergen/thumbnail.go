package covergen

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/nfnt/resize"
)

// encodeThumbnail scales the image to cover the fixed canvas (never
// stretching), center-crops the overflow, and encodes the result as JPEG.
func encodeThumbnail(img image.Image, width, height, quality int) ([]byte, error) {
	fitted := coverFit(img, width, height)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fitted, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// coverFit scales img so it fully covers a width×height canvas, preserving
// aspect ratio, then crops the centered window.
func coverFit(img image.Image, width, height int) image.Image {
	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()
	if srcW == 0 || srcH == 0 {
		return image.NewRGBA(image.Rect(0, 0, width, height))
	}

	// Scale along the dimension that leaves no uncovered canvas.
	var scaled image.Image
	if srcW*height >= srcH*width {
		scaled = resize.Resize(0, uint(height), img, resize.Lanczos3)
	} else {
		scaled = resize.Resize(uint(width), 0, img, resize.Lanczos3)
	}

	sb := scaled.Bounds()
	offsetX := sb.Min.X + (sb.Dx()-width)/2
	offsetY := sb.Min.Y + (sb.Dy()-height)/2

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), scaled, image.Pt(offsetX, offsetY), draw.Src)
	return out
}
