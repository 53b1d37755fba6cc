// internal/img/resize.go
package img

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// FitWithin scales src down so it fits inside a boxW x boxH bounding box,
// keeping its aspect ratio. A zero dimension leaves that axis unbounded. If the
// source already fits, it is returned unchanged; it is never upscaled.
func FitWithin(src image.Image, boxW, boxH int) image.Image {
	b := src.Bounds()
	if boxW <= 0 {
		boxW = math.MaxInt32
	}
	if boxH <= 0 {
		boxH = math.MaxInt32
	}
	if b.Dx() <= boxW && b.Dy() <= boxH {
		return src
	}
	return imaging.Fit(src, boxW, boxH, imaging.Lanczos)
}
