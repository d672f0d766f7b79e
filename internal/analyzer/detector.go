package analyzer

import (
	"image"
	"image/color"
)

// Blob is a connected region of a rendered frame that stands out from
// the background.
type Blob struct {
	Rect   image.Rectangle
	Center image.Point // centroid, rounded
	Area   int         // pixels
	Color  color.NRGBA // mean colour of the region
}

// Contains reports whether p falls inside the blob's bounding box.
func (b Blob) Contains(p image.Point) bool {
	return p.In(b.Rect)
}

// Detector finds stimuli in a rendered frame.
type Detector interface {
	Detect(img image.Image) ([]Blob, error)
}

// Nearest returns the blob whose centre is closest to p.
func Nearest(blobs []Blob, p image.Point) (Blob, bool) {
	best, bestD := -1, 0
	for i, b := range blobs {
		d := b.Center.Sub(p)
		dist := d.X*d.X + d.Y*d.Y
		if best < 0 || dist < bestD {
			best, bestD = i, dist
		}
	}
	if best < 0 {
		return Blob{}, false
	}
	return blobs[best], true
}
