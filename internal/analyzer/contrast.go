package analyzer

import (
	"errors"
	"image"
	"image/color"
	"sort"
)

var ErrEmptyImage = errors.New("empty image")

// ContrastDetector marks every pixel that differs from the dominant
// background colour by more than Threshold on any channel and groups the
// marked pixels into 4-connected blobs.
type ContrastDetector struct {
	MinArea   int   // blobs smaller than this are dropped
	Threshold uint8 // per-channel difference from the background
}

func NewContrastDetector() *ContrastDetector {
	return &ContrastDetector{
		MinArea:   4,
		Threshold: 8,
	}
}

// Detect returns the blobs sorted by area, largest first. Coordinates are
// relative to img.Bounds().Min.
func (d *ContrastDetector) Detect(img image.Image) ([]Blob, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptyImage
	}

	px := toNRGBA(img)
	bg := dominant(px)
	mask := d.foreground(px, bg)

	var blobs []Blob
	visited := make([]bool, len(mask))
	for i, on := range mask {
		if !on || visited[i] {
			continue
		}
		blob := fill(px, mask, visited, i)
		if blob.Area >= d.MinArea {
			blobs = append(blobs, blob)
		}
	}

	sort.SliceStable(blobs, func(i, j int) bool {
		return blobs[i].Area > blobs[j].Area
	})
	return blobs, nil
}

// Background returns the colour the detector treats as background in img.
func Background(img image.Image) color.NRGBA {
	return dominant(toNRGBA(img))
}

// toNRGBA copies the image into a zero-origin NRGBA buffer.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetNRGBA(x-b.Min.X, y-b.Min.Y, color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA))
		}
	}
	return out
}

// dominant is the most frequent colour; fields cover the frame, so it
// wins over any disc.
func dominant(img *image.NRGBA) color.NRGBA {
	counts := make(map[color.NRGBA]int)
	var best color.NRGBA
	bestN := 0
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := img.NRGBAAt(x, y)
			counts[c]++
			if counts[c] > bestN {
				best, bestN = c, counts[c]
			}
		}
	}
	return best
}

func (d *ContrastDetector) foreground(img *image.NRGBA, bg color.NRGBA) []bool {
	b := img.Bounds()
	mask := make([]bool, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := img.NRGBAAt(x, y)
			if diff(c.R, bg.R) > d.Threshold || diff(c.G, bg.G) > d.Threshold || diff(c.B, bg.B) > d.Threshold {
				mask[y*b.Dx()+x] = true
			}
		}
	}
	return mask
}

func diff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

// fill walks one component starting at index start and accumulates its
// bounds, centroid and mean colour.
func fill(img *image.NRGBA, mask, visited []bool, start int) Blob {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	minX, minY := w, h
	maxX, maxY := -1, -1
	var sumX, sumY, sumR, sumG, sumB, sumA, area int

	stack := []int{start}
	visited[start] = true
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w

		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
		sumX += x
		sumY += y
		c := img.NRGBAAt(x, y)
		sumR += int(c.R)
		sumG += int(c.G)
		sumB += int(c.B)
		sumA += int(c.A)
		area++

		for _, n := range [4][2]int{{x + 1, y}, {x - 1, y}, {x, y + 1}, {x, y - 1}} {
			if n[0] < 0 || n[0] >= w || n[1] < 0 || n[1] >= h {
				continue
			}
			j := n[1]*w + n[0]
			if mask[j] && !visited[j] {
				visited[j] = true
				stack = append(stack, j)
			}
		}
	}

	return Blob{
		Rect:   image.Rect(minX, minY, maxX+1, maxY+1),
		Center: image.Pt((2*sumX+area)/(2*area), (2*sumY+area)/(2*area)),
		Area:   area,
		Color: color.NRGBA{
			R: uint8(sumR / area),
			G: uint8(sumG / area),
			B: uint8(sumB / area),
			A: uint8(sumA / area),
		},
	}
}
