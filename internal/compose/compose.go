// Package compose stitches front pages side by side into one JPEG.
package compose

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultQuality = 90

	// whiteTolerance is the per-channel distance from pure white below
	// which a pixel counts as background when trimming.
	whiteTolerance = 10
)

var (
	background = color.RGBA{R: 250, G: 250, B: 250, A: 255}

	ErrNoImages = errors.New("no images to combine")
)

type Compositor struct {
	quality int
}

// New returns a compositor encoding at the given JPEG quality.
func New(quality int) *Compositor {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Compositor{quality: quality}
}

// Combine scales every image at paths to the smallest height among them,
// optionally trimming whitespace first, and pastes them left to right onto
// one canvas written to outPath as JPEG.
func (c *Compositor) Combine(paths []string, trims []bool, outPath string) (string, error) {
	if len(paths) == 0 {
		return "", ErrNoImages
	}
	if len(trims) != len(paths) {
		return "", fmt.Errorf("combine: %d paths but %d trim flags", len(paths), len(trims))
	}

	images := make([]image.Image, len(paths))
	for i, p := range paths {
		img, err := decodeFile(p)
		if err != nil {
			return "", err
		}
		if trims[i] {
			img = Trim(img)
		}
		images[i] = img
	}

	canvas := Stitch(images)

	if err := c.writeJPEG(canvas, outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

// Stitch resizes images to a common height and lays them out left to right
// without gaps.
func Stitch(images []image.Image) *image.RGBA {
	target := math.MaxInt
	for _, img := range images {
		if h := img.Bounds().Dy(); h < target {
			target = h
		}
	}
	if target < 1 {
		target = 1
	}

	scaled := make([]image.Image, len(images))
	total := 0
	for i, img := range images {
		scaled[i] = resizeToHeight(img, target)
		total += scaled[i].Bounds().Dx()
	}

	canvas := image.NewRGBA(image.Rect(0, 0, total, target))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	x := 0
	for _, img := range scaled {
		w := img.Bounds().Dx()
		draw.Draw(canvas, image.Rect(x, 0, x+w, target), img, img.Bounds().Min, draw.Src)
		x += w
	}
	return canvas
}

func resizeToHeight(img image.Image, target int) image.Image {
	b := img.Bounds()
	if b.Dy() == target {
		return img
	}
	w := int(math.Round(float64(b.Dx()) * float64(target) / float64(b.Dy())))
	if w < 1 {
		w = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, target))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Trim crops img to the bounding box of pixels that are not near-white.
// A blank image is returned unchanged. Trim(Trim(x)) equals Trim(x).
func Trim(img image.Image) image.Image {
	rgba := flatten(img)
	b := rgba.Bounds()

	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if isBackground(rgba.RGBAAt(x, y)) {
				continue
			}
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}
	if maxX < minX || maxY < minY {
		return rgba
	}

	box := image.Rect(minX, minY, maxX+1, maxY+1)
	if box == b {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.Draw(out, out.Bounds(), rgba, box.Min, draw.Src)
	return out
}

func isBackground(c color.RGBA) bool {
	return 255-int(c.R) <= whiteTolerance &&
		255-int(c.G) <= whiteTolerance &&
		255-int(c.B) <= whiteTolerance
}

// flatten converts img to opaque RGBA with origin (0,0), compositing any
// transparency over white.
func flatten(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) && rgba.Opaque() {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return flatten(img), nil
}

func (c *Compositor) writeJPEG(img image.Image, outPath string) error {
	dir := filepath.Dir(outPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".compose-*")
	if err != nil {
		return fmt.Errorf("creating composite: %w", err)
	}
	tmpName := tmp.Name()

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: c.quality}); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encoding composite: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing composite: %w", err)
	}
	if err := os.Rename(tmpName, outPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing composite: %w", err)
	}
	return nil
}
