package compose

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// framed draws a dark w×h block at (x,y) inside a white W×H image.
func framed(W, H, x, y, w, h int) *image.RGBA {
	img := solid(W, H, color.White)
	for j := y; j < y+h; j++ {
		for i := x; i < x+w; i++ {
			img.Set(i, j, color.RGBA{R: 20, G: 30, B: 40, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func decodeJPEG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	return img
}

func TestCombineDimensions(t *testing.T) {
	tests := []struct {
		name      string
		sizes     [][2]int
		wantWidth int
		wantH     int
	}{
		{"single", [][2]int{{120, 200}}, 120, 200},
		{"equal heights", [][2]int{{100, 150}, {80, 150}}, 180, 150},
		{"scale down taller", [][2]int{{50, 100}, {80, 200}}, 90, 100},
		{"three papers", [][2]int{{300, 600}, {200, 300}, {150, 450}}, 150 + 200 + 100, 300},
		{"rounding", [][2]int{{101, 333}, {77, 100}}, 30 + 77, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			paths := make([]string, len(tt.sizes))
			trims := make([]bool, len(tt.sizes))
			for i, s := range tt.sizes {
				paths[i] = writePNG(t, dir, filepath.Base(t.Name())+string(rune('a'+i))+".png", solid(s[0], s[1], color.Black))
			}

			out := filepath.Join(dir, "out", "2026-02-28-test.jpg")
			got, err := New(90).Combine(paths, trims, out)
			require.NoError(t, err)
			assert.Equal(t, out, got)

			b := decodeJPEG(t, out).Bounds()
			assert.Equal(t, tt.wantH, b.Dy())
			assert.InDelta(t, tt.wantWidth, b.Dx(), 1)
		})
	}
}

func TestCombinePastesInOrder(t *testing.T) {
	dir := t.TempDir()
	red := writePNG(t, dir, "red.png", solid(40, 40, color.RGBA{R: 255, A: 255}))
	blue := writePNG(t, dir, "blue.png", solid(40, 40, color.RGBA{B: 255, A: 255}))

	out := filepath.Join(dir, "out.jpg")
	_, err := New(100).Combine([]string{red, blue}, []bool{false, false}, out)
	require.NoError(t, err)

	img := decodeJPEG(t, out)
	r, _, b, _ := img.At(10, 20).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, b>>8, uint32(60))
	r, _, b, _ = img.At(70, 20).RGBA()
	assert.Less(t, r>>8, uint32(60))
	assert.Greater(t, b>>8, uint32(200))
}

func TestCombineTrims(t *testing.T) {
	dir := t.TempDir()
	// 60x100 page with content 40x50; trimmed it is 40x50.
	padded := writePNG(t, dir, "padded.png", framed(60, 100, 10, 20, 40, 50))
	plain := writePNG(t, dir, "plain.png", solid(30, 50, color.Black))

	out := filepath.Join(dir, "out.jpg")
	_, err := New(90).Combine([]string{padded, plain}, []bool{true, false}, out)
	require.NoError(t, err)

	b := decodeJPEG(t, out).Bounds()
	assert.Equal(t, 50, b.Dy())
	assert.InDelta(t, 70, b.Dx(), 1)
}

func TestCombineErrors(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, "a.png", solid(10, 10, color.Black))
	garbage := filepath.Join(dir, "garbage.jpg")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0o644))
	out := filepath.Join(dir, "out.jpg")
	c := New(90)

	_, err := c.Combine(nil, nil, out)
	assert.ErrorIs(t, err, ErrNoImages)

	_, err = c.Combine([]string{img}, []bool{true, false}, out)
	assert.Error(t, err)

	_, err = c.Combine([]string{img, garbage}, []bool{false, false}, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), garbage)

	_, err = c.Combine([]string{filepath.Join(dir, "missing.png")}, []bool{false}, out)
	assert.Error(t, err)

	assert.NoFileExists(t, out)
}

func TestTrim(t *testing.T) {
	t.Run("crops to content", func(t *testing.T) {
		got := Trim(framed(100, 80, 15, 5, 30, 40))
		assert.Equal(t, image.Rect(0, 0, 30, 40), got.Bounds())
	})

	t.Run("near white counts as background", func(t *testing.T) {
		img := framed(50, 50, 10, 10, 5, 5)
		img.Set(0, 0, color.RGBA{R: 246, G: 250, B: 252, A: 255})
		got := Trim(img)
		assert.Equal(t, image.Rect(0, 0, 5, 5), got.Bounds())
	})

	t.Run("blank stays unchanged", func(t *testing.T) {
		got := Trim(solid(40, 30, color.White))
		assert.Equal(t, image.Rect(0, 0, 40, 30), got.Bounds())
	})

	t.Run("idempotent", func(t *testing.T) {
		for _, img := range []image.Image{
			framed(100, 80, 15, 5, 30, 40),
			framed(10, 10, 0, 0, 10, 10),
			solid(20, 20, color.White),
		} {
			once := Trim(img)
			twice := Trim(once)
			assert.Equal(t, once.Bounds(), twice.Bounds())
		}
	})
}

func TestNewClampsQuality(t *testing.T) {
	assert.Equal(t, DefaultQuality, New(0).quality)
	assert.Equal(t, DefaultQuality, New(101).quality)
	assert.Equal(t, 75, New(75).quality)
}
