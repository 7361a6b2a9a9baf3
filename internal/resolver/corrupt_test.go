package resolver

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/covers/internal/compose"
	"github.com/pders01/covers/internal/source"
)

func coverJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 180))
	for x := 0; x < 120; x++ {
		for y := 0; y < 180; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 2), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestResolveSkipsTruncatedImage(t *testing.T) {
	full := coverJPEG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		switch r.URL.Path {
		case "/short/2026-02-28.jpg":
			_, _ = w.Write(full[:len(full)/3])
		case "/full/2026-02-28.jpg":
			_, _ = w.Write(full)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	reg, err := source.NewRegistry(source.NewClient(5*time.Second, "covers-test/1.0", source.NewHostLimiter(0, 1)))
	require.NoError(t, err)
	r, c := newTestResolver(t, reg)

	short := source.Descriptor{Kind: source.KindDirect, URL: srv.URL + "/short/{ISO}.jpg"}
	good := source.Descriptor{Kind: source.KindDirect, URL: srv.URL + "/full/{ISO}.jpg"}

	path, err := r.Resolve(context.Background(), paper("nypost", short, good), feb28)
	require.NoError(t, err)

	cached, ok := c.Lookup("nypost", feb28)
	require.True(t, ok)
	assert.Equal(t, cached, path)

	out := filepath.Join(t.TempDir(), "out.jpg")
	got, err := compose.New(85).Combine([]string{path}, []bool{false}, out)
	require.NoError(t, err)
	assert.Equal(t, out, got)
}
