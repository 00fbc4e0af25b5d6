package capture

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumSections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total   int64
		section int64
		want    int
	}{
		{8295, 2000, 5},
		{8000, 2000, 4},
		{2000, 2000, 1},
		{1, 2000, 1},
		{0, 2000, 0},
		{2000, 0, 0},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(fmt.Sprintf("%d_%d", tc.total, tc.section), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, numSections(tc.total, tc.section))
		})
	}
}

// writeBand writes a solid-color PNG for stitch tests.
func writeBand(t *testing.T, dir string, i int, width, height int, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(dir, fmt.Sprintf("band-%03d.png", i))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestStitchBandsOffsetsAndLastBandHeight(t *testing.T) {
	t.Parallel()

	const (
		width   = 40
		section = 2000
		total   = 8295
	)
	dir := t.TempDir()

	colors := []color.RGBA{
		{R: 255, A: 255},
		{G: 255, A: 255},
		{B: 255, A: 255},
		{R: 255, G: 255, A: 255},
		{R: 255, B: 255, A: 255},
	}
	var bands []string
	for i, c := range colors {
		bands = append(bands, writeBand(t, dir, i, width, section, c))
	}

	out := filepath.Join(dir, "stitched.png")
	require.NoError(t, stitchBands(bands, width, total, section, out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)

	bounds := img.Bounds()
	assert.Equal(t, width, bounds.Dx())
	assert.Equal(t, total, bounds.Dy())

	// Sample the first row of each band offset: band i must sit at i*section.
	for i, c := range colors {
		r, g, b, _ := img.At(0, i*section).RGBA()
		wantR, wantG, wantB, _ := c.RGBA()
		assert.Equal(t, wantR, r, "band %d red at offset %d", i, i*section)
		assert.Equal(t, wantG, g, "band %d green at offset %d", i, i*section)
		assert.Equal(t, wantB, b, "band %d blue at offset %d", i, i*section)
	}

	// The last band only draws total-(n-1)*section = 295 rows; the final
	// drawn row carries its color and nothing overshoots the canvas.
	lastTop := (len(colors) - 1) * section
	r, _, b, _ := img.At(0, lastTop+294).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), b)
	assert.Equal(t, total-1, lastTop+294)
}

func TestStitchBandsRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	err := stitchBands(nil, 10, 100, 50, filepath.Join(t.TempDir(), "out.png"))
	require.Error(t, err)
}

func TestStitchBandsFailureLeavesNoOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	missing := filepath.Join(dir, "band-000.png")
	out := filepath.Join(dir, "out.png")

	err := stitchBands([]string{missing}, 10, 100, 100, out)
	require.Error(t, err)
	assert.NoFileExists(t, out)
}
