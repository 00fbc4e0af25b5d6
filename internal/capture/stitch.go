package capture

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
)

// numSections returns how many bands of sectionHeight cover totalHeight.
func numSections(totalHeight, sectionHeight int64) int {
	if totalHeight <= 0 || sectionHeight <= 0 {
		return 0
	}
	return int((totalHeight + sectionHeight - 1) / sectionHeight)
}

// stitchBands composites band images onto a blank canvas of
// width x totalHeight and writes the result to outputPath. Band i lands at
// vertical offset i*sectionHeight; the final band only draws the remainder
// so it never overshoots the canvas.
func stitchBands(bandPaths []string, width, totalHeight, sectionHeight int64, outputPath string) error {
	if len(bandPaths) == 0 {
		return fmt.Errorf("no bands to stitch")
	}
	canvas := image.NewRGBA(image.Rect(0, 0, int(width), int(totalHeight)))

	for i, bandPath := range bandPaths {
		band, err := loadPNG(bandPath)
		if err != nil {
			return fmt.Errorf("load band %d: %w", i, err)
		}
		offset := int64(i) * sectionHeight
		drawHeight := sectionHeight
		if i == len(bandPaths)-1 {
			drawHeight = totalHeight - int64(len(bandPaths)-1)*sectionHeight
		}
		rect := image.Rect(0, int(offset), int(width), int(offset+drawHeight))
		draw.Draw(canvas, rect, band, band.Bounds().Min, draw.Src)
	}

	return writePNGAtomic(outputPath, canvas)
}

func loadPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return img, nil
}

func writePNGAtomic(path string, img image.Image) error {
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create stitched image: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode stitched image: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close stitched image: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename stitched image: %w", err)
	}
	return nil
}
