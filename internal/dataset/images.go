package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/caliber-ml/caliber/internal/tensor"
)

// LoadImageDir decodes PNG/JPEG images from a directory and preprocesses
// them into NCHW float32 calibration inputs matching the declared input
// shape [1, C, H, W] with C of 1 or 3. Pixels are resized with
// nearest-neighbor sampling and scaled to [0, 1].
//
// Files are consumed in sorted name order so the dataset is deterministic;
// limit caps the number of samples taken (0 = all).
func LoadImageDir(dir string, inputShape []int64, limit int) ([]*tensor.Tensor, error) {
	shape, err := sampleShape(inputShape)
	if err != nil {
		return nil, err
	}
	if len(shape) != 4 || shape[0] != 1 || (shape[1] != 1 && shape[1] != 3) {
		return nil, fmt.Errorf("image preprocessing requires input shape [1 C H W] with C of 1 or 3, got %v", shape)
	}
	channels, height, width := shape[1], shape[2], shape[3]

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".png", ".jpg", ".jpeg":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no PNG/JPEG images found in %s", dir)
	}
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	samples := make([]*tensor.Tensor, 0, len(names))
	for _, name := range names {
		t, err := loadImage(filepath.Join(dir, name), channels, height, width)
		if err != nil {
			return nil, fmt.Errorf("failed to preprocess %s: %w", name, err)
		}
		samples = append(samples, t)
	}
	return samples, nil
}

// loadImage decodes, resizes, and normalizes one image into [1, C, H, W].
func loadImage(path string, channels, height, width int) (*tensor.Tensor, error) {
	f, err := os.Open(path) //nolint:gosec // dataset path is user-provided by design
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	t, err := tensor.New(tensor.Shape{1, channels, height, width}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	data := t.AsFloat32()

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	plane := height * width
	for y := 0; y < height; y++ {
		srcY := bounds.Min.Y + y*srcH/height
		for x := 0; x < width; x++ {
			srcX := bounds.Min.X + x*srcW/width
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			if channels == 1 {
				// Luma per ITU-R BT.601.
				data[y*width+x] = (0.299*float32(r) + 0.587*float32(g) + 0.114*float32(b)) / 65535
				continue
			}
			data[0*plane+y*width+x] = float32(r) / 65535
			data[1*plane+y*width+x] = float32(g) / 65535
			data[2*plane+y*width+x] = float32(b) / 65535
		}
	}
	return t, nil
}
