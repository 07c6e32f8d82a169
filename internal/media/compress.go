package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// maxSourcePixels rejects uploads whose header claims dimensions large
// enough to exhaust memory on decode.
const maxSourcePixels = 64 << 20

var errEncoderPanic = errors.New("image encoder panicked")

// Compressor re-encodes uploaded image bytes before they are stored.
type Compressor interface {
	Compress(ctx context.Context, data []byte) ([]byte, error)
}

// JPEGCompressor scales a JPEG to a fixed Size×Size RGBA image and encodes it
// again as JPEG at Quality.
type JPEGCompressor struct {
	Size    int
	Quality int
}

// NewJPEGCompressor creates a JPEGCompressor.
func NewJPEGCompressor(size, quality int) *JPEGCompressor {
	return &JPEGCompressor{Size: size, Quality: quality}
}

// Compress decodes data and returns the re-encoded thumbnail.
func (c *JPEGCompressor) Compress(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read jpeg header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSourcePixels {
		return nil, fmt.Errorf("jpeg dimensions %dx%d out of range", cfg.Width, cfg.Height)
	}

	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, c.Size, c.Size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: c.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// isolate runs fn and converts a panic into an error, confining a fault in
// a decoder or encoder to the upload that triggered it.
func isolate(fn func() ([]byte, error)) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", errEncoderPanic, r)
		}
	}()
	return fn()
}
