package images

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// FormatFromPath picks the format from a file extension, defaulting to PNG.
func FormatFromPath(path string) ImageFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	default:
		return FormatPNG
	}
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case FormatPNG:
		return errors.Wrap(png.Encode(w, img), "encode png")
	case FormatJPEG:
		return errors.Wrap(jpeg.Encode(w, img, &jpeg.Options{Quality: 95}), "encode jpeg")
	default:
		return errors.Errorf("unsupported image format %q", format)
	}
}
