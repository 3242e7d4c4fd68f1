package images

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// Frame is one decoded video frame: a Width x Height grid of interleaved 8-bit
// samples with Channels samples per pixel.
//
// Frames are owned by the video source that produced them. A consumer borrows a
// frame until it asks the source for the next one; sources reuse Pix between reads.
type Frame struct {
	Width    int
	Height   int
	Channels int
	// Stride is the number of bytes between the starts of two consecutive rows.
	Stride int
	Pix    []uint8
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height, channels int) *Frame {
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Stride:   width * channels,
		Pix:      make([]uint8, width*height*channels),
	}
}

// Reset resizes the frame in place, reusing Pix when it is large enough.
func (f *Frame) Reset(width, height, channels int) {
	n := width * height * channels
	if cap(f.Pix) < n {
		f.Pix = make([]uint8, n)
	}
	f.Pix = f.Pix[:n]
	f.Width = width
	f.Height = height
	f.Channels = channels
	f.Stride = width * channels
}

// Check verifies that the frame header is consistent with its pixel buffer.
func (f *Frame) Check() error {
	if f == nil {
		return errors.New("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 || f.Channels <= 0 {
		return errors.Errorf("invalid frame geometry %dx%dx%d", f.Width, f.Height, f.Channels)
	}
	if f.Stride < f.Width*f.Channels {
		return errors.Errorf("frame stride %d shorter than row of %d samples", f.Stride, f.Width*f.Channels)
	}
	if len(f.Pix) < f.Stride*(f.Height-1)+f.Width*f.Channels {
		return errors.Errorf("frame buffer of %d bytes too small for %dx%dx%d", len(f.Pix), f.Width, f.Height, f.Channels)
	}
	return nil
}

// Bounds returns the frame rectangle anchored at the origin.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Fill sets every sample of every channel to v.
func (f *Frame) Fill(v uint8) {
	for i := range f.Pix {
		f.Pix[i] = v
	}
}

// FillRect sets every sample of every channel inside rect to v.
func (f *Frame) FillRect(rect image.Rectangle, v uint8) {
	rect = rect.Intersect(f.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := f.Pix[y*f.Stride : y*f.Stride+f.Width*f.Channels]
		for i := rect.Min.X * f.Channels; i < rect.Max.X*f.Channels; i++ {
			row[i] = v
		}
	}
}

// SetPixel writes the channel samples of a single pixel.
func (f *Frame) SetPixel(x, y int, samples ...uint8) {
	off := y*f.Stride + x*f.Channels
	copy(f.Pix[off:off+f.Channels], samples)
}

// Pixel returns the channel samples of a single pixel. The returned slice
// aliases the frame buffer.
func (f *Frame) Pixel(x, y int) []uint8 {
	off := y*f.Stride + x*f.Channels
	return f.Pix[off : off+f.Channels]
}

// ToImage copies the frame into a Go image. Single channel frames become
// *image.Gray, three channel frames are read as BGR (OpenCV order) and four
// channel frames as BGRA.
func (f *Frame) ToImage() (image.Image, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}

	switch f.Channels {
	case 1:
		img := image.NewGray(f.Bounds())
		for y := 0; y < f.Height; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+f.Width], f.Pix[y*f.Stride:])
		}
		return img, nil
	case 3, 4:
		img := image.NewRGBA(f.Bounds())
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				p := f.Pixel(x, y)
				a := uint8(255)
				if f.Channels == 4 {
					a = p[3]
				}
				img.SetRGBA(x, y, color.RGBA{R: p[2], G: p[1], B: p[0], A: a})
			}
		}
		return img, nil
	default:
		return nil, errors.Errorf("cannot convert %d channel frame to an image", f.Channels)
	}
}
