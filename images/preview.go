package images

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// PreviewOutline is the ROI outline color used by RenderPreview.
var PreviewOutline = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// RenderPreview renders a frame with the ROI outlined, downscaled so that it is
// at most maxWidth pixels wide. A maxWidth <= 0 or larger than the frame keeps
// the source size.
//
// Arguments:
//   - frame: The frame to render (usually the first frame of the video).
//   - roi: The region to outline, in source coordinates.
//   - maxWidth: Maximum preview width.
//
// Returns:
//   - *image.RGBA: The preview image.
//   - error: If the frame cannot be converted.
func RenderPreview(frame *Frame, roi ROI, maxWidth int) (*image.RGBA, error) {
	src, err := frame.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert frame")
	}

	scale := 1.0
	if maxWidth > 0 && maxWidth < frame.Width {
		scale = float64(maxWidth) / float64(frame.Width)
		src = resize.Resize(uint(maxWidth), 0, src, resize.Lanczos3)
	}

	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)

	t := DisplayTransform{Scale: scale, SourceWidth: frame.Width, SourceHeight: frame.Height}
	drawOutline(out, t.ToDisplay(roi), PreviewOutline, 2)
	return out, nil
}

func drawOutline(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	if r.Empty() {
		return
	}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), &image.Uniform{C: c}, image.Point{}, draw.Src)
	}
}
