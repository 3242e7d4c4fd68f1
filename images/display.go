package images

import "image"

// DisplayTransform maps between source-video pixels and a scaled, centered
// on-screen rendering of the frame. Interactive front ends draw the ROI in
// display coordinates; the core only ever sees source coordinates, so the
// drag rectangle has to go through ToSource first.
type DisplayTransform struct {
	// Scale is the factor applied to source pixels (fit scale times zoom).
	Scale float64
	// OffsetX, OffsetY position the scaled image inside the canvas.
	OffsetX, OffsetY int
	// SourceWidth, SourceHeight are the dimensions of the source frame.
	SourceWidth, SourceHeight int
}

// FitTransform computes the aspect-preserving fit of a srcWidth x srcHeight frame
// into a canvasWidth x canvasHeight canvas, multiplied by zoom and centered.
//
// Arguments:
//   - srcWidth, srcHeight: Source frame size in pixels.
//   - canvasWidth, canvasHeight: Size of the drawing surface.
//   - zoom: Extra zoom factor; values <= 0 are treated as 1.
//
// Returns:
//   - DisplayTransform: The mapping between the two coordinate systems.
func FitTransform(srcWidth, srcHeight, canvasWidth, canvasHeight int, zoom float64) DisplayTransform {
	if zoom <= 0 {
		zoom = 1
	}
	t := DisplayTransform{SourceWidth: srcWidth, SourceHeight: srcHeight, Scale: zoom}
	if srcWidth <= 0 || srcHeight <= 0 {
		return t
	}

	scale := min(float64(canvasWidth)/float64(srcWidth), float64(canvasHeight)/float64(srcHeight))
	t.Scale = scale * zoom

	w, h := t.displaySize()
	t.OffsetX = max(0, (canvasWidth-w)/2)
	t.OffsetY = max(0, (canvasHeight-h)/2)
	return t
}

func (t DisplayTransform) displaySize() (int, int) {
	return int(float64(t.SourceWidth) * t.Scale), int(float64(t.SourceHeight) * t.Scale)
}

// DisplayBounds returns the rectangle the scaled frame occupies on the canvas.
func (t DisplayTransform) DisplayBounds() image.Rectangle {
	w, h := t.displaySize()
	return image.Rect(t.OffsetX, t.OffsetY, t.OffsetX+w, t.OffsetY+h)
}

// ToSource converts a drag rectangle given by two canvas corners, in any order,
// into a source ROI clamped to the frame.
func (t DisplayTransform) ToSource(x1, y1, x2, y2 int) ROI {
	if t.Scale <= 0 {
		return ROI{}
	}
	left, right := min(x1, x2), max(x1, x2)
	top, bottom := min(y1, y2), max(y1, y2)

	sx1 := max(0, int(float64(left-t.OffsetX)/t.Scale))
	sy1 := max(0, int(float64(top-t.OffsetY)/t.Scale))
	sx2 := min(t.SourceWidth, int(float64(right-t.OffsetX)/t.Scale))
	sy2 := min(t.SourceHeight, int(float64(bottom-t.OffsetY)/t.Scale))

	return ROI{X: sx1, Y: sy1, Width: max(0, sx2-sx1), Height: max(0, sy2-sy1)}
}

// ToDisplay converts a source ROI into canvas coordinates for drawing.
func (t DisplayTransform) ToDisplay(r ROI) image.Rectangle {
	x := int(float64(r.X)*t.Scale) + t.OffsetX
	y := int(float64(r.Y)*t.Scale) + t.OffsetY
	w := int(float64(r.Width) * t.Scale)
	h := int(float64(r.Height) * t.Scale)
	return image.Rect(x, y, x+w, y+h)
}
