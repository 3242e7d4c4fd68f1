// Package images - Frame and region-of-interest geometry.
package images

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ROI is a rectangular region of interest in source-video pixel coordinates.
//
// ROI is a plain comparable value: two ROIs are equal when their origin and size
// are equal, and an ROI can be used directly as a map key.
type ROI struct {
	// X is the column of the top-left corner.
	X int `json:"x" yaml:"x"`
	// Y is the row of the top-left corner.
	Y int `json:"y" yaml:"y"`
	// Width of the region in pixels.
	Width int `json:"width" yaml:"width"`
	// Height of the region in pixels.
	Height int `json:"height" yaml:"height"`
}

// NewROI builds an ROI from its origin and size. It does not validate anything;
// call Validate against the frame dimensions before using it.
func NewROI(x, y, width, height int) ROI {
	return ROI{X: x, Y: y, Width: width, Height: height}
}

// FullFrame returns the ROI covering an entire width x height frame.
func FullFrame(width, height int) ROI {
	return ROI{Width: width, Height: height}
}

// ParseROI parses the "x,y,width,height" form used on the command line.
//
// Arguments:
//   - s: Four comma separated integers.
//
// Returns:
//   - ROI: The parsed region (not validated against any frame).
//   - error: If the string does not contain exactly four integers.
func ParseROI(s string) (ROI, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return ROI{}, errors.Errorf("roi %q: expected x,y,width,height", s)
	}

	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return ROI{}, errors.Wrapf(err, "roi %q: component %d", s, i)
		}
		v[i] = n
	}

	return NewROI(v[0], v[1], v[2], v[3]), nil
}

// Validate checks that the ROI lies completely inside a frameWidth x frameHeight
// frame and returns it unchanged.
//
// Arguments:
//   - frameWidth: Width of the frame the ROI will be applied to.
//   - frameHeight: Height of the frame the ROI will be applied to.
//
// Returns:
//   - ROI: The receiver, unchanged, when it is valid.
//   - error: *EmptyRegionError for a zero or negative size, *OutOfBoundsError when any
//     part of the region falls outside the frame.
func (r ROI) Validate(frameWidth, frameHeight int) (ROI, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return ROI{}, &EmptyRegionError{ROI: r}
	}
	// Compare against the remaining room so huge origins or sizes cannot wrap.
	if r.X < 0 || r.Y < 0 || r.X > frameWidth || r.Y > frameHeight ||
		r.Width > frameWidth-r.X || r.Height > frameHeight-r.Y {
		return ROI{}, &OutOfBoundsError{ROI: r, FrameWidth: frameWidth, FrameHeight: frameHeight}
	}
	return r, nil
}

// Clamp intersects the ROI with the frame bounds. Callers that want clamping
// must ask for it explicitly; Validate never clamps. The result may be empty
// when the ROI lies completely outside the frame.
func (r ROI) Clamp(frameWidth, frameHeight int) ROI {
	x1 := max(0, r.X)
	y1 := max(0, r.Y)
	x2 := min(frameWidth, saturatingAdd(r.X, r.Width))
	y2 := min(frameHeight, saturatingAdd(r.Y, r.Height))
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return ROI{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

func saturatingAdd(a, b int) int {
	if b > 0 && a > math.MaxInt-b {
		return math.MaxInt
	}
	if b < 0 && a < math.MinInt-b {
		return math.MinInt
	}
	return a + b
}

// Empty reports whether the region has no pixels.
func (r ROI) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Area returns the number of pixels in the region.
func (r ROI) Area() int {
	if r.Empty() {
		return 0
	}
	return r.Width * r.Height
}

// Rect converts the ROI to an image.Rectangle (Max is exclusive).
func (r ROI) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// FromRect converts an image.Rectangle to an ROI.
func FromRect(rect image.Rectangle) ROI {
	rect = rect.Canon()
	return ROI{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}
}

func (r ROI) String() string {
	return fmt.Sprintf("x=%d,y=%d,w=%d,h=%d", r.X, r.Y, r.Width, r.Height)
}
