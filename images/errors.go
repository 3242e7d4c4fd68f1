package images

import "fmt"

// OutOfBoundsError is returned when an ROI is not fully contained in the frame
// it is validated against. The ROI is never corrected automatically.
type OutOfBoundsError struct {
	ROI         ROI
	FrameWidth  int
	FrameHeight int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("roi %s is out of bounds for %dx%d frame", e.ROI, e.FrameWidth, e.FrameHeight)
}

// EmptyRegionError is returned when an ROI has a zero or negative width or height.
type EmptyRegionError struct {
	ROI ROI
}

func (e *EmptyRegionError) Error() string {
	return fmt.Sprintf("roi %s has an empty region", e.ROI)
}
