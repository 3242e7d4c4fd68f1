// Package intensity reduces the pixels of a frame region to a single intensity value.
package intensity

import (
	"github.com/nvr-ai/go-roi/images"
	"github.com/pkg/errors"
)

// Reducer computes a scalar statistic from a frame region.
//
// Implementations must be pure: the same frame and ROI always give the same
// value, and the frame is not retained after Reduce returns.
type Reducer interface {
	Reduce(frame *images.Frame, roi images.ROI) (float64, error)
}

// ReducerFunc adapts a plain function to the Reducer interface.
type ReducerFunc func(frame *images.Frame, roi images.ROI) (float64, error)

// Reduce calls f(frame, roi).
func (f ReducerFunc) Reduce(frame *images.Frame, roi images.ROI) (float64, error) {
	return f(frame, roi)
}

// MeanReducer returns the mean intensity of the ROI.
//
// Multi-channel pixels are first flattened to a grayscale-equivalent value with
// an unweighted channel mean, then the spatial mean is taken over all pixels of
// the region. Both steps are plain means over equally sized groups, so the value
// is computed as one integer sum divided by width*height*channels, which is
// exactly the same quantity without intermediate rounding.
type MeanReducer struct{}

// Reduce implements Reducer.
//
// Arguments:
//   - frame: The borrowed frame.
//   - roi: The region to average; it must lie inside the frame.
//
// Returns:
//   - float64: The mean intensity.
//   - error: *images.EmptyRegionError for a degenerate ROI, *images.OutOfBoundsError
//     if the ROI does not fit the frame, or a frame geometry error.
func (MeanReducer) Reduce(frame *images.Frame, roi images.ROI) (float64, error) {
	if roi.Empty() {
		return 0, &images.EmptyRegionError{ROI: roi}
	}
	if err := frame.Check(); err != nil {
		return 0, errors.Wrap(err, "reduce")
	}
	if _, err := roi.Validate(frame.Width, frame.Height); err != nil {
		return 0, err
	}

	c := frame.Channels
	var sum uint64
	for y := roi.Y; y < roi.Y+roi.Height; y++ {
		start := y*frame.Stride + roi.X*c
		for _, v := range frame.Pix[start : start+roi.Width*c] {
			sum += uint64(v)
		}
	}

	return float64(sum) / (float64(roi.Area()) * float64(c)), nil
}

// Mean is a convenience wrapper around MeanReducer.
func Mean(frame *images.Frame, roi images.ROI) (float64, error) {
	return MeanReducer{}.Reduce(frame, roi)
}
