package intensity

import (
	"sync/atomic"

	"github.com/nvr-ai/go-roi/images"
	"github.com/pkg/errors"
)

// ITU-R BT.601 luma coefficients in 14-bit fixed point, the weights OpenCV
// uses for its BGR to gray conversion.
const (
	lumaShift = 14
	lumaR     = 4899  // 0.299
	lumaG     = 9617  // 0.587
	lumaB     = 1868  // 0.114
	lumaRound = 1 << (lumaShift - 1)
)

// parallelMinPixels is the ROI area above which rows are summed concurrently.
const parallelMinPixels = 1 << 16

// LumaReducer returns the mean BT.601 luma of the ROI.
//
// Color pixels (BGR or BGRA) are converted to an 8-bit gray level first,
// rounding per pixel exactly like OpenCV's cvtColor(BGR2GRAY), so the value
// matches analyses that grayscale the frame before averaging. Single channel
// frames are averaged as-is. Alpha is ignored.
type LumaReducer struct{}

// Reduce implements Reducer.
func (LumaReducer) Reduce(frame *images.Frame, roi images.ROI) (float64, error) {
	if roi.Empty() {
		return 0, &images.EmptyRegionError{ROI: roi}
	}
	if err := frame.Check(); err != nil {
		return 0, errors.Wrap(err, "reduce")
	}
	if frame.Channels == 1 {
		return MeanReducer{}.Reduce(frame, roi)
	}
	if frame.Channels < 3 {
		return 0, errors.Errorf("luma needs 1, 3 or 4 channels, got %d", frame.Channels)
	}
	if _, err := roi.Validate(frame.Width, frame.Height); err != nil {
		return 0, err
	}

	var total atomic.Uint64
	sumRows := func(start, end int) {
		var sum uint64
		for y := roi.Y + start; y < roi.Y+end; y++ {
			row := frame.Pix[y*frame.Stride+roi.X*frame.Channels:]
			for x := 0; x < roi.Width; x++ {
				p := row[x*frame.Channels:]
				sum += uint64((int(p[0])*lumaB + int(p[1])*lumaG + int(p[2])*lumaR + lumaRound) >> lumaShift)
			}
		}
		total.Add(sum)
	}

	if roi.Area() >= parallelMinPixels {
		images.Parallel(roi.Height, sumRows)
	} else {
		sumRows(0, roi.Height)
	}
	return float64(total.Load()) / float64(roi.Area()), nil
}

// Luma is a convenience wrapper around LumaReducer.
func Luma(frame *images.Frame, roi images.ROI) (float64, error) {
	return LumaReducer{}.Reduce(frame, roi)
}

// ByName returns the reducer registered under name: "mean" or "luma".
func ByName(name string) (Reducer, error) {
	switch name {
	case "", "mean":
		return MeanReducer{}, nil
	case "luma":
		return LumaReducer{}, nil
	default:
		return nil, errors.Errorf("unknown reducer %q (want mean or luma)", name)
	}
}
