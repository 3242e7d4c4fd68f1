package intensity

import (
	"image"
	"math"
	"testing"

	"github.com/nvr-ai/go-roi/images"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMeanUniformFill verifies that a uniform region reduces to exactly its fill value.
func TestMeanUniformFill(t *testing.T) {
	for _, channels := range []int{1, 3, 4} {
		for _, v := range []uint8{0, 1, 127, 128, 254, 255} {
			frame := images.NewFrame(17, 9, channels)
			frame.Fill(v)
			for _, roi := range []images.ROI{
				images.NewROI(0, 0, 1, 1),
				images.NewROI(16, 8, 1, 1),
				images.NewROI(3, 2, 5, 4),
				images.FullFrame(17, 9),
			} {
				got, err := Mean(frame, roi)
				require.NoError(t, err)
				assert.Equal(t, float64(v), got, "channels=%d v=%d roi=%s", channels, v, roi)
			}
		}
	}
}

// TestMeanOnlyReadsRegion paints outside the ROI and checks that it has no effect.
func TestMeanOnlyReadsRegion(t *testing.T) {
	frame := images.NewFrame(10, 10, 1)
	frame.Fill(255)
	roi := images.NewROI(2, 3, 4, 5)
	frame.FillRect(roi.Rect(), 10)

	got, err := Mean(frame, roi)
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)
}

// TestMeanChannelFlatten checks the channel-mean-then-spatial-mean contract.
func TestMeanChannelFlatten(t *testing.T) {
	frame := images.NewFrame(2, 1, 3)
	frame.SetPixel(0, 0, 0, 30, 60)  // channel mean 30
	frame.SetPixel(1, 0, 90, 90, 90) // channel mean 90

	got, err := Mean(frame, images.FullFrame(2, 1))
	require.NoError(t, err)
	assert.Equal(t, 60.0, got)
}

// TestMeanChannelOrderInvariant permutes channels of equal-valued pixels.
func TestMeanChannelOrderInvariant(t *testing.T) {
	bgr := images.NewFrame(3, 3, 3)
	rgb := images.NewFrame(3, 3, 3)
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			v := uint8(10*x + 40*y)
			bgr.SetPixel(x, y, v, v, v)
			rgb.SetPixel(x, y, v, v, v)
		}
	}
	// Swap the first and last channel of one frame.
	for i := 0; i < len(rgb.Pix); i += 3 {
		rgb.Pix[i], rgb.Pix[i+2] = rgb.Pix[i+2], rgb.Pix[i]
	}

	roi := images.NewROI(1, 0, 2, 3)
	a, err := Mean(bgr, roi)
	require.NoError(t, err)
	b, err := Mean(rgb, roi)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMeanGradient(t *testing.T) {
	frame := images.NewFrame(4, 1, 1)
	for x := 0; x < 4; x++ {
		frame.SetPixel(x, 0, uint8(x))
	}
	got, err := Mean(frame, images.FullFrame(4, 1))
	require.NoError(t, err)
	assert.Equal(t, 1.5, got)
}

func TestMeanRespectsStride(t *testing.T) {
	// Two rows of width 2 with two bytes of row padding holding junk.
	frame := &images.Frame{
		Width: 2, Height: 2, Channels: 1, Stride: 4,
		Pix: []uint8{4, 8, 255, 255, 12, 16, 255, 255},
	}
	got, err := Mean(frame, images.FullFrame(2, 2))
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)
}

func TestMeanErrors(t *testing.T) {
	frame := images.NewFrame(8, 8, 1)

	_, err := Mean(frame, images.NewROI(0, 0, 0, 4))
	var empty *images.EmptyRegionError
	assert.True(t, errors.As(err, &empty))

	_, err = Mean(frame, images.NewROI(4, 4, 0, 0))
	assert.True(t, errors.As(err, &empty))

	_, err = Mean(frame, images.NewROI(4, 4, 5, 1))
	var oob *images.OutOfBoundsError
	assert.True(t, errors.As(err, &oob))

	for _, roi := range []images.ROI{images.NewROI(math.MaxInt, 0, 1, 1), images.NewROI(1, 1, math.MaxInt, 1)} {
		assert.NotPanics(t, func() {
			_, err = Mean(frame, roi)
		}, roi.String())
		assert.True(t, errors.As(err, &oob), roi.String())
	}

	_, err = Mean(nil, images.NewROI(0, 0, 1, 1))
	assert.Error(t, err)
}

func TestReducerFunc(t *testing.T) {
	var r Reducer = ReducerFunc(func(f *images.Frame, roi images.ROI) (float64, error) {
		return float64(roi.Area()), nil
	})
	v, err := r.Reduce(nil, images.FromRect(image.Rect(0, 0, 3, 2)))
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)
}

func BenchmarkMean1080p(b *testing.B) {
	frame := images.NewFrame(1920, 1080, 3)
	frame.Fill(100)
	roi := images.NewROI(480, 270, 960, 540)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Mean(frame, roi)
	}
}
