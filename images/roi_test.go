package images

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestROIValidate checks containment against frame bounds.
func TestROIValidate(t *testing.T) {
	tests := []struct {
		name      string
		roi       ROI
		w, h      int
		wantOOB   bool
		wantEmpty bool
	}{
		{name: "full frame", roi: FullFrame(640, 480), w: 640, h: 480},
		{name: "single pixel corner", roi: NewROI(639, 479, 1, 1), w: 640, h: 480},
		{name: "inside", roi: NewROI(10, 20, 100, 50), w: 640, h: 480},
		{name: "touches right edge", roi: NewROI(540, 0, 100, 10), w: 640, h: 480},
		{name: "overflows width", roi: NewROI(541, 0, 100, 10), w: 640, h: 480, wantOOB: true},
		{name: "overflows height", roi: NewROI(0, 400, 10, 81), w: 640, h: 480, wantOOB: true},
		{name: "negative x", roi: NewROI(-1, 0, 10, 10), w: 640, h: 480, wantOOB: true},
		{name: "negative y", roi: NewROI(0, -5, 10, 10), w: 640, h: 480, wantOOB: true},
		{name: "huge x wraps", roi: NewROI(math.MaxInt, 0, 1, 1), w: 640, h: 480, wantOOB: true},
		{name: "huge width wraps", roi: NewROI(1, 1, math.MaxInt, 1), w: 640, h: 480, wantOOB: true},
		{name: "huge y wraps", roi: NewROI(0, math.MaxInt, 1, 1), w: 640, h: 480, wantOOB: true},
		{name: "huge height wraps", roi: NewROI(0, 1, 1, math.MaxInt), w: 640, h: 480, wantOOB: true},
		{name: "zero width", roi: NewROI(0, 0, 0, 10), w: 640, h: 480, wantEmpty: true},
		{name: "negative height", roi: NewROI(0, 0, 10, -1), w: 640, h: 480, wantEmpty: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.roi.Validate(tc.w, tc.h)
			switch {
			case tc.wantOOB:
				var oob *OutOfBoundsError
				require.True(t, errors.As(err, &oob), "expected OutOfBoundsError, got %v", err)
				assert.Equal(t, tc.roi, oob.ROI)
				assert.Equal(t, tc.w, oob.FrameWidth)
			case tc.wantEmpty:
				var empty *EmptyRegionError
				require.True(t, errors.As(err, &empty), "expected EmptyRegionError, got %v", err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tc.roi, got, "valid ROI must come back unchanged")
			}
		})
	}
}

// TestROIValidateExhaustive sweeps every placement of a 3x2 ROI around a small frame.
func TestROIValidateExhaustive(t *testing.T) {
	const w, h = 8, 6
	for x := -2; x <= w; x++ {
		for y := -2; y <= h; y++ {
			r := NewROI(x, y, 3, 2)
			inside := x >= 0 && y >= 0 && x+3 <= w && y+2 <= h
			_, err := r.Validate(w, h)
			if inside {
				assert.NoError(t, err, r.String())
			} else {
				var oob *OutOfBoundsError
				assert.True(t, errors.As(err, &oob), r.String())
			}
		}
	}
}

func TestROIValueSemantics(t *testing.T) {
	a := NewROI(1, 2, 3, 4)
	b := NewROI(1, 2, 3, 4)
	c := NewROI(1, 2, 3, 5)

	assert.Equal(t, a, b)
	assert.True(t, a == b)
	assert.False(t, a == c)

	seen := map[ROI]int{a: 1}
	seen[b]++
	seen[c]++
	assert.Len(t, seen, 2)
	assert.Equal(t, 2, seen[a])
}

func TestROIClamp(t *testing.T) {
	assert.Equal(t, NewROI(0, 0, 5, 5), NewROI(-5, -5, 10, 10).Clamp(100, 100))
	assert.Equal(t, NewROI(90, 90, 10, 10), NewROI(90, 90, 50, 50).Clamp(100, 100))
	assert.True(t, NewROI(200, 200, 10, 10).Clamp(100, 100).Empty())

	clamped := NewROI(-3, 10, 500, 20).Clamp(64, 48)
	_, err := clamped.Validate(64, 48)
	assert.NoError(t, err, "a clamped non-empty ROI must validate")

	assert.Equal(t, NewROI(10, 0, 54, 48), NewROI(10, 0, math.MaxInt, math.MaxInt).Clamp(64, 48))
}

func TestParseROI(t *testing.T) {
	r, err := ParseROI("10, 20,30,40")
	require.NoError(t, err)
	assert.Equal(t, NewROI(10, 20, 30, 40), r)

	huge, err := ParseROI("9223372036854775807,0,1,1")
	require.NoError(t, err)
	_, err = huge.Validate(640, 480)
	var oob *OutOfBoundsError
	assert.True(t, errors.As(err, &oob))

	for _, bad := range []string{"", "1,2,3", "1,2,3,4,5", "a,b,c,d", "1,2,3,4.5"} {
		_, err := ParseROI(bad)
		assert.Error(t, err, bad)
	}
}

func TestROIRectRoundTrip(t *testing.T) {
	r := NewROI(3, 4, 10, 20)
	assert.Equal(t, r, FromRect(r.Rect()))
	assert.Equal(t, 200, r.Area())
	assert.Equal(t, 0, NewROI(0, 0, 0, 5).Area())
	assert.Equal(t, "x=3,y=4,w=10,h=20", r.String())
}
