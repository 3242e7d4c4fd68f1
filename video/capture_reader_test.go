package video

import (
	"io"
	"testing"

	"github.com/nvr-ai/go-roi/images"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGrabber decodes stored frames, failing the corrupt ones. Seeking past
// the stored frames fails the way a decoder at the end of its stream does.
type fakeGrabber struct {
	stored  int
	corrupt map[int]bool
	badConv map[int]bool
	pos     int
}

func (g *fakeGrabber) grab(dst *images.Frame) (bool, error) {
	if g.pos >= g.stored {
		return false, nil
	}
	i := g.pos
	g.pos++
	if g.corrupt[i] {
		return false, nil
	}
	if g.badConv[i] {
		return true, errors.New("unsupported mat type")
	}
	dst.Reset(2, 2, 1)
	dst.Fill(uint8(i))
	return true, nil
}

func (g *fakeGrabber) seek(index int) bool {
	if index > g.stored {
		g.pos = g.stored
		return false
	}
	g.pos = index
	return true
}

type readEvent struct {
	index int
	value int
	skip  bool
}

// drainReader reads until a non-transient error and returns the events and that error.
func drainReader(t *testing.T, r *frameReader) ([]readEvent, error) {
	t.Helper()
	var events []readEvent
	for n := 0; n < 1000; n++ {
		i, frame, err := r.next()
		switch {
		case err == nil:
			events = append(events, readEvent{index: i, value: int(frame.Pixel(0, 0)[0])})
		case IsTransient(err):
			var fde *FrameDecodeError
			require.True(t, errors.As(err, &fde))
			assert.Equal(t, i, fde.Index)
			events = append(events, readEvent{index: i, skip: true})
		default:
			return events, err
		}
	}
	t.Fatal("reader never ended")
	return nil, nil
}

func frames(indices ...int) []readEvent {
	out := make([]readEvent, len(indices))
	for k, i := range indices {
		out[k] = readEvent{index: i, value: i}
	}
	return out
}

func TestFrameReader(t *testing.T) {
	tests := []struct {
		name      string
		grabber   *fakeGrabber
		count     int
		want      []readEvent
		wantFatal int
	}{
		{
			name:    "exact count",
			grabber: &fakeGrabber{stored: 4},
			count:   4,
			want:    frames(0, 1, 2, 3),
		},
		{
			name:    "unknown count",
			grabber: &fakeGrabber{stored: 3},
			want:    frames(0, 1, 2),
		},
		{
			name:    "count overestimated by a few frames",
			grabber: &fakeGrabber{stored: 5},
			count:   8,
			want:    frames(0, 1, 2, 3, 4),
		},
		{
			name:    "count overestimated past the failure limit",
			grabber: &fakeGrabber{stored: 94},
			count:   100,
			want:    frames(seq(94)...),
		},
		{
			name:    "corrupt frames mid stream",
			grabber: &fakeGrabber{stored: 6, corrupt: map[int]bool{2: true, 3: true}},
			count:   6,
			want: []readEvent{
				{index: 0, value: 0}, {index: 1, value: 1},
				{index: 2, skip: true}, {index: 3, skip: true},
				{index: 4, value: 4}, {index: 5, value: 5},
			},
		},
		{
			name:    "unconvertible frame",
			grabber: &fakeGrabber{stored: 3, badConv: map[int]bool{1: true}},
			count:   3,
			want:    []readEvent{{index: 0, value: 0}, {index: 1, skip: true}, {index: 2, value: 2}},
		},
		{
			name:      "broken stream",
			grabber:   &fakeGrabber{stored: 20, corrupt: map[int]bool{3: true, 4: true, 5: true, 6: true, 7: true, 8: true}},
			count:     20,
			want:      frames(0, 1, 2),
			wantFatal: 7,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newFrameReader(tc.grabber, tc.count, DefaultMaxConsecutiveFailures, nil)
			got, err := drainReader(t, r)
			assert.Equal(t, tc.want, got)

			if tc.wantFatal > 0 {
				var fatal *DecodeFatalError
				require.True(t, errors.As(err, &fatal), "got %v", err)
				assert.Equal(t, tc.wantFatal, fatal.Index)
			} else {
				assert.ErrorIs(t, err, io.EOF)
			}

			_, _, err = r.next()
			assert.Error(t, err, "reader stays finished")
		})
	}
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
