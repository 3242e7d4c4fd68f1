package images

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// FrameFromMat copies an 8-bit OpenCV Mat into dst, reusing dst's buffer.
//
// Arguments:
// - mat: The decoded Mat (CV_8UC1, CV_8UC3 or CV_8UC4).
// - dst: The frame to overwrite.
//
// Returns:
// - An error if the Mat is empty or holds a sample type other than 8-bit unsigned.
//
// Example:
//
// ```go
//
//	frame := &images.Frame{}
//	if err := images.FrameFromMat(mat, frame); err != nil {
//		return err
//	}
//
// ```
func FrameFromMat(mat gocv.Mat, dst *Frame) error {
	if mat.Empty() {
		return errors.New("empty mat")
	}

	switch mat.Type() {
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC4:
	default:
		return errors.Errorf("unsupported mat type %v", mat.Type())
	}

	src := mat
	if !mat.IsContinuous() {
		src = mat.Clone()
		defer src.Close()
	}

	data, err := src.DataPtrUint8()
	if err != nil {
		return errors.Wrap(err, "read mat data")
	}

	dst.Reset(src.Cols(), src.Rows(), src.Channels())
	if len(data) < len(dst.Pix) {
		return errors.Errorf("mat data has %d bytes, want %d", len(data), len(dst.Pix))
	}
	copy(dst.Pix, data)
	return nil
}
