package video

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nvr-ai/go-roi/images"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// sequenceNumber extracts the trailing frame number of a file stem, e.g. "frame-0042".
var sequenceNumber = regexp.MustCompile(`(\d+)$`)

// ImageFile is one entry of an image sequence.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Number is the frame number parsed from the file name.
	Number int
}

// ListImageFiles returns the numbered image files of a directory ordered by
// frame number.
//
// Arguments:
// - dir: Directory path containing image files named like "frame-N.png".
//
// Returns:
// - []ImageFile: The files, sorted by Number.
// - error: Error if the directory cannot be read.
func ListImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []ImageFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff":
			stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
			m := sequenceNumber.FindStringSubmatch(stem)
			if m == nil {
				continue
			}
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, errors.Wrapf(err, "frame number of %s", entry.Name())
			}
			files = append(files, ImageFile{Path: filepath.Join(dir, entry.Name()), Number: n})
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Number < files[j].Number
	})

	return files, nil
}

// ImageSequence is a Source over a directory of numbered still images, as
// produced by cameras that record stacks instead of containers. Frame index i is
// the i-th file in frame-number order.
type ImageSequence struct {
	lifecycle

	dir   string
	files []ImageFile
	meta  Metadata
	opts  options
}

// OpenImageSequence opens a directory of numbered images. The first decodable
// image defines the frame dimensions.
func OpenImageSequence(dir string, opts ...Option) (*ImageSequence, error) {
	o := applyOptions(opts)

	files, err := ListImageFiles(dir)
	if err != nil {
		return nil, &OpenError{Path: dir, Err: err}
	}
	if len(files) == 0 {
		return nil, &OpenError{Path: dir, Err: errors.New("no numbered image files")}
	}

	s := &ImageSequence{dir: dir, files: files, opts: o}

	var first images.Frame
	var lastErr error
	for _, f := range files {
		if lastErr = s.decode(f, &first); lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, &OpenError{Path: dir, Err: errors.Wrap(lastErr, "no decodable image")}
	}

	s.meta = Metadata{FrameCount: len(files), Width: first.Width, Height: first.Height, FPS: o.fps}
	o.logger.Debug("image sequence opened", zap.String("dir", dir), zap.Stringer("metadata", s.meta))
	return s, nil
}

func (s *ImageSequence) decode(f ImageFile, dst *images.Frame) error {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return err
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadAnyColor)
	if err != nil {
		return errors.Wrapf(err, "decode %s", filepath.Base(f.Path))
	}
	defer mat.Close()
	if mat.Empty() {
		return errors.Errorf("decode %s: not an image", filepath.Base(f.Path))
	}
	return images.FrameFromMat(mat, dst)
}

// Files returns the ordered files of the sequence.
func (s *ImageSequence) Files() []ImageFile {
	return append([]ImageFile(nil), s.files...)
}

// Metadata implements Source.
func (s *ImageSequence) Metadata() Metadata {
	return s.meta
}

// Frames implements Source.
func (s *ImageSequence) Frames() (Iterator, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	return &sequenceIterator{s: s}, nil
}

// Close implements Source. The sequence holds no decoder state between reads.
func (s *ImageSequence) Close() error {
	s.markClosed()
	return nil
}

type sequenceIterator struct {
	s        *ImageSequence
	frame    images.Frame
	index    int
	failures int
	closed   bool
}

func (it *sequenceIterator) Next() (int, *images.Frame, error) {
	if it.closed || it.index >= len(it.s.files) {
		return it.index, nil, io.EOF
	}
	if it.s.isClosed() {
		return it.index, nil, ErrClosed
	}

	i := it.index
	it.index++
	f := it.s.files[i]

	err := it.s.decode(f, &it.frame)
	if err == nil && (it.frame.Width != it.s.meta.Width || it.frame.Height != it.s.meta.Height) {
		err = errors.Errorf("%s is %dx%d, sequence is %dx%d", filepath.Base(f.Path),
			it.frame.Width, it.frame.Height, it.s.meta.Width, it.s.meta.Height)
	}
	if err == nil {
		it.failures = 0
		return i, &it.frame, nil
	}

	it.failures++
	if it.failures >= it.s.opts.maxConsecutiveFailures {
		it.index = len(it.s.files)
		return i, nil, &DecodeFatalError{Index: i, Err: errors.Wrapf(err, "%d consecutive images unreadable", it.failures)}
	}
	return i, nil, &FrameDecodeError{Index: i, Err: err}
}

func (it *sequenceIterator) Close() error {
	if !it.closed {
		it.closed = true
		it.s.end()
	}
	return nil
}
