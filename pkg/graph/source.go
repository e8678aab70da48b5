package graph

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// UploadSource is a re-openable byte stream of known size. Open returns a
// reader positioned at offset, which lets an upload resume from whatever
// byte the server acknowledged last.
type UploadSource interface {
	Size() int64
	Open(offset int64) (io.ReadCloser, error)
}

// FileSource reads an upload from a local file.
type FileSource struct {
	path string
	size int64
}

// NewFileSource stats path and returns a source for it.
func NewFileSource(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("getting file info for '%s': %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: '%s' is a directory", ErrInvalidRequest, path)
	}
	return &FileSource{path: path, size: info.Size()}, nil
}

func (s *FileSource) Size() int64 { return s.size }

// Path returns the file the source reads from.
func (s *FileSource) Path() string { return s.path }

func (s *FileSource) Open(offset int64) (io.ReadCloser, error) {
	if offset < 0 || offset > s.size {
		return nil, fmt.Errorf("%w: offset %d outside file of %d bytes", ErrInvalidRequest, offset, s.size)
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening file '%s': %w", s.path, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seeking file '%s' to %d: %w", s.path, offset, err)
	}
	return f, nil
}

// ReaderAtSource adapts an io.ReaderAt to an UploadSource.
type ReaderAtSource struct {
	r    io.ReaderAt
	size int64
}

// NewReaderAtSource returns a source reading size bytes from r.
func NewReaderAtSource(r io.ReaderAt, size int64) *ReaderAtSource {
	return &ReaderAtSource{r: r, size: size}
}

// NewBytesSource returns a source over an in-memory buffer.
func NewBytesSource(b []byte) *ReaderAtSource {
	return NewReaderAtSource(bytes.NewReader(b), int64(len(b)))
}

func (s *ReaderAtSource) Size() int64 { return s.size }

func (s *ReaderAtSource) Open(offset int64) (io.ReadCloser, error) {
	if offset < 0 || offset > s.size {
		return nil, fmt.Errorf("%w: offset %d outside source of %d bytes", ErrInvalidRequest, offset, s.size)
	}
	return io.NopCloser(io.NewSectionReader(s.r, offset, s.size-offset)), nil
}
