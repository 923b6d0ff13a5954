package rosbag

import (
	"context"
	"fmt"
	"os"
)

// FileSource is a Source backed by an *os.File, the one concrete
// implementation this module ships since the external byte-source
// collaborator is otherwise out of scope (see SPEC_FULL.md §3).
type FileSource struct {
	f    *os.File
	size int64
}

// OpenFileSource opens path and stats its size up front.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &FileSource{f: f, size: info.Size()}, nil
}

func (s *FileSource) Length() int64 {
	return s.size
}

func (s *FileSource) ReadAt(ctx context.Context, offset int64, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := s.f.ReadAt(buf, offset)
	if err != nil && int64(n) != length {
		return nil, fmt.Errorf("read %d bytes at offset %d: %w", length, offset, err)
	}
	return buf[:n], nil
}

// Close releases the underlying file handle.
func (s *FileSource) Close() error {
	return s.f.Close()
}
