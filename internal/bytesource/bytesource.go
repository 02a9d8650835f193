// Package bytesource provides the range-addressable byte sources a parse
// session consumes: files on disk, in-memory buffers, and append-only spools
// filled by network ingest.
package bytesource

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrSealed is returned by Spool.Write after Seal.
var ErrSealed = errors.New("bytesource: spool is sealed")

// ErrLimit is returned by Spool.Write when the spool would exceed its limit.
var ErrLimit = errors.New("bytesource: spool limit exceeded")

// ErrOutsideRoot is returned by OpenIn for names that leave the directory.
var ErrOutsideRoot = errors.New("bytesource: path is outside the root directory")

// Source is an opaque, range-addressable source of bytes. The session never
// interprets its contents; it hands it to the parser and keeps a reference on
// each sample so payloads can be materialized later by range.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Reader returns a sequential reader over the whole source.
func Reader(src Source) io.Reader {
	return io.NewSectionReader(src, 0, src.Size())
}

// ReadRange reads length bytes at offset.
func ReadRange(src Source, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > src.Size() {
		return nil, fmt.Errorf("bytesource: range [%d,+%d) outside source of %d bytes", offset, length, src.Size())
	}
	buf := make([]byte, length)
	if _, err := src.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("bytesource: read at %d: %w", offset, err)
	}
	return buf, nil
}

// File is a Source backed by an open file.
type File struct {
	f    *os.File
	size int64
}

// Open opens path as a Source. The caller must Close it when no session
// references it anymore.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bytesource: open: %w", err)
	}
	return newFile(f, path)
}

// OpenIn opens name, a path relative to dir, without leaving dir. Names
// that are absolute or climb out of dir fail with ErrOutsideRoot; symlinks
// pointing outside dir fail to open.
func OpenIn(dir, name string) (*File, error) {
	if !filepath.IsLocal(name) {
		return nil, fmt.Errorf("bytesource: %s: %w", name, ErrOutsideRoot)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("bytesource: open root: %w", err)
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		return nil, fmt.Errorf("bytesource: open: %w", err)
	}
	return newFile(f, name)
}

func newFile(f *os.File, name string) (*File, error) {
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("bytesource: stat: %w", err)
	}
	if fi.IsDir() {
		f.Close()
		return nil, fmt.Errorf("bytesource: %s is a directory", name)
	}
	return &File{f: f, size: fi.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

// Size returns the file size captured at open time.
func (f *File) Size() int64 {
	return f.size
}

// Name returns the underlying file name.
func (f *File) Name() string {
	return f.f.Name()
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}

// Bytes is a Source over an in-memory buffer.
type Bytes []byte

// FromBytes wraps b as a Source without copying.
func FromBytes(b []byte) Bytes {
	return Bytes(b)
}

// ReadAt implements io.ReaderAt.
func (b Bytes) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("bytesource: negative offset %d", off)
	}
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns len(b).
func (b Bytes) Size() int64 {
	return int64(len(b))
}
