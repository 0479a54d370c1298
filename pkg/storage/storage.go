// Package storage defines the capability interface the repository engine
// uses for all raw I/O. Backends register themselves with the factory; the
// engine never touches the filesystem or an object store directly.
package storage

import (
	"context"
	"io"
	"os"
	"time"
)

// Storage is the adapter contract. Every method returns a value or a typed
// failure; expected conditions (missing file, permission denied) never
// surface as panics.
type Storage interface {
	// Exists reports whether path names a file or directory.
	Exists(ctx context.Context, path string) (bool, error)
	// IsDir reports whether path names a directory.
	IsDir(ctx context.Context, path string) (bool, error)
	// IsFile reports whether path names a regular file.
	IsFile(ctx context.Context, path string) (bool, error)
	// IsReadable and IsWritable report access to path for this process.
	IsReadable(ctx context.Context, path string) (bool, error)
	IsWritable(ctx context.Context, path string) (bool, error)

	// Read returns the whole file.
	Read(ctx context.Context, path string) ([]byte, error)
	// Write stores data at path, overwriting any existing file.
	Write(ctx context.Context, path string, data []byte) error
	// Store streams reader into path, overwriting any existing file.
	Store(ctx context.Context, path string, reader io.Reader) error
	// Get opens path for reading.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// StreamRead copies up to length bytes starting at offset into w,
	// in chunks, and returns the byte count. length < 0 means to EOF.
	StreamRead(ctx context.Context, path string, offset, length int64, w io.Writer) (int64, error)

	// Delete removes a file, or a directory recursively.
	Delete(ctx context.Context, path string) error
	// MkDir creates a directory; recursive creates missing parents.
	MkDir(ctx context.Context, path string, recursive bool) error
	// Move relocates a file or directory tree, replacing nothing.
	Move(ctx context.Context, src, dst string) error
	// Copy duplicates a file or directory tree.
	Copy(ctx context.Context, src, dst string) error
	// Rename changes the last path element; src and dst share a parent.
	Rename(ctx context.Context, src, dst string) error
	// Chmod applies baseline permissions; object backends may ignore it.
	Chmod(ctx context.Context, path string, mode os.FileMode) error

	// List returns a shallow or recursive listing under prefix.
	List(ctx context.Context, prefix string, opts ListOptions) ([]FileInfo, error)
	// Filesize returns the byte size of a file.
	Filesize(ctx context.Context, path string) (int64, error)
	// Mtime returns the last modification time of path.
	Mtime(ctx context.Context, path string) (time.Time, error)
	// Stat aggregates existence, type, size and mtime.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// GetPath resolves a storage-relative path to an absolute path or URL.
	GetPath(path string) string
}

type FileInfo struct {
	Name      string
	Size      int64
	IsDir     bool
	IsPackage bool // directory directly containing a package archive
	ModTime   time.Time
}

type ListOptions struct {
	MaxDepth    int // -1 means unlimited depth
	IncludeDirs bool
	Extensions  []string // filter by file extension, empty accepts all
}
