// Package archive treats package bundles as opaque zip containers: callers
// can list entries, pull single files out, and verify the layout, but the
// engine never extracts a full archive to disk.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

var (
	ErrNotArchive   = errors.New("depot: file is not a readable zip archive")
	ErrNoTopLevel   = errors.New("depot: archive must contain a single top-level directory")
	ErrEntryEscapes = errors.New("depot: archive entry path escapes the extraction root")
	ErrEntryMissing = errors.New("depot: archive entry not found")
)

// Archive is a read-only view over zip contents held in memory.
type Archive struct {
	reader *zip.Reader
	size   int64
}

// New opens archive data already read from storage. Entries with insecure
// names do not fail here; Validate reports them with their offending name.
func New(data []byte) (*Archive, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}
	return &Archive{reader: r, size: int64(len(data))}, nil
}

// Size returns the byte size of the underlying archive data.
func (a *Archive) Size() int64 {
	return a.size
}

// Entries returns the slash-normalized names of every entry.
func (a *Archive) Entries() []string {
	names := make([]string, 0, len(a.reader.File))
	for _, f := range a.reader.File {
		names = append(names, normalizeEntry(f.Name))
	}
	return names
}

// ReadFile returns the contents of a single entry by name. The lookup is
// tolerant of a missing or present trailing slash and of backslash
// separators in archives produced on Windows.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	want := normalizeEntry(name)
	for _, f := range a.reader.File {
		if normalizeEntry(f.Name) != want {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open archive entry %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrEntryMissing, name)
}

// Contains reports whether the archive holds an entry with the given name.
func (a *Archive) Contains(name string) bool {
	want := normalizeEntry(name)
	for _, f := range a.reader.File {
		if normalizeEntry(f.Name) == want {
			return true
		}
	}
	return false
}

// TopLevelDir returns the single directory every entry lives under. Archives
// with files at the root, or with entries under more than one top-level
// folder, are rejected.
func (a *Archive) TopLevelDir() (string, error) {
	top := ""
	for _, f := range a.reader.File {
		name := normalizeEntry(f.Name)
		if name == "" {
			continue
		}
		first, _, nested := strings.Cut(name, "/")
		if !nested && !f.FileInfo().IsDir() {
			// A bare file at the archive root.
			return "", ErrNoTopLevel
		}
		if top == "" {
			top = first
		} else if top != first {
			return "", ErrNoTopLevel
		}
	}
	if top == "" {
		return "", ErrNoTopLevel
	}
	return top, nil
}

// Validate checks every entry name for traversal tricks. It is called once
// per upload before anything from the archive is trusted.
func (a *Archive) Validate() error {
	for _, f := range a.reader.File {
		name := normalizeEntry(f.Name)
		if name == "" {
			continue
		}
		if path.IsAbs(f.Name) || strings.HasPrefix(f.Name, `\`) {
			return fmt.Errorf("%w: %s", ErrEntryEscapes, f.Name)
		}
		if strings.ContainsRune(f.Name, 0) {
			return fmt.Errorf("%w: %s", ErrEntryEscapes, f.Name)
		}
		for _, segment := range strings.Split(strings.ReplaceAll(f.Name, `\`, "/"), "/") {
			if segment == ".." {
				return fmt.Errorf("%w: %s", ErrEntryEscapes, f.Name)
			}
		}
	}
	return nil
}

func normalizeEntry(name string) string {
	cleaned := strings.Trim(path.Clean(strings.ReplaceAll(name, `\`, "/")), "/")
	if cleaned == "." {
		return ""
	}
	return cleaned
}
