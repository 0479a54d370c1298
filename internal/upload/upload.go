// Package upload abstracts the inbound file handed to the repository engine.
// The engine never trusts a raw filesystem path from a caller: a File must
// report a successful transfer and prove it still lives inside the managed
// staging area before it can be ingested.
package upload

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Code classifies the outcome of the transfer that produced the file.
type Code int

const (
	CodeOK Code = iota
	CodeTooLarge
	CodePartial
	CodeMissing
	CodeNoStagingDir
	CodeWriteFailed
	CodeBlocked
)

// File is the collaborator interface consumed by the repository engine.
type File interface {
	// Code reports the transfer outcome; anything but CodeOK is fatal.
	Code() Code

	// OK is shorthand for Code() == CodeOK.
	OK() bool

	// Name is the client-supplied destination name. Never stored verbatim.
	Name() string

	// TempPath is the staging location of the received bytes.
	TempPath() string

	// Ext is the canonical lowercase extension, without the dot.
	Ext() string

	// Size is the received byte count.
	Size() int64

	// Movable reports whether the file genuinely came through the managed
	// staging area and is still present there.
	Movable() bool

	// Open returns a reader over the staged bytes.
	Open() (io.ReadCloser, error)

	// Discard removes the staging copy once the bytes are stored.
	Discard() error
}

// DiskFile is the staging-directory backed File used by the CLI and tests.
type DiskFile struct {
	name    string
	temp    string
	staging string
	size    int64
	code    Code
}

// Stage copies src into the staging directory and returns a File for it.
// name is the destination name the client asked for.
func Stage(stagingDir, name, src string) (*DiskFile, error) {
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return &DiskFile{name: name, code: CodeNoStagingDir}, err
	}

	in, err := os.Open(src)
	if err != nil {
		return &DiskFile{name: name, code: CodeMissing}, err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(stagingDir, "upload-*")
	if err != nil {
		return &DiskFile{name: name, code: CodeWriteFailed}, err
	}

	n, err := io.Copy(tmp, in)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmp.Name())
		if err == nil {
			err = closeErr
		}
		return &DiskFile{name: name, code: CodeWriteFailed}, err
	}

	return &DiskFile{
		name:    name,
		temp:    tmp.Name(),
		staging: stagingDir,
		size:    n,
		code:    CodeOK,
	}, nil
}

// Failed builds a File representing a transfer that never completed.
// Used by callers translating transport failures into engine input.
func Failed(name string, code Code) *DiskFile {
	return &DiskFile{name: name, code: code}
}

func (f *DiskFile) Code() Code       { return f.code }
func (f *DiskFile) OK() bool         { return f.code == CodeOK }
func (f *DiskFile) Name() string     { return f.name }
func (f *DiskFile) TempPath() string { return f.temp }
func (f *DiskFile) Size() int64      { return f.size }

// Ext returns the lowercase extension of the client-supplied name.
func (f *DiskFile) Ext() string {
	ext := strings.TrimPrefix(filepath.Ext(f.name), ".")
	return strings.ToLower(ext)
}

// Movable verifies the staged copy still exists and sits inside the staging
// directory. A path smuggled in from elsewhere on disk fails this check.
func (f *DiskFile) Movable() bool {
	if f.code != CodeOK || f.temp == "" {
		return false
	}
	dir, err := filepath.Abs(f.staging)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(f.temp)
	if err != nil {
		return false
	}
	if filepath.Dir(abs) != dir {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

func (f *DiskFile) Open() (io.ReadCloser, error) {
	return os.Open(f.temp)
}

func (f *DiskFile) Discard() error {
	if f.temp == "" {
		return nil
	}
	return os.Remove(f.temp)
}
