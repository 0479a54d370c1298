package types

import (
	"encoding/json"
	"io"
	"time"
)

// PackageRecord is the canonical identity of a hosted package as known by
// the caller's catalog. The engine treats it as read-only input; manifest
// identity fields always come from here, never from cached files.
type PackageRecord struct {
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	Version          string `json:"version"`
	ShortDescription string `json:"short_description"`
}

// AssetRef is the public reference to a stored asset. Version is a
// cache-busting token derived from the file's modification time.
type AssetRef struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Version int64  `json:"version"`
}

func (r *AssetRef) WriteTo(w io.Writer) (int64, error) { return writeTo(r, w) }

// AssetFailure records one rejected file from a batch asset upload.
type AssetFailure struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// AssetBatch is the structured result of a batch asset upload. The batch is
// partial-failure tolerant: one bad file never aborts its siblings.
type AssetBatch struct {
	Uploaded []AssetRef     `json:"uploaded"`
	Failed   []AssetFailure `json:"failed"`
}

func (r *AssetBatch) WriteTo(w io.Writer) (int64, error) { return writeTo(r, w) }

// TrashEntry describes one trashed package awaiting restore or collection.
type TrashEntry struct {
	Type      string    `json:"type"`
	Slug      string    `json:"slug"`
	TrashedAt time.Time `json:"trashed_at"`
}

func (r *TrashEntry) WriteTo(w io.Writer) (int64, error) { return writeTo(r, w) }

// UploadResult reports a committed archive upload.
type UploadResult struct {
	Slug        string `json:"slug"`
	ArchivePath string `json:"archive_path"`
	SidecarPath string `json:"sidecar_path"`
}

func (r *UploadResult) WriteTo(w io.Writer) (int64, error) { return writeTo(r, w) }

func writeTo(v interface{}, w io.Writer) (int64, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return -1, err
	}
	n, err := w.Write(b)
	return int64(n), err
}
