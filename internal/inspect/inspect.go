// Package inspect provides the file validation toolbox used during uploads:
// MIME lookup and content sniffing, checksum computation, transfer error
// interpretation and human-readable size formatting.
package inspect

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"depot/internal/upload"
)

// mimeByExt is loaded once at startup and never mutated afterwards.
var mimeByExt = map[string]string{
	"txt":  "text/plain",
	"json": "application/json",
	"xml":  "application/xml",
	"html": "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"webp": "image/webp",
	"zip":  "application/zip",
	"pdf":  "application/pdf",
}

// TypeByExtension returns the MIME type for a lowercase extension without
// the dot, or application/octet-stream when unknown.
func TypeByExtension(ext string) string {
	if mime, ok := mimeByExt[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return mime
	}
	return "application/octet-stream"
}

// Sniff inspects magic bytes and returns the detected MIME type, or
// application/octet-stream when nothing matches.
func Sniff(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return "application/zip"
	case looksLikeSVG(data):
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

func looksLikeSVG(data []byte) bool {
	head := bytes.TrimSpace(data)
	if len(head) > 512 {
		head = head[:512]
	}
	lowered := bytes.ToLower(head)
	if bytes.HasPrefix(lowered, []byte("<svg")) {
		return true
	}
	return bytes.HasPrefix(lowered, []byte("<?xml")) && bytes.Contains(lowered, []byte("<svg"))
}

// IsImage reports whether the sniffed type is an accepted image format.
func IsImage(data []byte) bool {
	return strings.HasPrefix(Sniff(data), "image/")
}

// scriptSignatures are markup fragments that have no business inside an
// image payload, whatever extension the client declared.
var scriptSignatures = [][]byte{
	[]byte("<?php"),
	[]byte("<?="),
	[]byte("<script"),
	[]byte("<%"),
	[]byte("#!/"),
}

// ContainsScriptMarkup scans the payload for script-like signatures. The
// check is case-insensitive and covers the whole buffer, not just the head:
// polyglot files hide payloads after a valid image header.
func ContainsScriptMarkup(data []byte) bool {
	lowered := bytes.ToLower(data)
	for _, sig := range scriptSignatures {
		if bytes.Contains(lowered, sig) {
			return true
		}
	}
	return false
}

// Checksum computes the SHA-256 hex digest of r.
func Checksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to compute checksum: %w", err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// VerifyChecksum compares the SHA-256 digest of r against want.
func VerifyChecksum(r io.Reader, want string) error {
	got, err := Checksum(r)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
	}
	return nil
}

// HumanSize renders a byte count for log lines and error messages.
func HumanSize(n int64) string {
	if n < 0 {
		return "unknown size"
	}
	return humanize.Bytes(uint64(n))
}

// ExplainTransferError turns an upload outcome code into a message suitable
// for showing the client.
func ExplainTransferError(code upload.Code) string {
	switch code {
	case upload.CodeOK:
		return "transfer completed"
	case upload.CodeTooLarge:
		return "the uploaded file exceeds the allowed size"
	case upload.CodePartial:
		return "the file was only partially uploaded"
	case upload.CodeMissing:
		return "no file was uploaded"
	case upload.CodeNoStagingDir:
		return "the staging directory is missing"
	case upload.CodeWriteFailed:
		return "failed to write the uploaded file to disk"
	case upload.CodeBlocked:
		return "the upload was blocked by policy"
	default:
		return fmt.Sprintf("unknown transfer failure (code %d)", code)
	}
}
