// Package pathutil normalizes and validates path segments and file names
// before they are handed to a storage backend. Every violation is fatal to
// the enclosing operation; nothing here silently truncates and continues.
package pathutil

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrIllegalPath indicates a path containing traversal, encoding tricks
	// or NUL bytes.
	ErrIllegalPath = errors.New("depot: illegal path")

	// ErrIllegalCharacters indicates a path segment with characters outside
	// the allowed set.
	ErrIllegalCharacters = errors.New("depot: illegal characters in path")
)

// MaxFilenameLength is the byte limit SanitizeFilename truncates to,
// extension included.
const MaxFilenameLength = 128

// FallbackFilename is returned when sanitization leaves nothing usable.
const FallbackFilename = "file"

var (
	segmentRe   = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	percentRe   = regexp.MustCompile(`%[0-9a-fA-F]{2}`)
	entityRe    = regexp.MustCompile(`&#?[0-9a-zA-Z]+;`)
	driveRe     = regexp.MustCompile(`^[A-Za-z]:$`)
	collapseRe  = regexp.MustCompile(`[\s._]+`)
	hyphenRunRe = regexp.MustCompile(`-{2,}`)
	reservedRe  = regexp.MustCompile(`(?i)^(con|prn|aux|nul|com[1-9]|lpt[1-9])$`)
)

// SanitizePath splits raw on both separator styles and validates every
// segment. A leading POSIX root or drive letter is preserved; anything that
// smells like traversal ("..", percent- or entity-encoded segments, NUL) is
// rejected. Deterministic: the same input always yields the same output or
// the same error.
func SanitizePath(raw string) (string, error) {
	if strings.ContainsRune(raw, 0) {
		return "", ErrIllegalPath
	}

	unified := strings.ReplaceAll(raw, `\`, "/")
	absolute := strings.HasPrefix(unified, "/")

	var drive string
	segments := strings.Split(unified, "/")
	if len(segments) > 0 && driveRe.MatchString(segments[0]) {
		drive = segments[0]
		segments = segments[1:]
	}

	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			return "", ErrIllegalPath
		}
		if percentRe.MatchString(seg) || entityRe.MatchString(seg) {
			return "", ErrIllegalPath
		}
		if !segmentRe.MatchString(seg) {
			return "", ErrIllegalCharacters
		}
		out = append(out, seg)
	}

	joined := strings.Join(out, "/")
	switch {
	case drive != "":
		return drive + "/" + joined, nil
	case absolute:
		return "/" + joined, nil
	default:
		return joined, nil
	}
}

// JoinPath joins non-empty, non-dot segments with a single separator. A
// leading slash on the first raw segment and a trailing slash on the last are
// preserved.
func JoinPath(segments ...string) string {
	if len(segments) == 0 {
		return ""
	}

	leading := strings.HasPrefix(segments[0], "/")
	trailing := strings.HasSuffix(segments[len(segments)-1], "/")

	parts := make([]string, 0, len(segments))
	for _, raw := range segments {
		for _, seg := range strings.Split(raw, "/") {
			if seg == "" || seg == "." {
				continue
			}
			parts = append(parts, seg)
		}
	}

	joined := strings.Join(parts, "/")
	if leading {
		joined = "/" + joined
	}
	if trailing && joined != "" && joined != "/" {
		joined += "/"
	}
	return joined
}

// SanitizeFilename turns an arbitrary client-supplied name into something
// safe to store as a single path component. It URL-decodes, normalizes and
// transliterates Unicode, strips control characters and traversal sequences,
// collapses whitespace/dots/underscores to hyphens, rejects reserved device
// names, and truncates to MaxFilenameLength keeping the extension intact.
// An empty result falls back to FallbackFilename.
func SanitizeFilename(raw string, preserveExtension bool) string {
	name := raw

	// Decode until stable so double-encoded traversal cannot slip through.
	for i := 0; i < 3; i++ {
		decoded, err := url.QueryUnescape(name)
		if err != nil || decoded == name {
			break
		}
		name = decoded
	}

	name = transliterate(name)
	name = strings.Map(func(r rune) rune {
		if r == 0 || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, `\`, "-")

	ext := ""
	if preserveExtension {
		if idx := strings.LastIndex(name, "."); idx > 0 && idx < len(name)-1 {
			ext = strings.ToLower(name[idx+1:])
			name = name[:idx]
			if !segmentRe.MatchString(ext) {
				ext = ""
			}
		}
	}

	name = collapseRe.ReplaceAllString(name, "-")
	name = hyphenRunRe.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return -1
		}
	}, name)

	if name == "" || reservedRe.MatchString(name) {
		name = FallbackFilename
	}

	if ext != "" {
		budget := MaxFilenameLength - len(ext) - 1
		if budget < 1 {
			budget = 1
		}
		if len(name) > budget {
			name = name[:budget]
			name = strings.TrimRight(name, "-")
		}
		return name + "." + ext
	}
	if len(name) > MaxFilenameLength {
		name = strings.TrimRight(name[:MaxFilenameLength], "-")
	}
	return name
}

// transliterate decomposes accented characters and drops the combining marks,
// so "café" becomes "cafe".
func transliterate(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
