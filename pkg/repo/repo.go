// Package repo implements the sandboxed package repository engine: slug
// resolution, the atomic archive-upload pipeline, asset ingestion, and the
// trash/restore lifecycle. All raw I/O goes through pkg/storage; all path
// safety goes through internal/pathutil.
package repo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Type describes one package type hosted by the repository. The set of
// implementations is closed; anything not registered with the factory is
// rejected before any path is built.
type Type interface {
	// Name is the type identifier callers select with ("plugin").
	Name() string

	// Dir is the first-level subdirectory the type owns ("plugins").
	Dir() string

	// SidecarName is the required metadata file inside every archive.
	SidecarName() string

	// ValidateAssetName checks filename against the accepted set for the
	// category and returns the name to store under. existing lists the
	// package's current asset filenames; screenshot validation uses it to
	// assign the next free index.
	ValidateAssetName(category, filename string, existing []string) (string, error)

	// Headers parses the sidecar's leading "Key: value" block.
	Headers(text string) map[string]string

	// Sections splits the sidecar into its "== Section ==" bodies.
	Sections(text string) map[string]string
}

// Asset categories understood by the engine.
const (
	CategoryIcon       = "icon"
	CategoryBanner     = "banner"
	CategoryScreenshot = "screenshot"
	CategoryCover      = "cover"
)

// SidecarFormat implements the shared sidecar text format: a header block of
// "Key: value" lines up to the first section marker, then named sections
// delimited by "== Name ==" lines. Type implementations embed it.
type SidecarFormat struct{}

var (
	// Exactly two equals marks a section; a "=== Title ===" line is the
	// sidecar title, not a section boundary.
	sectionMarker = regexp.MustCompile(`(?m)^[ \t]*==[ \t]*([^=\n]+?)[ \t]*==[ \t]*$`)
	headerKey     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 _-]{0,39}$`)
)

func (SidecarFormat) Headers(text string) map[string]string {
	headers := make(map[string]string)
	body := text
	if loc := sectionMarker.FindStringIndex(text); loc != nil {
		body = text[:loc[0]]
	}
	for _, line := range strings.Split(body, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if !headerKey.MatchString(key) {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}

func (SidecarFormat) Sections(text string) map[string]string {
	sections := make(map[string]string)
	markers := sectionMarker.FindAllStringSubmatchIndex(text, -1)
	for i, m := range markers {
		name := strings.TrimSpace(text[m[2]:m[3]])
		end := len(text)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		sections[name] = strings.TrimSpace(text[m[1]:end])
	}
	return sections
}

// ImageExtensions is the closed set of extensions assets may carry; the
// delete path probes each of them when the caller's name has the wrong one.
var ImageExtensions = []string{"png", "jpg", "jpeg", "gif", "svg"}

var screenshotName = regexp.MustCompile(`^screenshot-(\d+)\.(png|jpg|gif)$`)

// ValidateFixedAssetName accepts filename only when it is one of allowed,
// otherwise fails naming the accepted set.
func ValidateFixedAssetName(filename string, allowed []string) (string, error) {
	for _, a := range allowed {
		if filename == a {
			return filename, nil
		}
	}
	return "", fmt.Errorf("%w: %q is not one of [%s]",
		ErrAssetValidation, filename, strings.Join(allowed, ", "))
}

// ValidateScreenshotName accepts names already in screenshot-{n} form, and
// renames anything else with an image extension to the next free index.
func ValidateScreenshotName(filename string, existing []string) (string, error) {
	if screenshotName.MatchString(filename) {
		return filename, nil
	}

	ext := strings.ToLower(strings.TrimPrefix(extOf(filename), "."))
	if ext != "png" && ext != "jpg" && ext != "gif" {
		return "", fmt.Errorf("%w: %q must match screenshot-{n}.{png,jpg,gif}",
			ErrAssetValidation, filename)
	}
	return fmt.Sprintf("screenshot-%d.%s", NextScreenshotIndex(existing), ext), nil
}

// NextScreenshotIndex scans existing asset names and returns one past the
// highest screenshot index in use, starting at 1.
func NextScreenshotIndex(existing []string) int {
	max := 0
	for _, name := range existing {
		m := screenshotName.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}

// ScreenshotIndex reports the index of a screenshot-{n} name, or false.
func ScreenshotIndex(filename string) (int, bool) {
	m := screenshotName.FindStringSubmatch(filename)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

// IconNames, BannerNames and CoverNames are the fixed per-category sets
// shared by the package types that accept the category.
var (
	IconNames = []string{
		"icon-128x128.png", "icon-128x128.jpg", "icon-128x128.gif",
		"icon-256x256.png", "icon-256x256.jpg", "icon-256x256.gif",
		"icon.svg",
	}
	BannerNames = []string{
		"banner-772x250.png", "banner-772x250.jpg",
		"banner-1544x500.png", "banner-1544x500.jpg",
	}
	CoverNames = []string{"cover.png", "cover.jpg"}
)

// ErrUnknownCategory builds the validation failure for a category the
// package type does not accept, naming the ones it does.
func ErrUnknownCategory(category string, accepted ...string) error {
	return fmt.Errorf("%w: category %q (accepted: %s)",
		ErrAssetValidation, category, strings.Join(accepted, ", "))
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}
