// Package theme hosts theme-style packages: style.txt sidecar, a single
// cover image, auto-numbered screenshots.
package theme

import (
	"depot/pkg/repo"
)

func init() {
	repo.Register("theme", NewThemeType)
}

type ThemeType struct {
	repo.SidecarFormat
}

func NewThemeType() repo.Type {
	return &ThemeType{}
}

func (t *ThemeType) Name() string {
	return "theme"
}

func (t *ThemeType) Dir() string {
	return "themes"
}

func (t *ThemeType) SidecarName() string {
	return "style.txt"
}

func (t *ThemeType) ValidateAssetName(category, filename string, existing []string) (string, error) {
	switch category {
	case repo.CategoryCover:
		return repo.ValidateFixedAssetName(filename, repo.CoverNames)
	case repo.CategoryScreenshot:
		return repo.ValidateScreenshotName(filename, existing)
	default:
		return "", repo.ErrUnknownCategory(category, "cover", "screenshot")
	}
}
