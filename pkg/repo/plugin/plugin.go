// Package plugin hosts plugin-style packages: readme.txt sidecar, fixed
// icon and banner names, auto-numbered screenshots.
package plugin

import (
	"depot/pkg/repo"
)

func init() {
	repo.Register("plugin", NewPluginType)
}

type PluginType struct {
	repo.SidecarFormat
}

func NewPluginType() repo.Type {
	return &PluginType{}
}

func (t *PluginType) Name() string {
	return "plugin"
}

func (t *PluginType) Dir() string {
	return "plugins"
}

func (t *PluginType) SidecarName() string {
	return "readme.txt"
}

func (t *PluginType) ValidateAssetName(category, filename string, existing []string) (string, error) {
	switch category {
	case repo.CategoryIcon:
		return repo.ValidateFixedAssetName(filename, repo.IconNames)
	case repo.CategoryBanner:
		return repo.ValidateFixedAssetName(filename, repo.BannerNames)
	case repo.CategoryScreenshot:
		return repo.ValidateScreenshotName(filename, existing)
	default:
		return "", repo.ErrUnknownCategory(category, "icon", "banner", "screenshot")
	}
}
