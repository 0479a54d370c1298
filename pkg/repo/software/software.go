// Package software hosts generic software bundles: descriptor.txt sidecar,
// the full asset surface (icons, banners, cover, screenshots).
package software

import (
	"depot/pkg/repo"
)

func init() {
	repo.Register("software", NewSoftwareType)
}

type SoftwareType struct {
	repo.SidecarFormat
}

func NewSoftwareType() repo.Type {
	return &SoftwareType{}
}

func (t *SoftwareType) Name() string {
	return "software"
}

func (t *SoftwareType) Dir() string {
	return "software"
}

func (t *SoftwareType) SidecarName() string {
	return "descriptor.txt"
}

func (t *SoftwareType) ValidateAssetName(category, filename string, existing []string) (string, error) {
	switch category {
	case repo.CategoryIcon:
		return repo.ValidateFixedAssetName(filename, repo.IconNames)
	case repo.CategoryBanner:
		return repo.ValidateFixedAssetName(filename, repo.BannerNames)
	case repo.CategoryCover:
		return repo.ValidateFixedAssetName(filename, repo.CoverNames)
	case repo.CategoryScreenshot:
		return repo.ValidateScreenshotName(filename, existing)
	default:
		return "", repo.ErrUnknownCategory(category, "icon", "banner", "cover", "screenshot")
	}
}
