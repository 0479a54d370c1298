package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSidecarFormat_Headers(t *testing.T) {
	text := "Plugin Name: Widget\n" +
		"Version: 1.2.0\n" +
		"not a header line\n" +
		"Tags: tools, files\n" +
		"\n" +
		"== Description ==\n" +
		"Hidden: should not be parsed\n"

	headers := SidecarFormat{}.Headers(text)
	assert.Equal(t, "Widget", headers["Plugin Name"])
	assert.Equal(t, "1.2.0", headers["Version"])
	assert.Equal(t, "tools, files", headers["Tags"])
	assert.NotContains(t, headers, "Hidden")
}

func TestSidecarFormat_Sections(t *testing.T) {
	text := "Version: 1.0\n" +
		"\n" +
		"== Description ==\n" +
		"Does widget things.\n" +
		"\n" +
		"== Changelog ==\n" +
		"= 1.0 =\n" +
		"Initial release.\n"

	sections := SidecarFormat{}.Sections(text)
	require.Len(t, sections, 2)
	assert.Equal(t, "Does widget things.", sections["Description"])
	assert.Contains(t, sections["Changelog"], "Initial release.")
}

func TestValidateFixedAssetName(t *testing.T) {
	got, err := ValidateFixedAssetName("icon-128x128.png", IconNames)
	require.NoError(t, err)
	assert.Equal(t, "icon-128x128.png", got)

	_, err = ValidateFixedAssetName("icon-999x999.png", IconNames)
	require.ErrorIs(t, err, ErrAssetValidation)
	assert.Contains(t, err.Error(), "icon-128x128.png")
	assert.Contains(t, err.Error(), "icon.svg")
}

func TestValidateScreenshotName(t *testing.T) {
	got, err := ValidateScreenshotName("screenshot-3.png", nil)
	require.NoError(t, err)
	assert.Equal(t, "screenshot-3.png", got)

	got, err = ValidateScreenshotName("vacation photo.jpg", []string{
		"screenshot-1.png", "screenshot-4.jpg", "icon.svg",
	})
	require.NoError(t, err)
	assert.Equal(t, "screenshot-5.jpg", got)

	_, err = ValidateScreenshotName("notes.txt", nil)
	assert.ErrorIs(t, err, ErrAssetValidation)
}

func TestNextScreenshotIndex(t *testing.T) {
	assert.Equal(t, 1, NextScreenshotIndex(nil))
	assert.Equal(t, 3, NextScreenshotIndex([]string{"screenshot-1.png", "screenshot-2.gif"}))
	assert.Equal(t, 11, NextScreenshotIndex([]string{"screenshot-10.jpg", "banner-772x250.png"}))
}

func TestScreenshotIndex(t *testing.T) {
	n, ok := ScreenshotIndex("screenshot-7.gif")
	require.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = ScreenshotIndex("cover.png")
	assert.False(t, ok)
}
