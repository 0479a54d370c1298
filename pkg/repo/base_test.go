package repo_test

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depot/internal/log"
	"depot/internal/types"
	"depot/internal/upload"
	"depot/pkg/repo"
	"depot/pkg/storage"

	_ "depot/pkg/repo/plugin"
	_ "depot/pkg/repo/software"
	_ "depot/pkg/repo/theme"
	_ "depot/pkg/storage/local"
)

func TestMain(m *testing.M) {
	log.Init("", "debug")
	os.Exit(m.Run())
}

func newTestEngine(t *testing.T) (*repo.Engine, string, string) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.Create(storage.Local, root, nil)
	require.NoError(t, err)
	return repo.NewEngine(store, repo.Options{}), root, t.TempDir()
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func stageFile(t *testing.T, staging, name string, data []byte) upload.File {
	t.Helper()
	src := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(src, data, 0o644))
	f, err := upload.Stage(staging, name, src)
	require.NoError(t, err)
	return f
}

func widgetZip(t *testing.T) []byte {
	return buildZip(t, map[string]string{
		"widget/readme.txt": "=== Widget ===\n" +
			"Plugin Name: Widget\n" +
			"Version: 1.0.0\n" +
			"\n" +
			"== Description ==\n" +
			"Does widget things.\n",
		"widget/widget.php": "<?php echo 'widget';",
	})
}

func pngBytes(payload string) []byte {
	return append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, []byte(payload)...)
}

// snapshot reads every regular file under dir into a map keyed by relative
// path, for byte-identical before/after comparisons.
func snapshot(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files[rel] = data
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestSwitch_FailsClosed(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Switch("rpm")
	assert.ErrorIs(t, err, repo.ErrDirectoryNotAllowed)

	for _, typeName := range []string{"plugin", "theme", "software"} {
		_, err := engine.Switch(typeName)
		assert.NoError(t, err)
	}
}

func TestUploadArchive_Commit(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)

	f := stageFile(t, staging, "widget.zip", widgetZip(t))
	result, err := rep.UploadArchive(context.Background(), f, "widget.zip", false)
	require.NoError(t, err)
	assert.Equal(t, "widget", result.Slug)

	archive, err := os.ReadFile(filepath.Join(root, "plugins", "widget", "widget.zip"))
	require.NoError(t, err)
	assert.Equal(t, widgetZip(t), archive)

	sidecar, err := os.ReadFile(filepath.Join(root, "plugins", "widget", "readme.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(sidecar), "Version: 1.0.0")

	// The staging copy is consumed by a successful upload.
	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadArchive_SlugDerivation(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)

	data := buildZip(t, map[string]string{
		"widget/readme.txt": "Version: 2.0\n",
	})
	f := stageFile(t, staging, "Widget.2.0.zip", data)
	result, err := rep.UploadArchive(context.Background(), f, "Widget.2.0.zip", false)
	require.NoError(t, err)
	assert.Equal(t, "widget", result.Slug)
	assert.FileExists(t, filepath.Join(root, "plugins", "widget", "widget.zip"))
}

func TestUploadArchive_DuplicateSlug(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)

	ctx := context.Background()
	f := stageFile(t, staging, "widget.zip", widgetZip(t))
	_, err = rep.UploadArchive(ctx, f, "widget.zip", false)
	require.NoError(t, err)

	before := snapshot(t, filepath.Join(root, "plugins", "widget"))

	f2 := stageFile(t, staging, "widget.zip", buildZip(t, map[string]string{
		"widget/readme.txt": "Version: 9.9\n",
	}))
	_, err = rep.UploadArchive(ctx, f2, "widget.zip", false)
	require.ErrorIs(t, err, repo.ErrSlugExists)

	assert.Equal(t, before, snapshot(t, filepath.Join(root, "plugins", "widget")))
}

func TestUploadArchive_MissingSidecar_LeavesNoTrace(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)

	data := buildZip(t, map[string]string{
		"widget/widget.php": "<?php",
	})
	f := stageFile(t, staging, "widget.zip", data)
	_, err = rep.UploadArchive(context.Background(), f, "widget.zip", false)
	require.ErrorIs(t, err, repo.ErrSidecarMissing)

	assert.NoDirExists(t, filepath.Join(root, "plugins", "widget"))
}

func TestUploadArchive_UpdateRollback(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)

	ctx := context.Background()
	f := stageFile(t, staging, "widget.zip", widgetZip(t))
	_, err = rep.UploadArchive(ctx, f, "widget.zip", false)
	require.NoError(t, err)

	before := snapshot(t, filepath.Join(root, "plugins", "widget"))

	// The replacement archive has no sidecar, so the update must fail and
	// put the original archive and sidecar back.
	bad := buildZip(t, map[string]string{
		"widget/widget.php": "<?php v2",
	})
	f2 := stageFile(t, staging, "widget.zip", bad)
	_, err = rep.UploadArchive(ctx, f2, "widget.zip", true)
	require.ErrorIs(t, err, repo.ErrSidecarMissing)

	assert.Equal(t, before, snapshot(t, filepath.Join(root, "plugins", "widget")))
}

func TestUploadArchive_UpdateCreatesMissingDirectory(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)

	f := stageFile(t, staging, "widget.zip", widgetZip(t))
	_, err = rep.UploadArchive(context.Background(), f, "widget.zip", true)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "plugins", "widget", "widget.zip"))
}

func TestUploadArchive_Validation(t *testing.T) {
	engine, _, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	ctx := context.Background()

	f := stageFile(t, staging, "widget.tar", []byte("not a zip"))
	_, err = rep.UploadArchive(ctx, f, "widget.tar", false)
	assert.ErrorIs(t, err, repo.ErrInvalidArchiveType)

	f = stageFile(t, staging, "widget.zip", []byte("garbage bytes, not a zip"))
	_, err = rep.UploadArchive(ctx, f, "widget.zip", false)
	assert.ErrorIs(t, err, repo.ErrArchiveUnreadable)

	_, err = rep.UploadArchive(ctx, upload.Failed("widget.zip", upload.CodePartial), "widget.zip", false)
	assert.ErrorIs(t, err, repo.ErrUploadTransport)

	f = stageFile(t, staging, "widget.zip", widgetZip(t))
	_, err = rep.UploadArchive(ctx, f, "...", false)
	assert.ErrorIs(t, err, repo.ErrInvalidSlug)
}

func TestUploadArchive_SizeLimit(t *testing.T) {
	root := t.TempDir()
	store, err := storage.Create(storage.Local, root, nil)
	require.NoError(t, err)
	engine := repo.NewEngine(store, repo.Options{MaxArchiveSize: 16})

	rep, err := engine.Switch("plugin")
	require.NoError(t, err)

	f := stageFile(t, t.TempDir(), "widget.zip", widgetZip(t))
	_, err = rep.UploadArchive(context.Background(), f, "widget.zip", false)
	require.ErrorIs(t, err, repo.ErrUploadTransport)
	assert.NoDirExists(t, filepath.Join(root, "plugins", "widget"))
}

func TestEnterSlug_Idempotent(t *testing.T) {
	engine, _, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = rep.EnterSlug(ctx, "widget")
	assert.ErrorIs(t, err, repo.ErrSlugNotFound)

	f := stageFile(t, staging, "widget.zip", widgetZip(t))
	_, err = rep.UploadArchive(ctx, f, "widget.zip", false)
	require.NoError(t, err)

	first, err := rep.EnterSlug(ctx, "widget")
	require.NoError(t, err)
	second, err := rep.EnterSlug(ctx, "widget")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTrashRestore_RoundTrip(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	ctx := context.Background()

	f := stageFile(t, staging, "widget.zip", widgetZip(t))
	_, err = rep.UploadArchive(ctx, f, "widget.zip", false)
	require.NoError(t, err)

	live := filepath.Join(root, "plugins", "widget")
	before := snapshot(t, live)

	require.NoError(t, rep.Trash(ctx, "widget"))
	assert.NoDirExists(t, live)
	assert.FileExists(t, filepath.Join(root, ".trash", "plugins", "widget", ".trashed"))

	entries, err := rep.TrashEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "widget", entries[0].Slug)
	assert.False(t, entries[0].TrashedAt.IsZero())

	require.NoError(t, rep.Restore(ctx, "widget"))
	assert.NoFileExists(t, filepath.Join(live, ".trashed"))
	assert.Equal(t, before, snapshot(t, live))
	assert.NoDirExists(t, filepath.Join(root, ".trash", "plugins", "widget"))
}

func TestTrash_MissingSlug(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)

	assert.ErrorIs(t, rep.Trash(context.Background(), "ghost"), repo.ErrSlugNotFound)
	assert.ErrorIs(t, rep.Restore(context.Background(), "ghost"), repo.ErrTrashNotFound)
}

func TestRestore_Conflict(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	ctx := context.Background()

	f := stageFile(t, staging, "widget.zip", widgetZip(t))
	_, err = rep.UploadArchive(ctx, f, "widget.zip", false)
	require.NoError(t, err)
	require.NoError(t, rep.Trash(ctx, "widget"))

	// A fresh upload takes the slug back while the trash entry still exists.
	f2 := stageFile(t, staging, "widget.zip", widgetZip(t))
	_, err = rep.UploadArchive(ctx, f2, "widget.zip", false)
	require.NoError(t, err)

	liveBefore := snapshot(t, filepath.Join(root, "plugins", "widget"))
	trashBefore := snapshot(t, filepath.Join(root, ".trash", "plugins", "widget"))

	err = rep.Restore(ctx, "widget")
	require.ErrorIs(t, err, repo.ErrRestoreConflict)

	assert.Equal(t, liveBefore, snapshot(t, filepath.Join(root, "plugins", "widget")))
	assert.Equal(t, trashBefore, snapshot(t, filepath.Join(root, ".trash", "plugins", "widget")))
}

func uploadWidget(t *testing.T, rep *repo.Repository, staging string) {
	t.Helper()
	f := stageFile(t, staging, "widget.zip", widgetZip(t))
	_, err := rep.UploadArchive(context.Background(), f, "widget.zip", false)
	require.NoError(t, err)
}

func TestUploadAssets_IconValidation(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	uploadWidget(t, rep, staging)

	files := []upload.File{
		stageFile(t, staging, "icon-128x128.png", pngBytes("icon data")),
		stageFile(t, staging, "icon-999x999.png", pngBytes("wrong size")),
	}
	batch, err := rep.UploadAssets(context.Background(), "widget", files, repo.CategoryIcon)
	require.NoError(t, err)

	require.Len(t, batch.Uploaded, 1)
	assert.Equal(t, "icon-128x128.png", batch.Uploaded[0].Name)
	assert.Greater(t, batch.Uploaded[0].Version, int64(0))
	assert.FileExists(t, filepath.Join(root, "plugins", "widget", "assets", "icon-128x128.png"))

	require.Len(t, batch.Failed, 1)
	assert.Equal(t, "icon-999x999.png", batch.Failed[0].Name)
	assert.Contains(t, batch.Failed[0].Reason, "icon-128x128.png")
}

func TestUploadAssets_ScreenshotNumbering(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	uploadWidget(t, rep, staging)
	ctx := context.Background()

	batch, err := rep.UploadAssets(ctx, "widget", []upload.File{
		stageFile(t, staging, "first shot.png", pngBytes("one")),
	}, repo.CategoryScreenshot)
	require.NoError(t, err)
	require.Len(t, batch.Uploaded, 1)
	assert.Equal(t, "screenshot-1.png", batch.Uploaded[0].Name)

	batch, err = rep.UploadAssets(ctx, "widget", []upload.File{
		stageFile(t, staging, "second.png", pngBytes("two")),
	}, repo.CategoryScreenshot)
	require.NoError(t, err)
	require.Len(t, batch.Uploaded, 1)
	assert.Equal(t, "screenshot-2.png", batch.Uploaded[0].Name)

	assert.FileExists(t, filepath.Join(root, "plugins", "widget", "assets", "screenshot-1.png"))
	assert.FileExists(t, filepath.Join(root, "plugins", "widget", "assets", "screenshot-2.png"))
}

func TestUploadAssets_RejectsScriptPayload(t *testing.T) {
	engine, _, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	uploadWidget(t, rep, staging)

	// A polyglot: valid PNG magic with script markup buried in the body.
	payload := pngBytes("garbage <?php system($_GET['c']); ?>")
	batch, err := rep.UploadAssets(context.Background(), "widget", []upload.File{
		stageFile(t, staging, "icon-128x128.png", payload),
	}, repo.CategoryIcon)
	require.NoError(t, err)
	require.Len(t, batch.Failed, 1)
	assert.Contains(t, batch.Failed[0].Reason, "script markup")
}

func TestUploadAssets_RejectsNonImage(t *testing.T) {
	engine, _, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	uploadWidget(t, rep, staging)

	batch, err := rep.UploadAssets(context.Background(), "widget", []upload.File{
		stageFile(t, staging, "icon-128x128.png", []byte("plain text, no image magic")),
	}, repo.CategoryIcon)
	require.NoError(t, err)
	require.Len(t, batch.Failed, 1)
	assert.Contains(t, batch.Failed[0].Reason, "not an image")
}

func TestPutAsset_ReplacesScreenshotIndex(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	uploadWidget(t, rep, staging)
	ctx := context.Background()

	_, err = rep.PutAsset(ctx, "widget",
		stageFile(t, staging, "screenshot-1.png", pngBytes("v1")), repo.CategoryScreenshot)
	require.NoError(t, err)

	ref, err := rep.PutAsset(ctx, "widget",
		stageFile(t, staging, "screenshot-1.jpg", jpegBytes("v2")), repo.CategoryScreenshot)
	require.NoError(t, err)
	assert.Equal(t, "screenshot-1.jpg", ref.Name)

	assetDir := filepath.Join(root, "plugins", "widget", "assets")
	assert.NoFileExists(t, filepath.Join(assetDir, "screenshot-1.png"))
	assert.FileExists(t, filepath.Join(assetDir, "screenshot-1.jpg"))
}

func jpegBytes(payload string) []byte {
	return append([]byte{0xff, 0xd8, 0xff, 0xe0}, []byte(payload)...)
}

func TestGetAssets_And_Delete(t *testing.T) {
	engine, _, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	uploadWidget(t, rep, staging)
	ctx := context.Background()

	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg"><circle r="4"/></svg>`)
	_, err = rep.PutAsset(ctx, "widget",
		stageFile(t, staging, "icon.svg", svg), repo.CategoryIcon)
	require.NoError(t, err)

	refs, err := rep.GetAssets(ctx, "widget", repo.CategoryIcon)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "icon.svg", refs[0].Name)
	assert.NotEmpty(t, refs[0].URL)

	// The caller asks with the wrong extension; every image extension is
	// probed before giving up.
	require.NoError(t, rep.DeleteAsset(ctx, "widget", "icon.png"))

	refs, err = rep.GetAssets(ctx, "widget", repo.CategoryIcon)
	require.NoError(t, err)
	assert.Empty(t, refs)

	err = rep.DeleteAsset(ctx, "widget", "icon.png")
	assert.ErrorIs(t, err, repo.ErrAssetNotFound)
}

func TestGetAssetPath(t *testing.T) {
	engine, _, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	uploadWidget(t, rep, staging)
	ctx := context.Background()

	_, err = rep.GetAssetPath(ctx, "widget", "icon-128x128.png")
	assert.ErrorIs(t, err, repo.ErrAssetNotFound)

	_, err = rep.PutAsset(ctx, "widget",
		stageFile(t, staging, "icon-128x128.png", pngBytes("x")), repo.CategoryIcon)
	require.NoError(t, err)

	p, err := rep.GetAssetPath(ctx, "widget", "icon-128x128.png")
	require.NoError(t, err)
	assert.Contains(t, p, "icon-128x128.png")
}

func TestManifest(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	uploadWidget(t, rep, staging)
	ctx := context.Background()

	rec := types.PackageRecord{
		Name:             "Widget",
		Slug:             "widget",
		Version:          "1.0.0",
		ShortDescription: "Does widget things.",
	}

	manifest, err := rep.GetAppManifest(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "Widget", manifest["name"])
	assert.Equal(t, "widget", manifest["slug"])
	assert.Equal(t, "1.0.0", manifest["version"])
	assert.FileExists(t, filepath.Join(root, "plugins", "widget", "app-manifest.json"))

	// Free-form fields in the cached file survive a rebuild; the identity
	// block always comes from the live record.
	cached := filepath.Join(root, "plugins", "widget", "app-manifest.json")
	require.NoError(t, os.WriteFile(cached,
		[]byte(`{"name":"stale","homepage":"https://example.com","slug":"widget"}`), 0o644))

	rec.Version = "2.0.0"
	manifest, err = rep.RegenerateAppManifest(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "Widget", manifest["name"])
	assert.Equal(t, "2.0.0", manifest["version"])
	assert.Equal(t, "https://example.com", manifest["homepage"])

	// A corrupt cache forces a rebuild on read.
	require.NoError(t, os.WriteFile(cached, []byte("{broken"), 0o644))
	manifest, err = rep.GetAppManifest(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "Widget", manifest["name"])
}

func TestSidecar_RegeneratesFromArchive(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	uploadWidget(t, rep, staging)
	ctx := context.Background()

	cached := filepath.Join(root, "plugins", "widget", "readme.txt")
	require.NoError(t, os.Remove(cached))

	text, err := rep.Sidecar(ctx, "widget")
	require.NoError(t, err)
	assert.Contains(t, text, "Version: 1.0.0")
	assert.FileExists(t, cached)
}

func TestMeta_RoundTrip(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("plugin")
	require.NoError(t, err)
	uploadWidget(t, rep, staging)
	ctx := context.Background()

	v, err := rep.GetMeta(ctx, "widget", "downloads")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, rep.SetMeta(ctx, "widget", "downloads", "42"))
	v, err = rep.GetMeta(ctx, "widget", "downloads")
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	assert.FileExists(t, filepath.Join(root, "plugins", "widget", "meta.json"))
}

func TestEngineSetup(t *testing.T) {
	engine, root, _ := newTestEngine(t)
	require.NoError(t, engine.Setup(context.Background()))

	for _, dir := range []string{"plugins", "themes", "software", ".trash"} {
		assert.DirExists(t, filepath.Join(root, dir))
		assert.FileExists(t, filepath.Join(root, dir, "index.html"))
	}
	assert.FileExists(t, filepath.Join(root, "index.html"))
}

func TestThemeSidecarAndCover(t *testing.T) {
	engine, root, staging := newTestEngine(t)
	rep, err := engine.Switch("theme")
	require.NoError(t, err)
	ctx := context.Background()

	data := buildZip(t, map[string]string{
		"dusk/style.txt":  "Theme Name: Dusk\nVersion: 0.3\n",
		"dusk/layout.css": "body{}",
	})
	f := stageFile(t, staging, "dusk.zip", data)
	result, err := rep.UploadArchive(ctx, f, "dusk.zip", false)
	require.NoError(t, err)
	assert.Equal(t, "dusk", result.Slug)
	assert.FileExists(t, filepath.Join(root, "themes", "dusk", "style.txt"))

	ref, err := rep.PutAsset(ctx, "dusk",
		stageFile(t, staging, "cover.png", pngBytes("cover")), repo.CategoryCover)
	require.NoError(t, err)
	assert.Equal(t, "cover.png", ref.Name)

	// Themes accept no banners.
	_, err = rep.PutAsset(ctx, "dusk",
		stageFile(t, staging, "banner-772x250.png", pngBytes("b")), repo.CategoryBanner)
	assert.ErrorIs(t, err, repo.ErrAssetValidation)
}
