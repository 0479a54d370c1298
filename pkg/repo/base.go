package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"depot/internal/cache"
	"depot/internal/inspect"
	"depot/internal/log"
	"depot/internal/metrics"
	"depot/internal/pathutil"
	"depot/internal/types"
	"depot/internal/upload"
	"depot/pkg/archive"
	"depot/pkg/storage"
)

const (
	// TrashDir is the reserved first-level subdirectory for trashed packages.
	TrashDir = ".trash"

	archiveExt   = "zip"
	assetsDir    = "assets"
	trashMarker  = ".trashed"
	manifestFile = "app-manifest.json"
	metaFile     = "meta.json"
	backupSuffix = ".bak"

	metaCacheTTL = 5 * time.Minute
)

// Options bounds the engine's inbound file sizes. Zero means unlimited.
type Options struct {
	MaxArchiveSize int64
	MaxAssetSize   int64
}

// Engine owns the repository root. It is constructed once at process start
// with an explicit storage adapter; repositories scoped to one package type
// are obtained through Switch.
type Engine struct {
	store storage.Storage
	cache cache.Cache
	locks lockTable
	opts  Options
}

func NewEngine(store storage.Storage, opts Options) *Engine {
	return &Engine{
		store: store,
		cache: cache.NewMemoryCache(),
		opts:  opts,
	}
}

// Storage exposes the adapter for callers that stream stored files out.
func (e *Engine) Storage() storage.Storage {
	return e.store
}

// Switch selects the active package type. Fails closed for any name not on
// the registered allow-list.
func (e *Engine) Switch(typeName string) (*Repository, error) {
	typ, err := NewType(typeName)
	if err != nil {
		return nil, err
	}
	return &Repository{eng: e, typ: typ}, nil
}

// Setup creates the type subdirectories, the trash root, and deny-by-default
// index placeholders so a misconfigured web server never lists contents.
func (e *Engine) Setup(ctx context.Context) error {
	dirs := []string{"", TrashDir}
	for _, name := range TypeNames() {
		typ, err := NewType(name)
		if err != nil {
			return err
		}
		dirs = append(dirs, typ.Dir(), pathutil.JoinPath(TrashDir, typ.Dir()))
	}

	for _, dir := range dirs {
		if dir != "" {
			if err := e.store.MkDir(ctx, dir, true); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		placeholder := pathutil.JoinPath(dir, "index.html")
		if ok, _ := e.store.IsFile(ctx, placeholder); ok {
			continue
		}
		if err := e.store.Write(ctx, placeholder, []byte{}); err != nil {
			return fmt.Errorf("failed to write placeholder in %s: %w", dir, err)
		}
	}
	return nil
}

// lockTable serializes operations per {type}/{slug}. Locks are held for the
// whole of an upload, trash or restore call and released on every exit path.
type lockTable struct {
	mu   sync.Mutex
	held map[string]*sync.Mutex
}

func (t *lockTable) lock(key string) func() {
	t.mu.Lock()
	if t.held == nil {
		t.held = make(map[string]*sync.Mutex)
	}
	m, ok := t.held[key]
	if !ok {
		m = &sync.Mutex{}
		t.held[key] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Repository is the engine scoped to one package type. All slug-scoped
// operations resolve paths under {type_dir}/ and nowhere else.
type Repository struct {
	eng *Engine
	typ Type
}

func (r *Repository) Type() Type {
	return r.typ
}

// SlugOf derives the canonical slug from an arbitrary caller-supplied name:
// first path segment, stripped from the first dot onward, lowercased.
func (r *Repository) SlugOf(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimLeft(name, "/")
	if i := strings.Index(name, "/"); i >= 0 {
		name = name[:i]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	slug := strings.ToLower(strings.TrimSpace(name))
	if slug == "" {
		return "", ErrInvalidSlug
	}
	if _, err := pathutil.SanitizePath(slug); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSlug, err)
	}
	return slug, nil
}

// Path builds a root-relative path under the active type directory.
func (r *Repository) Path(parts ...string) string {
	return pathutil.JoinPath(append([]string{r.typ.Dir()}, parts...)...)
}

// EnterSlug resolves the package directory for slug and requires it to
// already exist. Every slug-scoped operation passes through here.
func (r *Repository) EnterSlug(ctx context.Context, slug string) (string, error) {
	s, err := r.SlugOf(slug)
	if err != nil {
		return "", err
	}
	dir := r.Path(s)
	isDir, err := r.eng.store.IsDir(ctx, dir)
	if err != nil {
		return "", err
	}
	if !isDir {
		return "", fmt.Errorf("%w: %s/%s", ErrSlugNotFound, r.typ.Dir(), s)
	}
	return dir, nil
}

// Locate resolves slug to an opaque absolute path or URL.
func (r *Repository) Locate(ctx context.Context, slug string) (string, error) {
	dir, err := r.EnterSlug(ctx, slug)
	if err != nil {
		return "", err
	}
	return r.eng.store.GetPath(dir), nil
}

func (r *Repository) lockSlug(slug string) func() {
	unlock := r.eng.locks.lock(r.typ.Dir() + "/" + slug)
	metrics.IncrementActiveOperations()
	return func() {
		metrics.DecrementActiveOperations()
		unlock()
	}
}

// UploadArchive runs the all-or-nothing archive pipeline: validate the
// transfer, resolve the slug, prepare the directory, store and verify the
// archive, extract and cache the sidecar. Any failure past the directory
// step rolls the package back to its prior state.
func (r *Repository) UploadArchive(ctx context.Context, f upload.File, desiredName string, isUpdate bool) (*types.UploadResult, error) {
	if f == nil || !f.OK() {
		code := upload.CodeMissing
		if f != nil {
			code = f.Code()
		}
		return nil, fmt.Errorf("%w: %s", ErrUploadTransport, inspect.ExplainTransferError(code))
	}
	if strings.TrimSpace(desiredName) == "" {
		return nil, ErrInvalidSlug
	}
	if !f.Movable() {
		return nil, fmt.Errorf("%w: file did not arrive through the staging area", ErrUploadTransport)
	}
	if f.Ext() != archiveExt {
		return nil, fmt.Errorf("%w: .%s (want .%s)", ErrInvalidArchiveType, f.Ext(), archiveExt)
	}
	if r.eng.opts.MaxArchiveSize > 0 && f.Size() > r.eng.opts.MaxArchiveSize {
		return nil, fmt.Errorf("%w: archive is %s, limit is %s", ErrUploadTransport,
			inspect.HumanSize(f.Size()), inspect.HumanSize(r.eng.opts.MaxArchiveSize))
	}

	slug, err := r.SlugOf(desiredName)
	if err != nil {
		return nil, err
	}

	unlock := r.lockSlug(slug)
	defer unlock()

	pkgDir := r.Path(slug)
	archivePath := pathutil.JoinPath(pkgDir, slug+"."+archiveExt)
	sidecarPath := pathutil.JoinPath(pkgDir, r.typ.SidecarName())

	exists, err := r.eng.store.IsDir(ctx, pkgDir)
	if err != nil {
		return nil, err
	}
	if exists && !isUpdate {
		return nil, fmt.Errorf("%w: %s/%s", ErrSlugExists, r.typ.Dir(), slug)
	}

	created := false
	if !exists {
		if err := r.eng.store.MkDir(ctx, pkgDir, true); err != nil {
			return nil, fmt.Errorf("failed to create package directory: %w", err)
		}
		created = true
	}

	// Updates set the previous archive and sidecar aside so a failed
	// attempt restores the exact pre-update state.
	var backedUp []string
	if !created {
		for _, p := range []string{archivePath, sidecarPath} {
			ok, err := r.eng.store.IsFile(ctx, p)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if err := r.eng.store.Copy(ctx, p, p+backupSuffix); err != nil {
				return nil, fmt.Errorf("failed to back up %s: %w", p, err)
			}
			backedUp = append(backedUp, p)
		}
	}

	rollback := func(cause error) error {
		metrics.IncrementRollbacks()
		metrics.IncrementErrors()
		if created {
			if err := r.eng.store.Delete(ctx, pkgDir); err != nil {
				log.Logger.Warnf("Rollback failed to remove %s: %v", pkgDir, err)
			}
			return cause
		}
		for _, p := range []string{archivePath, sidecarPath} {
			if ok, _ := r.eng.store.IsFile(ctx, p); ok {
				if err := r.eng.store.Delete(ctx, p); err != nil {
					log.Logger.Warnf("Rollback failed to remove %s: %v", p, err)
				}
			}
		}
		for _, p := range backedUp {
			if err := r.eng.store.Move(ctx, p+backupSuffix, p); err != nil {
				log.Logger.Warnf("Rollback failed to restore %s: %v", p, err)
			}
		}
		return cause
	}

	src, err := f.Open()
	if err != nil {
		return nil, rollback(fmt.Errorf("%w: %v", ErrUploadTransport, err))
	}
	storeErr := r.eng.store.Store(ctx, archivePath, src)
	src.Close()
	if storeErr != nil {
		return nil, rollback(fmt.Errorf("failed to store archive: %w", storeErr))
	}
	if err := f.Discard(); err != nil {
		log.Logger.Warnf("Staging copy of %s not removed: %v", f.Name(), err)
	}
	if err := r.eng.store.Chmod(ctx, archivePath, 0o644); err != nil {
		return nil, rollback(fmt.Errorf("failed to set archive permissions: %w", err))
	}

	data, err := r.eng.store.Read(ctx, archivePath)
	if err != nil {
		return nil, rollback(fmt.Errorf("%w: %v", ErrArchiveUnreadable, err))
	}
	arc, err := archive.New(data)
	if err != nil {
		return nil, rollback(fmt.Errorf("%w: %v", ErrArchiveUnreadable, err))
	}
	if err := arc.Validate(); err != nil {
		return nil, rollback(fmt.Errorf("%w: %v", ErrArchiveUnreadable, err))
	}

	top, err := arc.TopLevelDir()
	if err != nil {
		return nil, rollback(fmt.Errorf("%w: %v", ErrArchiveUnreadable, err))
	}
	sidecarData, err := arc.ReadFile(top + "/" + r.typ.SidecarName())
	if err != nil {
		return nil, rollback(fmt.Errorf("%w: want %s/%s", ErrSidecarMissing, top, r.typ.SidecarName()))
	}
	if err := r.eng.store.Write(ctx, sidecarPath, sidecarData); err != nil {
		return nil, rollback(fmt.Errorf("%w: %v", ErrSidecarSave, err))
	}

	for _, p := range backedUp {
		if err := r.eng.store.Delete(ctx, p+backupSuffix); err != nil {
			log.Logger.Warnf("Failed to remove backup of %s: %v", p, err)
		}
	}

	metrics.IncrementUploads()
	log.Logger.Infof("Committed %s/%s (%s)", r.typ.Dir(), slug, inspect.HumanSize(arc.Size()))
	return &types.UploadResult{
		Slug:        slug,
		ArchivePath: r.eng.store.GetPath(archivePath),
		SidecarPath: r.eng.store.GetPath(sidecarPath),
	}, nil
}

// Sidecar returns the cached sidecar text for slug, regenerating the cache
// from the stored archive when it is missing or unreadable.
func (r *Repository) Sidecar(ctx context.Context, slug string) (string, error) {
	dir, err := r.EnterSlug(ctx, slug)
	if err != nil {
		return "", err
	}
	s, _ := r.SlugOf(slug)
	sidecarPath := pathutil.JoinPath(dir, r.typ.SidecarName())

	if data, err := r.eng.store.Read(ctx, sidecarPath); err == nil && len(data) > 0 {
		return string(data), nil
	}

	archiveData, err := r.eng.store.Read(ctx, pathutil.JoinPath(dir, s+"."+archiveExt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchiveUnreadable, err)
	}
	arc, err := archive.New(archiveData)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchiveUnreadable, err)
	}
	top, err := arc.TopLevelDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchiveUnreadable, err)
	}
	data, err := arc.ReadFile(top + "/" + r.typ.SidecarName())
	if err != nil {
		return "", fmt.Errorf("%w: want %s/%s", ErrSidecarMissing, top, r.typ.SidecarName())
	}
	if err := r.eng.store.Write(ctx, sidecarPath, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSidecarSave, err)
	}
	return string(data), nil
}

// UploadAssets ingests a batch of asset files into {slug}/assets/. The batch
// is partial-failure tolerant: each file succeeds or fails on its own.
func (r *Repository) UploadAssets(ctx context.Context, slug string, files []upload.File, category string) (*types.AssetBatch, error) {
	s, err := r.SlugOf(slug)
	if err != nil {
		return nil, err
	}
	if _, err := r.EnterSlug(ctx, s); err != nil {
		return nil, err
	}

	unlock := r.lockSlug(s)
	defer unlock()

	batch := &types.AssetBatch{}
	for _, f := range files {
		name := ""
		if f != nil {
			name = f.Name()
		}
		ref, err := r.ingestAsset(ctx, s, f, category, false)
		if err != nil {
			batch.Failed = append(batch.Failed, types.AssetFailure{Name: name, Reason: err.Error()})
			continue
		}
		batch.Uploaded = append(batch.Uploaded, *ref)
	}
	return batch, nil
}

// PutAsset ingests a single asset with replace semantics: a screenshot
// overwrite first deletes every stored extension of the same index so stale
// duplicates never accumulate.
func (r *Repository) PutAsset(ctx context.Context, slug string, f upload.File, category string) (*types.AssetRef, error) {
	s, err := r.SlugOf(slug)
	if err != nil {
		return nil, err
	}
	if _, err := r.EnterSlug(ctx, s); err != nil {
		return nil, err
	}

	unlock := r.lockSlug(s)
	defer unlock()

	return r.ingestAsset(ctx, s, f, category, true)
}

func (r *Repository) ingestAsset(ctx context.Context, slug string, f upload.File, category string, replace bool) (*types.AssetRef, error) {
	if f == nil || !f.OK() {
		code := upload.CodeMissing
		if f != nil {
			code = f.Code()
		}
		return nil, fmt.Errorf("%w: %s", ErrUploadTransport, inspect.ExplainTransferError(code))
	}
	if !f.Movable() {
		return nil, fmt.Errorf("%w: file did not arrive through the staging area", ErrUploadTransport)
	}
	if r.eng.opts.MaxAssetSize > 0 && f.Size() > r.eng.opts.MaxAssetSize {
		return nil, fmt.Errorf("%w: file is %s, limit is %s", ErrUploadTransport,
			inspect.HumanSize(f.Size()), inspect.HumanSize(r.eng.opts.MaxAssetSize))
	}

	name := pathutil.SanitizeFilename(f.Name(), true)
	existing, err := r.assetNames(ctx, slug)
	if err != nil {
		return nil, err
	}
	stored, err := r.typ.ValidateAssetName(category, name, existing)
	if err != nil {
		return nil, err
	}

	src, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadTransport, err)
	}
	data, readErr := io.ReadAll(src)
	src.Close()
	if readErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadTransport, readErr)
	}

	if !inspect.IsImage(data) {
		return nil, fmt.Errorf("%w: content sniffs as %q, not an image",
			ErrAssetValidation, inspect.Sniff(data))
	}
	if inspect.ContainsScriptMarkup(data) {
		return nil, fmt.Errorf("%w: %s", ErrMaliciousContent, stored)
	}

	dir := r.Path(slug, assetsDir)
	if err := r.eng.store.MkDir(ctx, dir, true); err != nil {
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}

	if replace {
		if idx, ok := ScreenshotIndex(stored); ok {
			r.deleteScreenshotIndex(ctx, dir, idx)
		}
	}

	dest := pathutil.JoinPath(dir, stored)
	if err := r.eng.store.Write(ctx, dest, data); err != nil {
		return nil, fmt.Errorf("failed to store asset: %w", err)
	}
	if err := r.eng.store.Chmod(ctx, dest, 0o644); err != nil {
		log.Logger.Warnf("Failed to set permissions on %s: %v", dest, err)
	}
	if err := f.Discard(); err != nil {
		log.Logger.Warnf("Staging copy of %s not removed: %v", f.Name(), err)
	}

	mtime, err := r.eng.store.Mtime(ctx, dest)
	if err != nil {
		mtime = time.Now()
	}
	metrics.IncrementAssets()
	return &types.AssetRef{
		Name:    stored,
		URL:     r.eng.store.GetPath(dest),
		Version: mtime.Unix(),
	}, nil
}

func (r *Repository) deleteScreenshotIndex(ctx context.Context, dir string, idx int) {
	for _, ext := range ImageExtensions {
		p := pathutil.JoinPath(dir, fmt.Sprintf("screenshot-%d.%s", idx, ext))
		if ok, _ := r.eng.store.IsFile(ctx, p); ok {
			if err := r.eng.store.Delete(ctx, p); err != nil {
				log.Logger.Warnf("Failed to remove stale screenshot %s: %v", p, err)
			}
		}
	}
}

func (r *Repository) assetNames(ctx context.Context, slug string) ([]string, error) {
	infos, err := r.eng.store.List(ctx, r.Path(slug, assetsDir), storage.ListOptions{MaxDepth: 0})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir {
			names = append(names, info.Name)
		}
	}
	return names, nil
}

// GetAssets returns public references for every stored asset of category,
// each carrying a cache-busting token from the file's modification time.
func (r *Repository) GetAssets(ctx context.Context, slug, category string) ([]types.AssetRef, error) {
	s, err := r.SlugOf(slug)
	if err != nil {
		return nil, err
	}
	if _, err := r.EnterSlug(ctx, s); err != nil {
		return nil, err
	}

	dir := r.Path(s, assetsDir)
	infos, err := r.eng.store.List(ctx, dir, storage.ListOptions{MaxDepth: 0})
	if err != nil {
		return nil, err
	}

	var refs []types.AssetRef
	for _, info := range infos {
		if info.IsDir || !matchCategory(info.Name, category) {
			continue
		}
		refs = append(refs, types.AssetRef{
			Name:    info.Name,
			URL:     r.eng.store.GetPath(pathutil.JoinPath(dir, info.Name)),
			Version: info.ModTime.Unix(),
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func matchCategory(name, category string) bool {
	if strings.HasPrefix(name, category+"-") {
		return true
	}
	base := name
	if i := strings.LastIndex(name, "."); i >= 0 {
		base = name[:i]
	}
	return base == category
}

// GetAssetPath resolves a stored asset and verifies it exists before
// returning its opaque path.
func (r *Repository) GetAssetPath(ctx context.Context, slug, filename string) (string, error) {
	s, err := r.SlugOf(slug)
	if err != nil {
		return "", err
	}
	if _, err := r.EnterSlug(ctx, s); err != nil {
		return "", err
	}

	name := pathutil.SanitizeFilename(filename, true)
	p := r.Path(s, assetsDir, name)
	ok, err := r.eng.store.IsFile(ctx, p)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAssetNotFound, name)
	}
	return r.eng.store.GetPath(p), nil
}

// DeleteAsset removes the stored asset matching filename. The caller may not
// know the true stored extension, so every allowed image extension is tried.
func (r *Repository) DeleteAsset(ctx context.Context, slug, filename string) error {
	s, err := r.SlugOf(slug)
	if err != nil {
		return err
	}
	if _, err := r.EnterSlug(ctx, s); err != nil {
		return err
	}

	name := pathutil.SanitizeFilename(filename, true)
	base := name
	if i := strings.LastIndex(name, "."); i >= 0 {
		base = name[:i]
	}

	for _, ext := range ImageExtensions {
		p := r.Path(s, assetsDir, base+"."+ext)
		ok, err := r.eng.store.IsFile(ctx, p)
		if err != nil {
			return err
		}
		if ok {
			return r.eng.store.Delete(ctx, p)
		}
	}
	return fmt.Errorf("%w: %s", ErrAssetNotFound, name)
}

// Trash moves the package directory into the trash root and stamps it with
// a timestamp marker. Expiry of trashed entries is the caller's policy; the
// engine only records when the move happened.
func (r *Repository) Trash(ctx context.Context, slug string) error {
	s, err := r.SlugOf(slug)
	if err != nil {
		return err
	}

	unlock := r.lockSlug(s)
	defer unlock()

	src := r.Path(s)
	isDir, err := r.eng.store.IsDir(ctx, src)
	if err != nil {
		return err
	}
	if !isDir {
		return fmt.Errorf("%w: %s/%s", ErrSlugNotFound, r.typ.Dir(), s)
	}

	trashTypeDir := pathutil.JoinPath(TrashDir, r.typ.Dir())
	if err := r.eng.store.MkDir(ctx, trashTypeDir, true); err != nil {
		return fmt.Errorf("failed to create trash directory: %w", err)
	}

	dst := pathutil.JoinPath(trashTypeDir, s)
	if ok, _ := r.eng.store.IsDir(ctx, dst); ok {
		return fmt.Errorf("a trash entry already exists for %s/%s", r.typ.Dir(), s)
	}
	if err := r.eng.store.Move(ctx, src, dst); err != nil {
		return fmt.Errorf("failed to move %s to trash: %w", src, err)
	}

	marker := pathutil.JoinPath(dst, trashMarker)
	stamp := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
	if err := r.eng.store.Write(ctx, marker, stamp); err != nil {
		// The entry must never sit in trash unstamped; undo the move.
		if moveErr := r.eng.store.Move(ctx, dst, src); moveErr != nil {
			log.Logger.Errorf("Failed to undo trash of %s: %v", src, moveErr)
		}
		return fmt.Errorf("failed to write trash marker: %w", err)
	}
	// A later upload may reuse the slug; its meta must come from disk.
	r.eng.cache.Delete(r.metaCacheKey(s))
	metrics.IncrementTrashed()
	return nil
}

// Restore moves a trashed package back to its live location and removes the
// timestamp marker. Fails without touching anything when a live directory
// already occupies the destination.
func (r *Repository) Restore(ctx context.Context, slug string) error {
	s, err := r.SlugOf(slug)
	if err != nil {
		return err
	}

	unlock := r.lockSlug(s)
	defer unlock()

	trashed := pathutil.JoinPath(TrashDir, r.typ.Dir(), s)
	isDir, err := r.eng.store.IsDir(ctx, trashed)
	if err != nil {
		return err
	}
	if !isDir {
		return fmt.Errorf("%w: %s/%s", ErrTrashNotFound, r.typ.Dir(), s)
	}

	dst := r.Path(s)
	if ok, _ := r.eng.store.IsDir(ctx, dst); ok {
		return fmt.Errorf("%w: %s", ErrRestoreConflict, dst)
	}

	if err := r.eng.store.Move(ctx, trashed, dst); err != nil {
		return fmt.Errorf("failed to restore %s: %w", s, err)
	}

	marker := pathutil.JoinPath(dst, trashMarker)
	if ok, _ := r.eng.store.IsFile(ctx, marker); ok {
		if err := r.eng.store.Delete(ctx, marker); err != nil {
			return fmt.Errorf("restored %s but failed to remove trash marker: %w", s, err)
		}
	}
	metrics.IncrementRestored()
	return nil
}

// TrashEntries lists the trashed packages of the active type with their
// recorded trash timestamps, for callers implementing expiry.
func (r *Repository) TrashEntries(ctx context.Context) ([]types.TrashEntry, error) {
	trashTypeDir := pathutil.JoinPath(TrashDir, r.typ.Dir())
	infos, err := r.eng.store.List(ctx, trashTypeDir, storage.ListOptions{
		MaxDepth:    0,
		IncludeDirs: true,
	})
	if err != nil {
		return nil, err
	}

	var entries []types.TrashEntry
	for _, info := range infos {
		if !info.IsDir {
			continue
		}
		entry := types.TrashEntry{Type: r.typ.Name(), Slug: info.Name}
		marker := pathutil.JoinPath(trashTypeDir, info.Name, trashMarker)
		if data, err := r.eng.store.Read(ctx, marker); err == nil {
			if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data))); err == nil {
				entry.TrashedAt = ts
			}
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Slug < entries[j].Slug })
	return entries, nil
}

// GetMeta reads one key from the package's metadata file. External consumers
// (analytics and the like) see only this key-value surface.
func (r *Repository) GetMeta(ctx context.Context, slug, key string) (string, error) {
	s, err := r.SlugOf(slug)
	if err != nil {
		return "", err
	}
	if _, err := r.EnterSlug(ctx, s); err != nil {
		return "", err
	}
	meta, err := r.readMeta(ctx, s)
	if err != nil {
		return "", err
	}
	return meta[key], nil
}

// SetMeta writes one key to the package's metadata file and refreshes the
// cache entry.
func (r *Repository) SetMeta(ctx context.Context, slug, key, value string) error {
	s, err := r.SlugOf(slug)
	if err != nil {
		return err
	}
	if _, err := r.EnterSlug(ctx, s); err != nil {
		return err
	}

	unlock := r.lockSlug(s)
	defer unlock()

	meta, err := r.readMeta(ctx, s)
	if err != nil {
		return err
	}
	meta[key] = value

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := r.eng.store.Write(ctx, r.Path(s, metaFile), data); err != nil {
		return fmt.Errorf("failed to persist metadata: %w", err)
	}
	r.eng.cache.Set(r.metaCacheKey(s), meta, metaCacheTTL)
	return nil
}

func (r *Repository) metaCacheKey(slug string) string {
	return "meta:" + r.typ.Dir() + "/" + slug
}

func (r *Repository) readMeta(ctx context.Context, slug string) (map[string]string, error) {
	if cached, ok := r.eng.cache.Get(r.metaCacheKey(slug)); ok {
		if meta, ok := cached.(map[string]string); ok {
			return meta, nil
		}
	}

	meta := make(map[string]string)
	p := r.Path(slug, metaFile)
	ok, err := r.eng.store.IsFile(ctx, p)
	if err != nil {
		return nil, err
	}
	if ok {
		data, err := r.eng.store.Read(ctx, p)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &meta); err != nil {
			log.Logger.Warnf("Metadata file %s is corrupt, starting fresh: %v", p, err)
			meta = make(map[string]string)
		}
	}
	r.eng.cache.Set(r.metaCacheKey(slug), meta, metaCacheTTL)
	return meta, nil
}
