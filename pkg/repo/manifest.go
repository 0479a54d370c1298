package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"depot/internal/log"
	"depot/internal/pathutil"
	"depot/internal/types"
)

// GetAppManifest returns the package's cached manifest when it parses, and
// rebuilds it otherwise. The identity block always reflects the live record.
func (r *Repository) GetAppManifest(ctx context.Context, rec types.PackageRecord) (map[string]interface{}, error) {
	dir, err := r.EnterSlug(ctx, rec.Slug)
	if err != nil {
		return nil, err
	}

	if data, err := r.eng.store.Read(ctx, pathutil.JoinPath(dir, manifestFile)); err == nil {
		var manifest map[string]interface{}
		if json.Unmarshal(data, &manifest) == nil {
			return manifest, nil
		}
	}
	return r.RegenerateAppManifest(ctx, rec)
}

// RegenerateAppManifest rebuilds the manifest: free-form fields already in
// the cached file survive, but name, slug, version and short_description are
// always taken from the live record, never from the cache.
func (r *Repository) RegenerateAppManifest(ctx context.Context, rec types.PackageRecord) (map[string]interface{}, error) {
	dir, err := r.EnterSlug(ctx, rec.Slug)
	if err != nil {
		return nil, err
	}
	path := pathutil.JoinPath(dir, manifestFile)

	manifest := make(map[string]interface{})
	if data, err := r.eng.store.Read(ctx, path); err == nil {
		// A corrupt cache contributes nothing; the rebuild starts clean.
		_ = json.Unmarshal(data, &manifest)
	}

	manifest["name"] = rec.Name
	manifest["slug"] = rec.Slug
	manifest["version"] = rec.Version
	manifest["short_description"] = rec.ShortDescription

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := r.eng.store.Write(ctx, path, data); err != nil {
		return nil, fmt.Errorf("failed to persist manifest: %w", err)
	}
	if err := r.eng.store.Chmod(ctx, path, 0o644); err != nil {
		log.Logger.Warnf("Failed to set permissions on %s: %v", path, err)
	}
	return manifest, nil
}
