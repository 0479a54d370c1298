// Package app wires configuration, logging, storage and the repository
// engine into the CLI actions.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli"

	"depot/internal/config"
	"depot/internal/log"
	"depot/internal/pathutil"
	"depot/internal/types"
	"depot/internal/upload"
	"depot/pkg/repo"
	"depot/pkg/storage"
)

const Name = "depot"

func bootstrap(c *cli.Context) (*repo.Engine, *config.Config, error) {
	cfgPath := c.GlobalString("config")
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("failed to load config %s: %w", cfgPath, err)
		}
		cfg = &config.Config{}
	}

	if v := c.GlobalString("root"); v != "" {
		cfg.RootPath = v
	}
	if v := c.GlobalString("staging"); v != "" {
		cfg.StagingPath = v
	}
	if v := c.GlobalString("storage-type"); v != "" {
		cfg.Storage.Type = v
	}
	if cfg.RootPath == "" {
		cfg.RootPath = "./depot-data"
	}
	if cfg.StagingPath == "" {
		cfg.StagingPath = "./depot-staging"
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = string(storage.Local)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if c.GlobalBool("debug") {
		cfg.LogLevel = "debug"
		cfg.DevMode = true
	}

	log.Init(cfg.Log, cfg.LogLevel)

	store, err := storage.Create(storage.StorageType(cfg.Storage.Type), cfg.RootPath, cfg.Storage.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s storage: %w", cfg.Storage.Type, err)
	}

	engine := repo.NewEngine(store, repo.Options{
		MaxArchiveSize: cfg.Limits.MaxArchiveSize,
		MaxAssetSize:   cfg.Limits.MaxAssetSize,
	})
	return engine, cfg, nil
}

// Setup prepares the repository root, the trash root and the local staging
// directory, all with directory-listing placeholders.
func Setup(c *cli.Context) error {
	engine, cfg, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer log.Close()

	if err := engine.Setup(context.Background()); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.StagingPath, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	placeholder := filepath.Join(cfg.StagingPath, "index.html")
	if _, err := os.Stat(placeholder); os.IsNotExist(err) {
		if err := os.WriteFile(placeholder, []byte{}, 0o644); err != nil {
			return err
		}
	}

	log.Logger.Infof("Repository initialized at %s (types: %v)", cfg.RootPath, repo.TypeNames())
	return nil
}

// Upload stages a local archive and runs it through the upload pipeline.
func Upload(c *cli.Context) error {
	if c.NArg() < 2 {
		return cli.NewExitError("usage: upload <type> <archive-file>", 1)
	}
	engine, cfg, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer log.Close()

	rep, err := engine.Switch(c.Args().Get(0))
	if err != nil {
		return err
	}

	src := c.Args().Get(1)
	name := c.String("name")
	if name == "" {
		name = filepath.Base(src)
	}

	f, err := upload.Stage(cfg.StagingPath, name, src)
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", src, err)
	}

	result, err := rep.UploadArchive(context.Background(), f, name, c.Bool("update"))
	if err != nil {
		return err
	}
	return printJSON(result)
}

// Assets stages a batch of image files and ingests them for one package.
func Assets(c *cli.Context) error {
	if c.NArg() < 4 {
		return cli.NewExitError("usage: assets <type> <slug> <category> <file>...", 1)
	}
	engine, cfg, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer log.Close()

	rep, err := engine.Switch(c.Args().Get(0))
	if err != nil {
		return err
	}

	var files []upload.File
	for _, src := range c.Args()[3:] {
		f, err := upload.Stage(cfg.StagingPath, filepath.Base(src), src)
		if err != nil {
			// The batch is partial-failure tolerant; hand the engine the
			// failed transfer so it lands in the result set.
			log.Logger.Warnf("Failed to stage %s: %v", src, err)
		}
		files = append(files, f)
	}

	batch, err := rep.UploadAssets(context.Background(), c.Args().Get(1), files, c.Args().Get(2))
	if err != nil {
		return err
	}
	return printJSON(batch)
}

// PutAsset replaces a single asset.
func PutAsset(c *cli.Context) error {
	if c.NArg() != 4 {
		return cli.NewExitError("usage: put-asset <type> <slug> <category> <file>", 1)
	}
	engine, cfg, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer log.Close()

	rep, err := engine.Switch(c.Args().Get(0))
	if err != nil {
		return err
	}

	src := c.Args().Get(3)
	f, err := upload.Stage(cfg.StagingPath, filepath.Base(src), src)
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", src, err)
	}

	ref, err := rep.PutAsset(context.Background(), c.Args().Get(1), f, c.Args().Get(2))
	if err != nil {
		return err
	}
	return printJSON(ref)
}

// ListAssets prints the stored assets of one category.
func ListAssets(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.NewExitError("usage: list-assets <type> <slug> <category>", 1)
	}
	engine, _, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer log.Close()

	rep, err := engine.Switch(c.Args().Get(0))
	if err != nil {
		return err
	}
	refs, err := rep.GetAssets(context.Background(), c.Args().Get(1), c.Args().Get(2))
	if err != nil {
		return err
	}
	return printJSON(refs)
}

// DeleteAsset removes one stored asset, probing every image extension.
func DeleteAsset(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.NewExitError("usage: delete-asset <type> <slug> <filename>", 1)
	}
	engine, _, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer log.Close()

	rep, err := engine.Switch(c.Args().Get(0))
	if err != nil {
		return err
	}
	return rep.DeleteAsset(context.Background(), c.Args().Get(1), c.Args().Get(2))
}

// Trash moves a package into the trash root.
func Trash(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.NewExitError("usage: trash <type> <slug>", 1)
	}
	engine, _, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer log.Close()

	rep, err := engine.Switch(c.Args().Get(0))
	if err != nil {
		return err
	}
	return rep.Trash(context.Background(), c.Args().Get(1))
}

// Restore moves a trashed package back to its live location.
func Restore(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.NewExitError("usage: restore <type> <slug>", 1)
	}
	engine, _, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer log.Close()

	rep, err := engine.Switch(c.Args().Get(0))
	if err != nil {
		return err
	}
	return rep.Restore(context.Background(), c.Args().Get(1))
}

// Manifest regenerates (or reads) the app manifest for a package, with the
// identity block supplied on the command line standing in for the caller's
// catalog record.
func Manifest(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.NewExitError("usage: manifest <type> <slug>", 1)
	}
	engine, _, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer log.Close()

	rep, err := engine.Switch(c.Args().Get(0))
	if err != nil {
		return err
	}

	rec := types.PackageRecord{
		Name:             c.String("name"),
		Slug:             c.Args().Get(1),
		Version:          c.String("version"),
		ShortDescription: c.String("description"),
	}
	if rec.Name == "" {
		rec.Name = rec.Slug
	}

	ctx := context.Background()
	var manifest map[string]interface{}
	if c.Bool("regen") {
		manifest, err = rep.RegenerateAppManifest(ctx, rec)
	} else {
		manifest, err = rep.GetAppManifest(ctx, rec)
	}
	if err != nil {
		return err
	}
	return printJSON(manifest)
}

// Info prints the parsed sidecar headers and section names of a package.
func Info(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.NewExitError("usage: info <type> <slug>", 1)
	}
	engine, _, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer log.Close()

	rep, err := engine.Switch(c.Args().Get(0))
	if err != nil {
		return err
	}

	text, err := rep.Sidecar(context.Background(), c.Args().Get(1))
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"headers":  rep.Type().Headers(text),
		"sections": rep.Type().Sections(text),
	})
}

// GC permanently deletes trash entries older than the retention window.
// Expiry policy lives here, outside the engine.
func GC(c *cli.Context) error {
	engine, cfg, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer log.Close()

	days := c.Int("older-than")
	if days <= 0 {
		days = cfg.Trash.RetentionDays
	}
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	ctx := context.Background()
	removed := 0
	for _, typeName := range repo.TypeNames() {
		rep, err := engine.Switch(typeName)
		if err != nil {
			return err
		}
		entries, err := rep.TrashEntries(ctx)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.TrashedAt.IsZero() || entry.TrashedAt.After(cutoff) {
				continue
			}
			p := pathutil.JoinPath(repo.TrashDir, rep.Type().Dir(), entry.Slug)
			if err := engine.Storage().Delete(ctx, p); err != nil {
				log.Logger.Warnf("Failed to collect %s: %v", p, err)
				continue
			}
			removed++
			log.Logger.Infof("Collected %s/%s (trashed %s)",
				entry.Type, entry.Slug, entry.TrashedAt.Format(time.RFC3339))
		}
	}
	fmt.Printf("removed %d trash entries older than %d days\n", removed, days)
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
