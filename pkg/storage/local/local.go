package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"depot/internal/log"
	"depot/pkg/storage"
)

func init() {
	storage.Register(storage.Local, NewLocalStorage)
}

// streamChunkSize bounds how much of a file sits in memory during StreamRead.
const streamChunkSize = 256 * 1024

type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string, _ map[string]string) (storage.Storage, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}
	return &LocalStorage{basePath: abs}, nil
}

func (l *LocalStorage) full(path string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(path))
}

func (l *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(l.full(path))
	if err != nil {
		if os.IsNotExist(err) {
			// A dangling symlink counts as absent.
			if _, lstatErr := os.Lstat(l.full(path)); lstatErr == nil {
				log.Logger.Debugf("Broken symlink detected: %s", l.full(path))
			}
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *LocalStorage) IsDir(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(l.full(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (l *LocalStorage) IsFile(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(l.full(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (l *LocalStorage) IsReadable(ctx context.Context, path string) (bool, error) {
	f, err := os.Open(l.full(path))
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return false, nil
		}
		return false, err
	}
	f.Close()
	return true, nil
}

func (l *LocalStorage) IsWritable(ctx context.Context, path string) (bool, error) {
	full := l.full(path)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		probe, err := os.CreateTemp(full, ".writable-*")
		if err != nil {
			return false, nil
		}
		probe.Close()
		os.Remove(probe.Name())
		return true, nil
	}
	f, err := os.OpenFile(full, os.O_WRONLY, 0)
	if err != nil {
		return false, nil
	}
	f.Close()
	return true, nil
}

func (l *LocalStorage) Read(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(l.full(path))
}

func (l *LocalStorage) Write(ctx context.Context, path string, data []byte) error {
	full := l.full(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (l *LocalStorage) Store(ctx context.Context, path string, reader io.Reader) error {
	full := l.full(path)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	file, err := os.Create(full)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(file, reader)
	return err
}

func (l *LocalStorage) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	full := l.full(path)

	file, err := os.Open(full)
	if err != nil {
		// Retry through a resolved symlink before giving up.
		if realPath, evalErr := filepath.EvalSymlinks(full); evalErr == nil {
			log.Logger.Debugf("Resolved symlink %s -> %s", full, realPath)
			return os.Open(realPath)
		}
		log.Logger.Debugf("Failed to open file %s: %v", full, err)
	}
	return file, err
}

func (l *LocalStorage) StreamRead(ctx context.Context, path string, offset, length int64, w io.Writer) (int64, error) {
	file, err := os.Open(l.full(path))
	if err != nil {
		return 0, err
	}
	defer file.Close()

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return 0, err
		}
	}

	var src io.Reader = file
	if length >= 0 {
		src = io.LimitReader(file, length)
	}

	var total int64
	buf := make([]byte, streamChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := w.Write(buf[:n])
			total += int64(wn)
			if writeErr != nil {
				return total, writeErr
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

func (l *LocalStorage) Delete(ctx context.Context, path string) error {
	return os.RemoveAll(l.full(path))
}

func (l *LocalStorage) MkDir(ctx context.Context, path string, recursive bool) error {
	if recursive {
		return os.MkdirAll(l.full(path), 0o755)
	}
	return os.Mkdir(l.full(path), 0o755)
}

func (l *LocalStorage) Move(ctx context.Context, src, dst string) error {
	fullSrc, fullDst := l.full(src), l.full(dst)
	if err := os.MkdirAll(filepath.Dir(fullDst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(fullSrc, fullDst); err == nil {
		return nil
	}
	// Cross-device fallback: copy then remove.
	if err := l.Copy(ctx, src, dst); err != nil {
		return err
	}
	return os.RemoveAll(fullSrc)
}

func (l *LocalStorage) Copy(ctx context.Context, src, dst string) error {
	fullSrc, fullDst := l.full(src), l.full(dst)

	info, err := os.Stat(fullSrc)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(fullSrc, fullDst, info.Mode())
	}

	return filepath.WalkDir(fullSrc, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(fullSrc, path)
		if err != nil {
			return err
		}
		target := filepath.Join(fullDst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		entryInfo, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, entryInfo.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (l *LocalStorage) Rename(ctx context.Context, src, dst string) error {
	if filepath.Dir(src) != filepath.Dir(dst) {
		return fmt.Errorf("rename across directories: %s -> %s", src, dst)
	}
	return os.Rename(l.full(src), l.full(dst))
}

func (l *LocalStorage) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	return os.Chmod(l.full(path), mode)
}

func (l *LocalStorage) List(ctx context.Context, prefix string, opts storage.ListOptions) ([]storage.FileInfo, error) {
	fullPath := l.full(prefix)

	// A missing prefix yields an empty listing, not an error.
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return []storage.FileInfo{}, nil
	}

	var files []storage.FileInfo
	err := filepath.WalkDir(fullPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Logger.Debugf("Warning: failed to access %s: %v", path, err)
			return nil
		}
		if path == fullPath {
			return nil
		}

		originalPath := path
		if d.Type()&fs.ModeSymlink != 0 {
			realPath, err := filepath.EvalSymlinks(path)
			if err != nil {
				log.Logger.Debugf("Warning: broken symlink %s: %v", path, err)
				return nil
			}
			realInfo, err := os.Stat(realPath)
			if err != nil {
				log.Logger.Debugf("Warning: failed to stat symlink target %s: %v", realPath, err)
				return nil
			}
			d = fs.FileInfoToDirEntry(realInfo)
		}

		relPath, err := filepath.Rel(fullPath, originalPath)
		if err != nil {
			log.Logger.Debugf("Warning: failed to get relative path for %s: %v", originalPath, err)
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if opts.MaxDepth >= 0 {
			depth := strings.Count(relPath, "/")
			if depth > opts.MaxDepth {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			log.Logger.Debugf("Warning: failed to get info for %s: %v", originalPath, err)
			return nil
		}

		if d.IsDir() {
			if opts.IncludeDirs {
				files = append(files, storage.FileInfo{
					Name:      relPath,
					Size:      info.Size(),
					IsDir:     true,
					IsPackage: l.isPackageDirectory(originalPath),
					ModTime:   info.ModTime(),
				})
			}
			return nil
		}

		if len(opts.Extensions) > 0 && !matchExtension(d.Name(), opts.Extensions) {
			return nil
		}

		files = append(files, storage.FileInfo{
			Name:    relPath,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

func matchExtension(name string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range allowed {
		if ext == strings.ToLower(a) {
			return true
		}
	}
	return false
}

// isPackageDirectory reports whether the directory directly holds a
// committed package archive.
func (l *LocalStorage) isPackageDirectory(dirPath string) bool {
	realDirPath := dirPath
	if resolved, err := filepath.EvalSymlinks(dirPath); err == nil {
		realDirPath = resolved
	}
	matches, err := filepath.Glob(filepath.Join(realDirPath, "*.zip"))
	return err == nil && len(matches) > 0
}

func (l *LocalStorage) Filesize(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(l.full(path))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (l *LocalStorage) Mtime(ctx context.Context, path string) (time.Time, error) {
	info, err := os.Stat(l.full(path))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (l *LocalStorage) Stat(ctx context.Context, path string) (storage.FileInfo, error) {
	info, err := os.Stat(l.full(path))
	if err != nil {
		return storage.FileInfo{}, err
	}
	return storage.FileInfo{
		Name:      filepath.ToSlash(path),
		Size:      info.Size(),
		IsDir:     info.IsDir(),
		IsPackage: info.IsDir() && l.isPackageDirectory(l.full(path)),
		ModTime:   info.ModTime(),
	}, nil
}

func (l *LocalStorage) GetPath(path string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(path))
}
