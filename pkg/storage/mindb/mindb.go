// Package mindb backs the storage interface with an embedded object store.
// Directories are represented as zero-byte objects whose key ends in "/".
package mindb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/elastic-io/mindb"

	"depot/internal/inspect"
	"depot/pkg/storage"
)

func init() {
	storage.Register(storage.MinDB, NewMinDBStorage)
}

const (
	defaultBucket = "depot"
	listPageSize  = 1000
)

type MinDBStorage struct {
	db     *mindb.DB
	bucket string
}

func NewMinDBStorage(dbPath string, conf map[string]string) (storage.Storage, error) {
	db, err := mindb.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open mindb at %s: %w", dbPath, err)
	}

	bucket := defaultBucket
	if conf != nil && conf["bucket"] != "" {
		bucket = conf["bucket"]
	}

	exists, err := db.BucketExists(bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := db.CreateBucket(bucket); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinDBStorage{db: db, bucket: bucket}, nil
}

func normalizePath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, `\`, "/")), "/")
}

func dirKey(p string) string {
	key := normalizePath(p)
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	return key
}

func (m *MinDBStorage) put(key string, data []byte, contentType string) error {
	return m.db.PutObject(m.bucket, &mindb.ObjectData{
		Key:         key,
		Data:        data,
		Size:        int64(len(data)),
		ContentType: contentType,
		Metadata: map[string]string{
			"upload-time": time.Now().UTC().Format(time.RFC3339),
		},
		LastModified: time.Now(),
	})
}

func (m *MinDBStorage) Exists(ctx context.Context, p string) (bool, error) {
	key := normalizePath(p)

	if _, err := m.db.GetObject(m.bucket, key); err == nil {
		return true, nil
	}
	if _, err := m.db.GetObject(m.bucket, key+"/"); err == nil {
		return true, nil
	}

	objects, _, err := m.db.ListObjects(m.bucket, key+"/", "", "", 1)
	if err != nil {
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return len(objects) > 0, nil
}

func (m *MinDBStorage) IsDir(ctx context.Context, p string) (bool, error) {
	key := dirKey(p)
	if _, err := m.db.GetObject(m.bucket, key); err == nil {
		return true, nil
	}
	objects, _, err := m.db.ListObjects(m.bucket, key, "", "", 1)
	if err != nil {
		return false, err
	}
	return len(objects) > 0, nil
}

func (m *MinDBStorage) IsFile(ctx context.Context, p string) (bool, error) {
	key := normalizePath(p)
	if strings.HasSuffix(key, "/") {
		return false, nil
	}
	_, err := m.db.GetObject(m.bucket, key)
	return err == nil, nil
}

// Object stores carry no per-object access modes: readable means present,
// and anything present is writable.
func (m *MinDBStorage) IsReadable(ctx context.Context, p string) (bool, error) {
	return m.Exists(ctx, p)
}

func (m *MinDBStorage) IsWritable(ctx context.Context, p string) (bool, error) {
	return m.Exists(ctx, p)
}

func (m *MinDBStorage) Read(ctx context.Context, p string) ([]byte, error) {
	obj, err := m.db.GetObject(m.bucket, normalizePath(p))
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", p, err)
	}
	return obj.Data, nil
}

func (m *MinDBStorage) Write(ctx context.Context, p string, data []byte) error {
	key := normalizePath(p)
	if err := m.put(key, data, inspect.TypeByExtension(path.Ext(key))); err != nil {
		return fmt.Errorf("failed to put object %s: %w", p, err)
	}
	return nil
}

func (m *MinDBStorage) Store(ctx context.Context, p string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read upload data: %w", err)
	}
	return m.Write(ctx, p, data)
}

func (m *MinDBStorage) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	data, err := m.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MinDBStorage) StreamRead(ctx context.Context, p string, offset, length int64, w io.Writer) (int64, error) {
	data, err := m.Read(ctx, p)
	if err != nil {
		return 0, err
	}
	if offset >= int64(len(data)) {
		return 0, nil
	}
	end := int64(len(data))
	if length >= 0 && offset+length < end {
		end = offset + length
	}
	n, err := w.Write(data[offset:end])
	return int64(n), err
}

func (m *MinDBStorage) Delete(ctx context.Context, p string) error {
	key := normalizePath(p)

	if isDir, _ := m.IsDir(ctx, key); isDir {
		return m.deleteDirectory(key)
	}
	if err := m.db.DeleteObject(m.bucket, key); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", p, err)
	}
	return nil
}

func (m *MinDBStorage) deleteDirectory(dirPath string) error {
	prefix := dirKey(dirPath)

	var marker string
	for {
		objects, _, err := m.db.ListObjects(m.bucket, prefix, marker, "", listPageSize)
		if err != nil {
			return fmt.Errorf("failed to list directory objects: %w", err)
		}
		for _, obj := range objects {
			if err := m.db.DeleteObject(m.bucket, obj.Key); err != nil {
				return fmt.Errorf("failed to delete object %s: %w", obj.Key, err)
			}
		}
		if len(objects) < listPageSize {
			break
		}
		marker = objects[len(objects)-1].Key
	}

	_ = m.db.DeleteObject(m.bucket, prefix)
	return nil
}

func (m *MinDBStorage) MkDir(ctx context.Context, p string, recursive bool) error {
	key := dirKey(p)
	if !recursive {
		return m.mkDirPlaceholder(key)
	}
	// Materialize every level so listings see the intermediate directories.
	parts := strings.Split(strings.TrimSuffix(key, "/"), "/")
	for i := range parts {
		if err := m.mkDirPlaceholder(strings.Join(parts[:i+1], "/") + "/"); err != nil {
			return err
		}
	}
	return nil
}

func (m *MinDBStorage) mkDirPlaceholder(key string) error {
	if err := m.db.PutObject(m.bucket, &mindb.ObjectData{
		Key:         key,
		Data:        []byte{},
		Size:        0,
		ContentType: "application/x-directory",
		Metadata: map[string]string{
			"is-directory": "true",
			"create-time":  time.Now().UTC().Format(time.RFC3339),
		},
		LastModified: time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", key, err)
	}
	return nil
}

func (m *MinDBStorage) Move(ctx context.Context, src, dst string) error {
	if err := m.Copy(ctx, src, dst); err != nil {
		return err
	}
	return m.Delete(ctx, src)
}

func (m *MinDBStorage) Copy(ctx context.Context, src, dst string) error {
	srcKey, dstKey := normalizePath(src), normalizePath(dst)

	if isDir, _ := m.IsDir(ctx, srcKey); !isDir {
		obj, err := m.db.GetObject(m.bucket, srcKey)
		if err != nil {
			return fmt.Errorf("failed to get object %s: %w", src, err)
		}
		return m.put(dstKey, obj.Data, obj.ContentType)
	}

	prefix := dirKey(srcKey)
	var marker string
	for {
		objects, _, err := m.db.ListObjects(m.bucket, prefix, marker, "", listPageSize)
		if err != nil {
			return fmt.Errorf("failed to list directory objects: %w", err)
		}
		for _, obj := range objects {
			target := dirKey(dstKey) + strings.TrimPrefix(obj.Key, prefix)
			src, err := m.db.GetObject(m.bucket, obj.Key)
			if err != nil {
				return fmt.Errorf("failed to get object %s: %w", obj.Key, err)
			}
			if err := m.put(target, src.Data, src.ContentType); err != nil {
				return fmt.Errorf("failed to copy object to %s: %w", target, err)
			}
		}
		if len(objects) < listPageSize {
			break
		}
		marker = objects[len(objects)-1].Key
	}

	return m.mkDirPlaceholder(dirKey(dstKey))
}

func (m *MinDBStorage) Rename(ctx context.Context, src, dst string) error {
	if path.Dir(normalizePath(src)) != path.Dir(normalizePath(dst)) {
		return fmt.Errorf("rename across directories: %s -> %s", src, dst)
	}
	return m.Move(ctx, src, dst)
}

// Chmod is a no-op: the object store has no permission bits.
func (m *MinDBStorage) Chmod(ctx context.Context, p string, mode os.FileMode) error {
	return nil
}

func (m *MinDBStorage) List(ctx context.Context, prefix string, opts storage.ListOptions) ([]storage.FileInfo, error) {
	var result []storage.FileInfo
	var marker string

	normalizedPrefix := normalizePath(prefix)
	if normalizedPrefix != "" {
		normalizedPrefix += "/"
	}

	seen := make(map[string]bool)
	directories := make(map[string]storage.FileInfo)

	for {
		objects, _, err := m.db.ListObjects(m.bucket, normalizedPrefix, marker, "", listPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range objects {
			if seen[obj.Key] {
				continue
			}
			seen[obj.Key] = true

			if !strings.HasPrefix(obj.Key, normalizedPrefix) {
				continue
			}
			relative := strings.TrimPrefix(obj.Key, normalizedPrefix)
			if relative == "" {
				continue
			}

			if strings.HasSuffix(obj.Key, "/") && obj.Size == 0 {
				if opts.IncludeDirs {
					dirName := strings.TrimSuffix(relative, "/")
					if dirName != "" && withinDepth(dirName, opts.MaxDepth) {
						directories[dirName] = storage.FileInfo{
							Name:      dirName,
							IsDir:     true,
							IsPackage: m.isPackageDirectory(obj.Key),
							ModTime:   obj.LastModified,
						}
					}
				}
				continue
			}

			if !withinDepth(relative, opts.MaxDepth) {
				continue
			}
			if len(opts.Extensions) > 0 && !matchExtension(relative, opts.Extensions) {
				continue
			}

			// Synthesize parent directories that have no placeholder.
			if opts.IncludeDirs {
				parts := strings.Split(relative, "/")
				for i := 1; i < len(parts); i++ {
					dir := strings.Join(parts[:i], "/")
					if _, ok := directories[dir]; !ok && withinDepth(dir, opts.MaxDepth) {
						directories[dir] = storage.FileInfo{
							Name:      dir,
							IsDir:     true,
							IsPackage: m.isPackageDirectory(normalizedPrefix + dir + "/"),
							ModTime:   obj.LastModified,
						}
					}
				}
			}

			result = append(result, storage.FileInfo{
				Name:    relative,
				Size:    obj.Size,
				ModTime: obj.LastModified,
			})
		}

		if len(objects) < listPageSize {
			break
		}
		marker = objects[len(objects)-1].Key
	}

	for _, dir := range directories {
		result = append(result, dir)
	}
	return result, nil
}

func withinDepth(relative string, maxDepth int) bool {
	if maxDepth < 0 {
		return true
	}
	return strings.Count(strings.Trim(relative, "/"), "/") <= maxDepth
}

func matchExtension(name string, allowed []string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, a := range allowed {
		if ext == strings.ToLower(a) {
			return true
		}
	}
	return false
}

// isPackageDirectory checks for an archive as a direct child of the
// directory key.
func (m *MinDBStorage) isPackageDirectory(key string) bool {
	prefix := dirKey(key)
	objects, _, err := m.db.ListObjects(m.bucket, prefix, "", "", listPageSize)
	if err != nil {
		return false
	}
	for _, obj := range objects {
		relative := strings.TrimPrefix(obj.Key, prefix)
		if !strings.Contains(relative, "/") && strings.HasSuffix(relative, ".zip") {
			return true
		}
	}
	return false
}

func (m *MinDBStorage) Filesize(ctx context.Context, p string) (int64, error) {
	obj, err := m.db.GetObject(m.bucket, normalizePath(p))
	if err != nil {
		return 0, fmt.Errorf("failed to get object %s: %w", p, err)
	}
	return obj.Size, nil
}

func (m *MinDBStorage) Mtime(ctx context.Context, p string) (time.Time, error) {
	obj, err := m.db.GetObject(m.bucket, normalizePath(p))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get object %s: %w", p, err)
	}
	return obj.LastModified, nil
}

func (m *MinDBStorage) Stat(ctx context.Context, p string) (storage.FileInfo, error) {
	key := normalizePath(p)

	if obj, err := m.db.GetObject(m.bucket, key); err == nil {
		return storage.FileInfo{
			Name:    key,
			Size:    obj.Size,
			ModTime: obj.LastModified,
		}, nil
	}

	if isDir, _ := m.IsDir(ctx, key); isDir {
		return storage.FileInfo{
			Name:      key,
			IsDir:     true,
			IsPackage: m.isPackageDirectory(key),
		}, nil
	}

	return storage.FileInfo{}, fmt.Errorf("object %s not found", p)
}

func (m *MinDBStorage) GetPath(p string) string {
	return fmt.Sprintf("mindb://%s/%s", m.bucket, normalizePath(p))
}

// Close shuts the underlying database down.
func (m *MinDBStorage) Close() error {
	return m.db.Close()
}
