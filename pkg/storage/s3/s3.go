// Package s3 backs the storage interface with any S3-compatible object
// store (MinIO, AWS S3, or a compatible CDN origin). Transient request
// failures are retried with exponential backoff.
package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/cenk/backoff"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"depot/internal/inspect"
	"depot/internal/log"
	"depot/pkg/storage"
)

func init() {
	storage.Register(storage.S3, NewS3Storage)
}

const streamChunkSize = 256 * 1024

type S3Storage struct {
	client *minio.Client
	bucket string
}

// NewS3Storage builds a client from conf: endpoint, access-key, secret-key,
// bucket, use-ssl. path is kept as a key prefix inside the bucket.
func NewS3Storage(root string, conf map[string]string) (storage.Storage, error) {
	if conf == nil {
		return nil, fmt.Errorf("s3 storage requires configuration")
	}

	client, err := minio.New(conf["endpoint"], &minio.Options{
		Creds:  credentials.NewStaticV4(conf["access-key"], conf["secret-key"], ""),
		Secure: conf["use-ssl"] == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	bucket := conf["bucket"]
	if bucket == "" {
		bucket = "depot"
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", bucket, err)
		}
		log.Logger.Infof("Created bucket %q", bucket)
	}

	return &S3Storage{client: client, bucket: bucket}, nil
}

func normalizeKey(p string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, `\`, "/")), "/")
}

func dirKey(p string) string {
	key := normalizeKey(p)
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	return key
}

// retry wraps an object-store call with bounded exponential backoff.
func retry(op func() error) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		// Missing keys are definitive; only network-ish failures retry.
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func isNotFound(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func (s *S3Storage) statKey(ctx context.Context, key string) (minio.ObjectInfo, error) {
	var info minio.ObjectInfo
	err := retry(func() error {
		var statErr error
		info, statErr = s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		return statErr
	})
	return info, err
}

func (s *S3Storage) Exists(ctx context.Context, p string) (bool, error) {
	key := normalizeKey(p)

	if _, err := s.statKey(ctx, key); err == nil {
		return true, nil
	} else if !isNotFound(err) {
		return false, err
	}
	return s.IsDir(ctx, p)
}

func (s *S3Storage) IsDir(ctx context.Context, p string) (bool, error) {
	prefix := dirKey(p)
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:  prefix,
		MaxKeys: 1,
	})
	for obj := range objects {
		if obj.Err != nil {
			return false, obj.Err
		}
		return true, nil
	}
	return false, nil
}

func (s *S3Storage) IsFile(ctx context.Context, p string) (bool, error) {
	key := normalizeKey(p)
	if strings.HasSuffix(key, "/") {
		return false, nil
	}
	_, err := s.statKey(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3Storage) IsReadable(ctx context.Context, p string) (bool, error) {
	return s.Exists(ctx, p)
}

func (s *S3Storage) IsWritable(ctx context.Context, p string) (bool, error) {
	return s.Exists(ctx, p)
}

func (s *S3Storage) Read(ctx context.Context, p string) ([]byte, error) {
	var data []byte
	err := retry(func() error {
		obj, err := s.client.GetObject(ctx, s.bucket, normalizeKey(p), minio.GetObjectOptions{})
		if err != nil {
			return err
		}
		defer obj.Close()
		data, err = io.ReadAll(obj)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", p, err)
	}
	return data, nil
}

func (s *S3Storage) Write(ctx context.Context, p string, data []byte) error {
	key := normalizeKey(p)
	err := retry(func() error {
		_, putErr := s.client.PutObject(ctx, s.bucket, key,
			strings.NewReader(string(data)), int64(len(data)),
			minio.PutObjectOptions{ContentType: inspect.TypeByExtension(path.Ext(key))})
		return putErr
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", p, err)
	}
	return nil
}

func (s *S3Storage) Store(ctx context.Context, p string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read upload data: %w", err)
	}
	return s.Write(ctx, p, data)
}

func (s *S3Storage) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, normalizeKey(p), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", p, err)
	}
	// GetObject is lazy; force the first stat so missing keys error here.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("failed to get object %s: %w", p, err)
	}
	return obj, nil
}

func (s *S3Storage) StreamRead(ctx context.Context, p string, offset, length int64, w io.Writer) (int64, error) {
	opts := minio.GetObjectOptions{}
	if length >= 0 {
		if err := opts.SetRange(offset, offset+length-1); err != nil {
			return 0, err
		}
	} else if offset > 0 {
		if err := opts.SetRange(offset, 0); err != nil {
			return 0, err
		}
	}

	obj, err := s.client.GetObject(ctx, s.bucket, normalizeKey(p), opts)
	if err != nil {
		return 0, fmt.Errorf("failed to get object %s: %w", p, err)
	}
	defer obj.Close()

	var total int64
	buf := make([]byte, streamChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, readErr := obj.Read(buf)
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
			// Reading past EOF on a ranged get surfaces as InvalidRange.
			if minio.ToErrorResponse(readErr).Code == "InvalidRange" {
				return total, nil
			}
			return total, readErr
		}
	}
}

func (s *S3Storage) Delete(ctx context.Context, p string) error {
	key := normalizeKey(p)

	if isDir, _ := s.IsDir(ctx, key); isDir {
		objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    dirKey(key),
			Recursive: true,
		})
		for obj := range objects {
			if obj.Err != nil {
				return obj.Err
			}
			if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
				return fmt.Errorf("failed to delete object %s: %w", obj.Key, err)
			}
		}
		return nil
	}

	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

func (s *S3Storage) MkDir(ctx context.Context, p string, recursive bool) error {
	key := dirKey(p)
	if !recursive {
		return s.putPlaceholder(ctx, key)
	}
	parts := strings.Split(strings.TrimSuffix(key, "/"), "/")
	for i := range parts {
		if err := s.putPlaceholder(ctx, strings.Join(parts[:i+1], "/")+"/"); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Storage) putPlaceholder(ctx context.Context, key string) error {
	err := retry(func() error {
		_, putErr := s.client.PutObject(ctx, s.bucket, key, strings.NewReader(""), 0,
			minio.PutObjectOptions{ContentType: "application/x-directory"})
		return putErr
	})
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", key, err)
	}
	return nil
}

func (s *S3Storage) Move(ctx context.Context, src, dst string) error {
	if err := s.Copy(ctx, src, dst); err != nil {
		return err
	}
	return s.Delete(ctx, src)
}

func (s *S3Storage) Copy(ctx context.Context, src, dst string) error {
	srcKey, dstKey := normalizeKey(src), normalizeKey(dst)

	copyOne := func(from, to string) error {
		return retry(func() error {
			_, err := s.client.CopyObject(ctx,
				minio.CopyDestOptions{Bucket: s.bucket, Object: to},
				minio.CopySrcOptions{Bucket: s.bucket, Object: from})
			return err
		})
	}

	if isDir, _ := s.IsDir(ctx, srcKey); !isDir {
		return copyOne(srcKey, dstKey)
	}

	prefix := dirKey(srcKey)
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return obj.Err
		}
		target := dirKey(dstKey) + strings.TrimPrefix(obj.Key, prefix)
		if err := copyOne(obj.Key, target); err != nil {
			return fmt.Errorf("failed to copy object %s: %w", obj.Key, err)
		}
	}
	return nil
}

func (s *S3Storage) Rename(ctx context.Context, src, dst string) error {
	if path.Dir(normalizeKey(src)) != path.Dir(normalizeKey(dst)) {
		return fmt.Errorf("rename across directories: %s -> %s", src, dst)
	}
	return s.Move(ctx, src, dst)
}

// Chmod is a no-op: access control lives on the bucket policy.
func (s *S3Storage) Chmod(ctx context.Context, p string, mode os.FileMode) error {
	return nil
}

func (s *S3Storage) List(ctx context.Context, prefix string, opts storage.ListOptions) ([]storage.FileInfo, error) {
	normalizedPrefix := normalizeKey(prefix)
	if normalizedPrefix != "" {
		normalizedPrefix += "/"
	}

	var result []storage.FileInfo
	directories := make(map[string]storage.FileInfo)

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    normalizedPrefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return nil, obj.Err
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
						Name:    dirName,
						IsDir:   true,
						ModTime: obj.LastModified,
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

		if opts.IncludeDirs {
			parts := strings.Split(relative, "/")
			for i := 1; i < len(parts); i++ {
				dir := strings.Join(parts[:i], "/")
				if _, ok := directories[dir]; !ok && withinDepth(dir, opts.MaxDepth) {
					directories[dir] = storage.FileInfo{
						Name:    dir,
						IsDir:   true,
						ModTime: obj.LastModified,
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

	for name, dir := range directories {
		dir.IsPackage = s.isPackageDirectory(ctx, normalizedPrefix+name+"/")
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

func (s *S3Storage) isPackageDirectory(ctx context.Context, prefix string) bool {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix})
	for obj := range objects {
		if obj.Err != nil {
			return false
		}
		relative := strings.TrimPrefix(obj.Key, prefix)
		if !strings.Contains(relative, "/") && strings.HasSuffix(relative, ".zip") {
			return true
		}
	}
	return false
}

func (s *S3Storage) Filesize(ctx context.Context, p string) (int64, error) {
	info, err := s.statKey(ctx, normalizeKey(p))
	if err != nil {
		return 0, fmt.Errorf("failed to stat object %s: %w", p, err)
	}
	return info.Size, nil
}

func (s *S3Storage) Mtime(ctx context.Context, p string) (time.Time, error) {
	info, err := s.statKey(ctx, normalizeKey(p))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat object %s: %w", p, err)
	}
	return info.LastModified, nil
}

func (s *S3Storage) Stat(ctx context.Context, p string) (storage.FileInfo, error) {
	key := normalizeKey(p)

	if info, err := s.statKey(ctx, key); err == nil {
		return storage.FileInfo{
			Name:    key,
			Size:    info.Size,
			ModTime: info.LastModified,
		}, nil
	} else if !isNotFound(err) {
		return storage.FileInfo{}, err
	}

	if isDir, err := s.IsDir(ctx, key); err == nil && isDir {
		return storage.FileInfo{
			Name:      key,
			IsDir:     true,
			IsPackage: s.isPackageDirectory(ctx, dirKey(key)),
		}, nil
	}

	return storage.FileInfo{}, fmt.Errorf("object %s not found", p)
}

func (s *S3Storage) GetPath(p string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, normalizeKey(p))
}
