package storage

import (
	"fmt"
)

type StorageType string

const (
	Local StorageType = "local"
	MinDB StorageType = "mindb"
	S3    StorageType = "s3"
)

type storageFn func(path string, conf map[string]string) (Storage, error)

var factory = make(map[StorageType]storageFn)

// Register adds a backend constructor. First registration wins; backends
// register themselves from init.
func Register(st StorageType, fn storageFn) {
	if _, ok := factory[st]; ok {
		return
	}
	factory[st] = fn
}

// Create builds a backend by type. path is the repository root for local
// backends, a database path or bucket root for object backends.
func Create(storeType StorageType, path string, conf map[string]string) (Storage, error) {
	if fn, ok := factory[storeType]; ok {
		return fn(path, conf)
	}
	return nil, fmt.Errorf("unsupported storage type: %s", storeType)
}
