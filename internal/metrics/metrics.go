// Package metrics keeps process-wide counters of engine activity. Callers
// embedding the engine read a snapshot with GetMetrics.
package metrics

import (
	"sync/atomic"
	"time"
)

type Metrics struct {
	UploadCount     int64
	AssetCount      int64
	TrashCount      int64
	RestoreCount    int64
	RollbackCount   int64
	ErrorCount      int64
	LastUploadTime  int64 // unix milliseconds
	ActiveOperation int64
}

var GlobalMetrics = &Metrics{}

func IncrementUploads() {
	atomic.AddInt64(&GlobalMetrics.UploadCount, 1)
	atomic.StoreInt64(&GlobalMetrics.LastUploadTime, time.Now().UnixMilli())
}

func IncrementAssets() {
	atomic.AddInt64(&GlobalMetrics.AssetCount, 1)
}

func IncrementTrashed() {
	atomic.AddInt64(&GlobalMetrics.TrashCount, 1)
}

func IncrementRestored() {
	atomic.AddInt64(&GlobalMetrics.RestoreCount, 1)
}

func IncrementRollbacks() {
	atomic.AddInt64(&GlobalMetrics.RollbackCount, 1)
}

func IncrementErrors() {
	atomic.AddInt64(&GlobalMetrics.ErrorCount, 1)
}

func IncrementActiveOperations() {
	atomic.AddInt64(&GlobalMetrics.ActiveOperation, 1)
}

func DecrementActiveOperations() {
	atomic.AddInt64(&GlobalMetrics.ActiveOperation, -1)
}

func GetMetrics() Metrics {
	return Metrics{
		UploadCount:     atomic.LoadInt64(&GlobalMetrics.UploadCount),
		AssetCount:      atomic.LoadInt64(&GlobalMetrics.AssetCount),
		TrashCount:      atomic.LoadInt64(&GlobalMetrics.TrashCount),
		RestoreCount:    atomic.LoadInt64(&GlobalMetrics.RestoreCount),
		RollbackCount:   atomic.LoadInt64(&GlobalMetrics.RollbackCount),
		ErrorCount:      atomic.LoadInt64(&GlobalMetrics.ErrorCount),
		LastUploadTime:  atomic.LoadInt64(&GlobalMetrics.LastUploadTime),
		ActiveOperation: atomic.LoadInt64(&GlobalMetrics.ActiveOperation),
	}
}
