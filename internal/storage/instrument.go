package storage

import (
	"context"
	"time"
)

// Recorder receives one observation per backend call.
type Recorder interface {
	RecordStorageOperation(op, backend string, duration time.Duration, err error)
}

// instrumented wraps a Backend and reports every call to a Recorder.
type instrumented struct {
	inner    Backend
	name     string
	recorder Recorder
}

// Instrument decorates b so every operation is reported to recorder under
// backend label name. A nil recorder returns b unchanged.
func Instrument(b Backend, name string, recorder Recorder) Backend {
	if recorder == nil {
		return b
	}
	return &instrumented{inner: b, name: name, recorder: recorder}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	i.recorder.RecordStorageOperation(op, i.name, time.Since(start), err)
}

func (i *instrumented) Put(ctx context.Context, key string, data []byte) (err error) {
	defer func(start time.Time) { i.observe("put", start, err) }(time.Now())
	return i.inner.Put(ctx, key, data)
}

func (i *instrumented) Get(ctx context.Context, key string) (data []byte, err error) {
	defer func(start time.Time) { i.observe("get", start, err) }(time.Now())
	return i.inner.Get(ctx, key)
}

func (i *instrumented) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { i.observe("delete", start, err) }(time.Now())
	return i.inner.Delete(ctx, key)
}

func (i *instrumented) List(ctx context.Context, prefix string) (keys []string, err error) {
	defer func(start time.Time) { i.observe("list", start, err) }(time.Now())
	return i.inner.List(ctx, prefix)
}

// DeleteMany uses the wrapped backend's batch delete when available.
func (i *instrumented) DeleteMany(ctx context.Context, keys []string) (err error) {
	defer func(start time.Time) { i.observe("delete_many", start, err) }(time.Now())
	return DeleteAll(ctx, i.inner, keys)
}

// RemoveLocation is a no-op for backends without materialized locations.
func (i *instrumented) RemoveLocation(ctx context.Context, location string) (err error) {
	lr, ok := i.inner.(LocationRemover)
	if !ok {
		return nil
	}
	defer func(start time.Time) { i.observe("remove_location", start, err) }(time.Now())
	return lr.RemoveLocation(ctx, location)
}
