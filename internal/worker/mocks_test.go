package worker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"isimip/internal/dataset"
	"isimip/internal/fetch"
	"isimip/internal/worker/runtime"
)

// MockRuntime implements runtime.Runtime for testing.
type MockRuntime struct {
	StartFunc func(ctx context.Context, opts runtime.StartOptions) (runtime.Handle, error)
	CheckFunc func(ctx context.Context, binaries ...string) error
}

func (m *MockRuntime) Start(ctx context.Context, opts runtime.StartOptions) (runtime.Handle, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, opts)
	}
	return &MockHandle{}, nil
}

func (m *MockRuntime) Check(ctx context.Context, binaries ...string) error {
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx, binaries...)
	}
	return nil
}

// MockHandle implements runtime.Handle for testing.
type MockHandle struct {
	WaitFunc func(ctx context.Context) (runtime.ExitResult, error)
	StopFunc func(ctx context.Context) error
}

func (m *MockHandle) Wait(ctx context.Context) (runtime.ExitResult, error) {
	if m.WaitFunc != nil {
		return m.WaitFunc(ctx)
	}
	return runtime.ExitResult{ExitCode: 0}, nil
}

func (m *MockHandle) Stop(ctx context.Context) error {
	if m.StopFunc != nil {
		return m.StopFunc(ctx)
	}
	return nil
}

func (m *MockHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return nil, nil
}

// MockFetcher implements Fetcher for testing.
type MockFetcher struct {
	mu    sync.Mutex
	Calls []string

	FetchFunc func(ctx context.Context, url, key string) fetch.Result
}

func (m *MockFetcher) Fetch(ctx context.Context, url, key string) fetch.Result {
	m.mu.Lock()
	m.Calls = append(m.Calls, key)
	m.mu.Unlock()
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, url, key)
	}
	return fetch.Result{Status: fetch.StatusDownloaded, Bytes: 10, Attempts: 1}
}

func (m *MockFetcher) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockCropper implements CropUnit for testing.
type MockCropper struct {
	mu    sync.Mutex
	Calls []string

	CropFunc func(ctx context.Context, rawKey string, bbox dataset.BoundingBox) CropResult
}

func (m *MockCropper) Crop(ctx context.Context, rawKey string, bbox dataset.BoundingBox) CropResult {
	m.mu.Lock()
	m.Calls = append(m.Calls, rawKey)
	m.mu.Unlock()
	if m.CropFunc != nil {
		return m.CropFunc(ctx, rawKey, bbox)
	}
	return CropResult{Status: CropCropped, Output: dataset.CroppedKey(rawKey)}
}

func (m *MockCropper) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockStore implements ArtifactStore for testing.
type MockStore struct {
	ExistsFunc func(ctx context.Context, key string) (bool, error)
}

func (m *MockStore) Exists(ctx context.Context, key string) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, key)
	}
	return false, nil
}

// writeScript writes an executable shell script standing in for a crop engine.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// openStore opens a fresh output tree for a test.
func openStore(t *testing.T) *fetch.Store {
	t.Helper()
	store, err := fetch.OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// putFile writes content under key in the store's tree.
func putFile(t *testing.T, store *fetch.Store, key, content string) {
	t.Helper()
	path := store.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
