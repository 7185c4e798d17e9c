package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func newTestFetcher(t *testing.T, opts Options) (*Fetcher, *Store) {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewFetcher(NewClient(opts), store), store
}

func TestFetch_Downloads(t *testing.T) {
	data := []byte("CDF\x01 fake netcdf payload")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Write(data)
	}))
	defer server.Close()

	f, store := newTestFetcher(t, DefaultOptions())
	key := "GFDL-ESM4/historical/file.nc"

	res := f.Fetch(context.Background(), server.URL+"/file.nc", key)
	if res.Status != StatusDownloaded {
		t.Fatalf("expected downloaded, got %s (%v)", res.Status, res.Err)
	}
	if res.Bytes != int64(len(data)) {
		t.Errorf("expected %d bytes, got %d", len(data), res.Bytes)
	}

	got, err := os.ReadFile(store.Path(key))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("unexpected content %q", got)
	}
	if _, err := os.Stat(store.Path(key) + ".attrs"); !os.IsNotExist(err) {
		t.Error("expected no metadata sidecar file")
	}
}

func TestFetch_SkipsExistingWithoutNetwork(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	f, _ := newTestFetcher(t, DefaultOptions())
	key := "MRI-ESM2-0/ssp585/file.nc"

	first := f.Fetch(context.Background(), server.URL, key)
	if first.Status != StatusDownloaded {
		t.Fatalf("expected downloaded, got %s (%v)", first.Status, first.Err)
	}

	second := f.Fetch(context.Background(), server.URL, key)
	if second.Status != StatusSkipped {
		t.Fatalf("expected skipped, got %s", second.Status)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("expected exactly 1 request, got %d", n)
	}
}

func TestFetch_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.RetryAttempts = 3
	f, store := newTestFetcher(t, opts)
	key := "IPSL-CM6A-LR/ssp126/missing.nc"

	res := f.Fetch(context.Background(), server.URL, key)
	if res.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if !errors.Is(res.Err, ErrDownloadFailure) || !errors.Is(res.Err, ErrNotFound) {
		t.Errorf("expected ErrDownloadFailure wrapping ErrNotFound, got %v", res.Err)
	}
	if res.Attempts != 1 {
		t.Errorf("expected 404 not to be retried, got %d attempts", res.Attempts)
	}
	if _, err := os.Stat(store.Path(key)); !os.IsNotExist(err) {
		t.Error("expected no file after failed download")
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.RetryAttempts = 3
	opts.RetryBackoff = time.Millisecond
	opts.RetryMaxBackoff = 5 * time.Millisecond
	f, _ := newTestFetcher(t, opts)

	res := f.Fetch(context.Background(), server.URL, "UKESM1-0-LL/ssp126/file.nc")
	if res.Status != StatusDownloaded {
		t.Fatalf("expected downloaded, got %s (%v)", res.Status, res.Err)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
}

func TestFetch_NoRetryByDefault(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f, _ := newTestFetcher(t, DefaultOptions())

	res := f.Fetch(context.Background(), server.URL, "GFDL-ESM4/ssp585/file.nc")
	if res.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if !errors.Is(res.Err, ErrServerError) {
		t.Errorf("expected ErrServerError, got %v", res.Err)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestFetch_TruncatedBodyIsNotCommitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Promise more bytes than are sent, then drop the connection.
		w.Header().Set("Content-Length", strconv.Itoa(1024))
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			conn.Close()
		}
	}))
	defer server.Close()

	f, store := newTestFetcher(t, DefaultOptions())
	key := "GFDL-ESM4/historical/truncated.nc"

	res := f.Fetch(context.Background(), server.URL, key)
	if res.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}

	exists, err := store.Exists(context.Background(), key)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("partial download must not satisfy the existence check")
	}

	entries, _ := os.ReadDir(filepath.Dir(store.Path(key)))
	for _, e := range entries {
		if e.Name() == filepath.Base(key) {
			t.Errorf("unexpected final file %s", e.Name())
		}
	}
}

func TestFetch_CancelledContext(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write([]byte("begin"))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	f, store := newTestFetcher(t, DefaultOptions())
	key := "GFDL-ESM4/historical/cancelled.nc"

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res := f.Fetch(ctx, server.URL, key)
	if res.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}

	exists, _ := store.Exists(context.Background(), key)
	if exists {
		t.Error("cancelled download must not be committed")
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, k := range []string{"M/s/b_cropped.nc", "M/s/a_cropped.nc", "M/s/raw.nc", "M/s/sub/x_cropped.nc"} {
		if err := os.MkdirAll(filepath.Dir(store.Path(k)), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(store.Path(k), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := store.List(ctx, "M/s", "_cropped.nc")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0] != "M/s/a_cropped.nc" || keys[1] != "M/s/b_cropped.nc" {
		t.Errorf("unexpected keys %v", keys)
	}

	if err := store.Delete(ctx, "M/s/raw.nc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "M/s/raw.nc"); err != nil {
		t.Errorf("deleting a missing key should succeed, got %v", err)
	}
}
