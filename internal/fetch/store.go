package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// Store is the local output tree. Keys are slash-separated paths relative to
// the root. Writes go to a temporary file that is renamed into place only
// when the writer closes cleanly, so a partial download never exists under
// its final key.
type Store struct {
	root   string
	bucket *blob.Bucket
}

// OpenStore opens (and creates) the output tree rooted at dir.
func OpenStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	bucket, err := fileblob.OpenBucket(abs, &fileblob.Options{
		CreateDir: true,
		// Keep temporary files on the same filesystem so the final rename is atomic.
		NoTempDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("open output bucket: %w", err)
	}

	return &Store{root: abs, bucket: bucket}, nil
}

// Root returns the absolute output directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the local filesystem path of key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Exists reports whether key has been fully written.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// Write streams r into key. If the copy fails or ctx is cancelled the write
// is aborted and nothing is committed.
func (s *Store) Write(ctx context.Context, key string, r io.Reader) (int64, error) {
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(writeCtx, key, &blob.WriterOptions{
		ContentType: "application/x-netcdf",
	})
	if err != nil {
		return 0, fmt.Errorf("open writer for %s: %w", key, err)
	}

	n, copyErr := io.Copy(w, r)
	if copyErr != nil {
		// Cancelling before Close discards the temporary file.
		cancel()
		_ = w.Close()
		return n, fmt.Errorf("write %s: %w", key, copyErr)
	}

	if err := w.Close(); err != nil {
		return n, fmt.Errorf("commit %s: %w", key, err)
	}
	return n, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return err
	}
	return nil
}

// List returns the keys directly under prefix that end in suffix, sorted.
func (s *Store) List(ctx context.Context, prefix, suffix string) ([]string, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var keys []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, suffix) {
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Close releases the underlying bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}
