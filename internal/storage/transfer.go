package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/latchbio/wf-core-guideseq/internal/metrics"
)

// UploadDirectory pushes every regular file below localPath to
// opts.KeyPrefix/<relative path> and returns the resulting remote location.
func UploadDirectory(ctx context.Context, client Client, scheme, localPath string, opts UploadOptions) (string, error) {
	if opts.Bucket == "" {
		return "", fmt.Errorf("storage bucket is required")
	}

	root := filepath.Clean(localPath)
	if fi, err := os.Stat(root); err != nil {
		return "", fmt.Errorf("stat local path: %w", err)
	} else if !fi.IsDir() {
		return "", fmt.Errorf("local path must be a directory")
	}

	type uploadFile struct {
		path string
		rel  string
		size int64
	}

	var files []uploadFile
	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}
		files = append(files, uploadFile{
			path: path,
			rel:  filepath.ToSlash(rel),
			size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return "", err
	}

	var totalSize int64
	for _, file := range files {
		totalSize += file.size
	}

	progress := newProgressReporter(totalSize, opts.ProgressCallback)
	if progress != nil {
		progress.report(0)
	}

	keyPrefix := strings.Trim(opts.KeyPrefix, "/")
	for _, file := range files {
		key := file.rel
		if keyPrefix != "" {
			key = keyPrefix + "/" + file.rel
		}

		f, err := os.Open(file.path)
		if err != nil {
			return "", fmt.Errorf("open file %s: %w", file.path, err)
		}
		var reader io.Reader = f
		if progress != nil {
			reader = io.TeeReader(f, progress)
		}
		err = client.Upload(ctx, opts.Bucket, ObjectKey(key), reader, file.size)
		closeErr := f.Close()
		if err != nil {
			return "", fmt.Errorf("upload %s: %w", file.path, err)
		}
		if closeErr != nil {
			return "", fmt.Errorf("close file %s: %w", file.path, closeErr)
		}
		metrics.UploadedBytesTotal.Add(float64(file.size))
	}

	if progress != nil {
		progress.flush()
	}

	return Location{Scheme: scheme, Bucket: opts.Bucket, Prefix: keyPrefix}.String(), nil
}

// ListObjects returns every key under prefix, following all pages.
func ListObjects(ctx context.Context, client Client, bucket, prefix string) ([]ObjectKey, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	var (
		keys  []ObjectKey
		token *string
	)
	for {
		page, err := client.ListPage(ctx, bucket, prefix, token)
		if err != nil {
			return nil, &StoreUnavailableError{Bucket: bucket, Prefix: prefix, Err: err}
		}
		keys = append(keys, page.Keys...)
		if page.NextToken == nil {
			return keys, nil
		}
		token = page.NextToken
	}
}

// DeletePrefix removes every object whose key starts with prefix. An empty
// prefix is refused so a whole bucket is never wiped by accident.
func DeletePrefix(ctx context.Context, client Client, bucket, prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return fmt.Errorf("prefix is required")
	}
	keys, err := ListObjects(ctx, client, bucket, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return client.Delete(ctx, bucket, keys)
}

type progressReporter struct {
	total    int64
	done     int64
	cb       func(done, total int64)
	mu       sync.Mutex
	lastFire time.Time
}

func newProgressReporter(total int64, cb func(done, total int64)) *progressReporter {
	if cb == nil {
		return nil
	}
	return &progressReporter{
		total: total,
		cb:    cb,
	}
}

func (p *progressReporter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += int64(len(b))
	now := time.Now()
	if now.Sub(p.lastFire) >= 200*time.Millisecond || p.done == p.total {
		p.lastFire = now
		p.cb(p.done, p.total)
	}

	return len(b), nil
}

func (p *progressReporter) report(done int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = done
	p.lastFire = time.Now()
	p.cb(p.done, p.total)
}

func (p *progressReporter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb(p.done, p.total)
}
