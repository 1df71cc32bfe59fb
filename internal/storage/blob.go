package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

const defaultBlobPageSize = 1000

// BucketOpener returns the Go CDK bucket backing a bucket name.
type BucketOpener func(ctx context.Context, name string) (*blob.Bucket, error)

// BlobClient adapts Go CDK buckets (local directories, in-memory stores) to Client.
// Buckets are opened lazily and kept until Close.
type BlobClient struct {
	open     BucketOpener
	pageSize int

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

func NewBlobClient(open BucketOpener, pageSize int) *BlobClient {
	if pageSize <= 0 {
		pageSize = defaultBlobPageSize
	}
	return &BlobClient{
		open:     open,
		pageSize: pageSize,
		buckets:  make(map[string]*blob.Bucket),
	}
}

// NewFileClient serves each bucket from a directory named after it below root.
func NewFileClient(root string, pageSize int) *BlobClient {
	return NewBlobClient(func(_ context.Context, name string) (*blob.Bucket, error) {
		return fileblob.OpenBucket(filepath.Join(root, name), &fileblob.Options{CreateDir: true})
	}, pageSize)
}

// NewMemClient keeps every bucket in process memory.
func NewMemClient(pageSize int) *BlobClient {
	return NewBlobClient(func(context.Context, string) (*blob.Bucket, error) {
		return memblob.OpenBucket(nil), nil
	}, pageSize)
}

func (c *BlobClient) bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.buckets[name]; ok {
		return b, nil
	}
	b, err := c.open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	c.buckets[name] = b
	return b, nil
}

func (c *BlobClient) ListPage(ctx context.Context, bucket, prefix string, token *string) (Page, error) {
	b, err := c.bucket(ctx, bucket)
	if err != nil {
		return Page{}, err
	}
	pageToken := blob.FirstPageToken
	if token != nil {
		pageToken = []byte(*token)
	}
	objs, next, err := b.ListPage(ctx, pageToken, c.pageSize, &blob.ListOptions{Prefix: prefix})
	if err != nil {
		return Page{}, fmt.Errorf("list objects: %w", err)
	}
	page := Page{Keys: make([]ObjectKey, 0, len(objs))}
	for _, obj := range objs {
		page.Keys = append(page.Keys, ObjectKey(obj.Key))
	}
	if len(next) > 0 {
		s := string(next)
		page.NextToken = &s
	}
	return page, nil
}

func (c *BlobClient) Download(ctx context.Context, bucket string, key ObjectKey, dest LocalPath) error {
	b, err := c.bucket(ctx, bucket)
	if err != nil {
		return err
	}
	r, err := b.NewReader(ctx, string(key), nil)
	if err != nil {
		return fmt.Errorf("open object: %w", err)
	}
	defer r.Close()

	return writeFile(dest, func(f *os.File) error {
		if _, err := io.Copy(f, r); err != nil {
			return fmt.Errorf("copy object: %w", err)
		}
		return nil
	})
}

func (c *BlobClient) Upload(ctx context.Context, bucket string, key ObjectKey, body io.Reader, _ int64) error {
	b, err := c.bucket(ctx, bucket)
	if err != nil {
		return err
	}
	w, err := b.NewWriter(ctx, string(key), nil)
	if err != nil {
		return fmt.Errorf("open writer: %w", err)
	}
	_, copyErr := io.Copy(w, body)
	closeErr := w.Close()
	if copyErr != nil {
		return fmt.Errorf("write object: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("commit object: %w", closeErr)
	}
	return nil
}

func (c *BlobClient) Delete(ctx context.Context, bucket string, keys []ObjectKey) error {
	b, err := c.bucket(ctx, bucket)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := b.Delete(ctx, string(key)); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

func (c *BlobClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for name, b := range c.buckets {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close bucket %s: %w", name, err)
		}
		delete(c.buckets, name)
	}
	return firstErr
}

var _ Client = (*BlobClient)(nil)
