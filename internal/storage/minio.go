package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
)

const defaultMinioPageSize = 1000

// MinioClient talks to MinIO and other S3-compatible servers through minio-go.
// minio-go hides continuation tokens, so pages are cut client side and the last
// key of a full page is handed back as the StartAfter cursor.
type MinioClient struct {
	client   *minio.Client
	pageSize int
}

func NewMinioClient(client *minio.Client, pageSize int) *MinioClient {
	if pageSize <= 0 {
		pageSize = defaultMinioPageSize
	}
	return &MinioClient{client: client, pageSize: pageSize}
}

func (c *MinioClient) ListPage(ctx context.Context, bucket, prefix string, token *string) (Page, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
		MaxKeys:   c.pageSize,
	}
	if token != nil {
		opts.StartAfter = *token
	}

	var page Page
	for obj := range c.client.ListObjects(listCtx, bucket, opts) {
		if obj.Err != nil {
			return Page{}, fmt.Errorf("list objects: %w", obj.Err)
		}
		page.Keys = append(page.Keys, ObjectKey(obj.Key))
		if len(page.Keys) == c.pageSize {
			next := obj.Key
			page.NextToken = &next
			break
		}
	}
	return page, nil
}

func (c *MinioClient) Download(ctx context.Context, bucket string, key ObjectKey, dest LocalPath) error {
	obj, err := c.client.GetObject(ctx, bucket, string(key), minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()

	return writeFile(dest, func(f *os.File) error {
		if _, err := io.Copy(f, obj); err != nil {
			return fmt.Errorf("get object: %w", err)
		}
		return nil
	})
}

func (c *MinioClient) Upload(ctx context.Context, bucket string, key ObjectKey, body io.Reader, size int64) error {
	_, err := c.client.PutObject(ctx, bucket, string(key), body, size, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Delete removes keys with minio-go's bulk API, which batches them into
// multi-object delete requests.
func (c *MinioClient) Delete(ctx context.Context, bucket string, keys []ObjectKey) error {
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for _, key := range keys {
			select {
			case objectsCh <- minio.ObjectInfo{Key: string(key)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var errs []error
	for rerr := range c.client.RemoveObjects(ctx, bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		errs = append(errs, fmt.Errorf("remove object %s: %w", rerr.ObjectName, rerr.Err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *MinioClient) Close() error { return nil }

var _ Client = (*MinioClient)(nil)
