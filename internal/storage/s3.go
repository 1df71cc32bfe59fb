package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type s3API interface {
	manager.DownloadAPIClient
	manager.UploadAPIClient
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Client talks to Amazon S3 (or compatible APIs).
type S3Client struct {
	api        s3API
	downloader *manager.Downloader
	uploader   *manager.Uploader
	pageSize   int32
}

func NewS3Client(client *s3.Client, pageSize int) *S3Client {
	return newS3Client(client, pageSize)
}

func newS3Client(api s3API, pageSize int) *S3Client {
	c := &S3Client{
		api:        api,
		downloader: manager.NewDownloader(api),
		uploader:   manager.NewUploader(api),
	}
	if pageSize > 0 && pageSize <= 1000 {
		c.pageSize = int32(pageSize)
	}
	return c
}

func (c *S3Client) ListPage(ctx context.Context, bucket, prefix string, token *string) (Page, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:            aws.String(bucket),
		ContinuationToken: token,
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if c.pageSize > 0 {
		input.MaxKeys = aws.Int32(c.pageSize)
	}

	output, err := c.api.ListObjectsV2(ctx, input)
	if err != nil {
		return Page{}, fmt.Errorf("list objects: %w", err)
	}

	page := Page{Keys: make([]ObjectKey, 0, len(output.Contents))}
	for _, obj := range output.Contents {
		page.Keys = append(page.Keys, ObjectKey(aws.ToString(obj.Key)))
	}
	if aws.ToBool(output.IsTruncated) && output.NextContinuationToken != nil {
		page.NextToken = output.NextContinuationToken
	}
	return page, nil
}

func (c *S3Client) Download(ctx context.Context, bucket string, key ObjectKey, dest LocalPath) error {
	return writeFile(dest, func(f *os.File) error {
		_, err := c.downloader.Download(ctx, f, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(string(key)),
		})
		if err != nil {
			return fmt.Errorf("get object: %w", err)
		}
		return nil
	})
}

func (c *S3Client) Upload(ctx context.Context, bucket string, key ObjectKey, body io.Reader, _ int64) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(string(key)),
		Body:   body,
		ACL:    types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (c *S3Client) Delete(ctx context.Context, bucket string, keys []ObjectKey) error {
	for start := 0; start < len(keys); start += 1000 {
		end := min(start+1000, len(keys))
		identifiers := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			identifiers = append(identifiers, types.ObjectIdentifier{Key: aws.String(string(key))})
		}
		_, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{
				Objects: identifiers,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}
	}
	return nil
}

func (c *S3Client) Close() error { return nil }

var _ Client = (*S3Client)(nil)
