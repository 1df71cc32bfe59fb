package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// ProviderType identifies the storage backend.
type ProviderType string

const (
	ProviderS3    ProviderType = "s3"
	ProviderMinio ProviderType = "minio"
	ProviderFile  ProviderType = "file"
	ProviderMem   ProviderType = "mem"
)

// Config holds provider-agnostic storage settings. Fields that do not apply to
// the selected provider are ignored.
type Config struct {
	Provider        ProviderType
	Region          string
	Endpoint        string
	UsePathStyle    bool
	UseSSL          bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string
	FileRoot        string
	PageSize        int
}

// Open builds the Client for cfg.Provider. An empty provider selects S3.
func Open(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderS3, "":
		return openS3(ctx, cfg)
	case ProviderMinio:
		return openMinio(cfg)
	case ProviderFile:
		if strings.TrimSpace(cfg.FileRoot) == "" {
			return nil, fmt.Errorf("file root is required for the file provider")
		}
		return NewFileClient(cfg.FileRoot, cfg.PageSize), nil
	case ProviderMem:
		return NewMemClient(cfg.PageSize), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %q", cfg.Provider)
	}
}

func openS3(ctx context.Context, cfg Config) (Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required for S3 client")
	}
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3Client(client, cfg.PageSize), nil
}

func openMinio(cfg Config) (Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for the minio provider")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("minio credentials must be provided")
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return NewMinioClient(client, cfg.PageSize), nil
}
