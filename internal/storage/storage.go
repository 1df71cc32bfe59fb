package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"
)

// ObjectKey is the full slash-delimited identifier of an object within a bucket.
type ObjectKey string

// IsDirMarker reports whether the key is a folder placeholder (ends with "/").
// A zero-length basename is treated the same way.
func (k ObjectKey) IsDirMarker() bool {
	return strings.HasSuffix(string(k), "/")
}

// LocalPath joins root with the key verbatim. Directory markers keep their
// trailing separator so that the parent of the result is the directory itself.
func (k ObjectKey) LocalPath(root string) LocalPath {
	p := filepath.Join(root, filepath.FromSlash(string(k)))
	if k.IsDirMarker() && !strings.HasSuffix(p, string(filepath.Separator)) {
		p += string(filepath.Separator)
	}
	return LocalPath(p)
}

// LocalPath is a file-system location derived from an ObjectKey.
type LocalPath string

// Dir returns the directory that must exist before the path can be written.
func (p LocalPath) Dir() string {
	return filepath.Dir(string(p))
}

func (p LocalPath) String() string {
	return string(p)
}

// Page is one response of a paginated listing call. NextToken is nil on the
// last page.
type Page struct {
	Keys      []ObjectKey
	NextToken *string
}

// UploadOptions conveys upload destination metadata.
type UploadOptions struct {
	Bucket           string
	KeyPrefix        string
	ProgressCallback func(done, total int64)
}

// Client is the object-store collaborator used by the mirror and the run
// executor. A nil token requests the first page.
type Client interface {
	ListPage(ctx context.Context, bucket, prefix string, token *string) (Page, error)
	Download(ctx context.Context, bucket string, key ObjectKey, dest LocalPath) error
	Upload(ctx context.Context, bucket string, key ObjectKey, body io.Reader, size int64) error
	Delete(ctx context.Context, bucket string, keys []ObjectKey) error
	Close() error
}
