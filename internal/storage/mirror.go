package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/latchbio/wf-core-guideseq/internal/metrics"
)

var (
	errOutsideRoot = errors.New("key resolves outside the local root")
	errIsDirectory = errors.New("a directory already exists at the object's path")
)

// MirrorOptions tunes a Mirror call.
type MirrorOptions struct {
	Logger logrus.FieldLogger
}

// MirrorResult summarises what a Mirror call reproduced locally.
type MirrorResult struct {
	Directories int
	Objects     int
}

// Mirror reproduces every object under prefix in bucket as a file below
// localRoot. All listing pages are consumed before anything is written;
// directory markers are materialised before content objects. The first failure
// aborts the call and leaves already written files in place.
func Mirror(ctx context.Context, client Client, bucket, prefix, localRoot string, opts MirrorOptions) (MirrorResult, error) {
	var res MirrorResult
	if bucket == "" {
		return res, fmt.Errorf("storage bucket is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithFields(logrus.Fields{"bucket": bucket, "prefix": prefix})

	dirs, objects, err := enumerate(ctx, client, bucket, prefix)
	if err != nil {
		metrics.MirrorFailuresTotal.WithLabelValues("store_unavailable").Inc()
		return res, err
	}
	log.Debugf("listed %d directory markers and %d objects", len(dirs), len(objects))

	root := filepath.Clean(localRoot)

	for _, key := range dirs {
		dest := key.LocalPath(root)
		if err := prepare(root, key, dest); err != nil {
			metrics.MirrorFailuresTotal.WithLabelValues("local_fs").Inc()
			return res, err
		}
		res.Directories++
		metrics.MirrorEntriesTotal.WithLabelValues("directory").Inc()
	}

	for _, key := range objects {
		dest := key.LocalPath(root)
		if err := prepare(root, key, dest); err != nil {
			metrics.MirrorFailuresTotal.WithLabelValues("local_fs").Inc()
			return res, err
		}
		if info, err := os.Stat(dest.String()); err == nil && info.IsDir() {
			metrics.MirrorFailuresTotal.WithLabelValues("local_fs").Inc()
			return res, &LocalFSError{Path: dest.String(), Key: key, Err: errIsDirectory}
		}
		log.WithField("key", key).Debugf("download to %s", dest)
		if err := client.Download(ctx, bucket, key, dest); err != nil {
			err = downloadError(bucket, key, dest, err)
			if errors.Is(err, ErrLocalFS) {
				metrics.MirrorFailuresTotal.WithLabelValues("local_fs").Inc()
			} else {
				metrics.MirrorFailuresTotal.WithLabelValues("transfer").Inc()
			}
			return res, err
		}
		res.Objects++
		metrics.MirrorEntriesTotal.WithLabelValues("object").Inc()
	}

	log.Infof("mirrored %d objects and %d directories into %s", res.Objects, res.Directories, root)
	return res, nil
}

// enumerate follows the continuation chain to completion and partitions the
// keys, preserving enumeration order within each class.
func enumerate(ctx context.Context, client Client, bucket, prefix string) (dirs, objects []ObjectKey, err error) {
	var token *string
	for {
		page, err := client.ListPage(ctx, bucket, prefix, token)
		if err != nil {
			return nil, nil, &StoreUnavailableError{Bucket: bucket, Prefix: prefix, Err: err}
		}
		for _, key := range page.Keys {
			if key.IsDirMarker() {
				dirs = append(dirs, key)
			} else {
				objects = append(objects, key)
			}
		}
		if page.NextToken == nil {
			return dirs, objects, nil
		}
		token = page.NextToken
	}
}

func prepare(root string, key ObjectKey, dest LocalPath) error {
	rel, err := filepath.Rel(root, filepath.Clean(dest.String()))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return &LocalFSError{Path: dest.String(), Key: key, Err: errOutsideRoot}
	}
	if err := EnsureParentDir(dest.String()); err != nil {
		return &LocalFSError{Path: dest.Dir(), Key: key, Err: err}
	}
	return nil
}

// EnsureParentDir creates every missing ancestor directory of path. It
// succeeds silently when the chain already exists.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
