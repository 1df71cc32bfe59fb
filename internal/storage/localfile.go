package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// writeFile fills a temporary sibling of dest and renames it into place once
// fill succeeds, so an aborted transfer never truncates an existing copy.
// Failures of the local file itself are returned as *LocalFSError; errors
// coming out of fill for any other reason are returned unchanged.
func writeFile(dest LocalPath, fill func(f *os.File) error) (err error) {
	tmp, err := os.CreateTemp(dest.Dir(), "."+filepath.Base(dest.String())+".part-*")
	if err != nil {
		return &LocalFSError{Path: dest.String(), Err: err}
	}
	name := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(name)
		}
	}()

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) && pathErr.Path == name {
			return &LocalFSError{Path: dest.String(), Err: err}
		}
		return err
	}
	if err := tmp.Close(); err != nil {
		return &LocalFSError{Path: dest.String(), Err: err}
	}
	if err := os.Rename(name, dest.String()); err != nil {
		return &LocalFSError{Path: dest.String(), Err: err}
	}
	return nil
}

// downloadError sorts a failed Download into a local or a remote failure.
// A provider that writes dest without writeFile still surfaces its local
// failures as *fs.PathError on a path next to dest.
func downloadError(bucket string, key ObjectKey, dest LocalPath, err error) error {
	var fsErr *LocalFSError
	if errors.As(err, &fsErr) {
		if fsErr.Key == "" {
			fsErr.Key = key
		}
		return fsErr
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) && filepath.Dir(filepath.Clean(pathErr.Path)) == dest.Dir() {
		return &LocalFSError{Path: dest.String(), Key: key, Err: err}
	}
	return &TransferError{Bucket: bucket, Key: key, Err: err}
}
