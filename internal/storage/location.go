package storage

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

var knownSchemes = map[string]struct{}{
	"s3":    {},
	"minio": {},
	"file":  {},
	"mem":   {},
}

// Location is a bucket plus key prefix parsed from a remote directory URI.
// Prefix never carries a leading or trailing slash.
type Location struct {
	Scheme string
	Bucket string
	Prefix string
}

// ParseURI splits a URI such as s3://bucket/dir/sub/ into its bucket and
// prefix.
func ParseURI(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("remote location is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse remote location %q: %w", raw, err)
	}
	if _, ok := knownSchemes[u.Scheme]; !ok {
		return Location{}, fmt.Errorf("unsupported remote location scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return Location{}, fmt.Errorf("remote location %q has no bucket", raw)
	}
	return Location{
		Scheme: u.Scheme,
		Bucket: u.Host,
		Prefix: strings.Trim(u.Path, "/"),
	}, nil
}

// Join returns the location of name directly below l.
func (l Location) Join(name string) Location {
	name = strings.Trim(name, "/")
	out := l
	switch {
	case name == "":
	case l.Prefix == "":
		out.Prefix = name
	default:
		out.Prefix = l.Prefix + "/" + name
	}
	return out
}

// Base is the last segment of the prefix, or the bucket when the prefix is empty.
func (l Location) Base() string {
	if l.Prefix == "" {
		return l.Bucket
	}
	return path.Base(l.Prefix)
}

func (l Location) String() string {
	scheme := l.Scheme
	if scheme == "" {
		scheme = "s3"
	}
	if l.Prefix == "" {
		return fmt.Sprintf("%s://%s", scheme, l.Bucket)
	}
	return fmt.Sprintf("%s://%s/%s", scheme, l.Bucket, l.Prefix)
}
