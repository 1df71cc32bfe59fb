// Command wfctl mirrors storage prefixes, uploads output directories and mints
// API tokens without going through the server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/latchbio/wf-core-guideseq/internal/auth"
	"github.com/latchbio/wf-core-guideseq/internal/config"
	"github.com/latchbio/wf-core-guideseq/internal/runner"
	"github.com/latchbio/wf-core-guideseq/internal/storage"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "wfctl",
		Usage: "Storage and token utilities for the GUIDE-Seq workflow server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "provider",
				Usage:   "storage provider (s3, minio, file, mem); defaults to the configured one",
				EnvVars: []string{"WFCTL_PROVIDER"},
			},
			&cli.StringFlag{
				Name:  "file-root",
				Usage: "bucket root directory for the file provider",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log every mirrored key",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "mirror",
				Usage: "Copy every object under a remote prefix into a local directory",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "uri", Usage: "remote directory, e.g. s3://bucket/run1", Required: true},
					&cli.StringFlag{Name: "dest", Usage: "local root directory", Value: "."},
				},
				Action: runMirror,
			},
			{
				Name:  "upload",
				Usage: "Upload a local directory below a remote prefix",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "src", Usage: "local directory", Required: true},
					&cli.StringFlag{Name: "uri", Usage: "remote directory", Required: true},
				},
				Action: runUpload,
			},
			{
				Name:  "token",
				Usage: "Issue an API bearer token signed with the configured secret",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Usage: "token subject recorded on submitted runs", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "token lifetime", Value: 24 * time.Hour},
				},
				Action: runToken,
			},
		},
	}
}

func newLogger(c *cli.Context) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(c.App.ErrWriter)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if c.Bool("verbose") {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func openStore(c *cli.Context) (storage.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	storeCfg := cfg.StorageConfig()
	if p := c.String("provider"); p != "" {
		storeCfg.Provider = storage.ProviderType(p)
	}
	if root := c.String("file-root"); root != "" {
		storeCfg.FileRoot = root
	}
	return storage.Open(c.Context, storeCfg)
}

func runMirror(c *cli.Context) error {
	loc, err := storage.ParseURI(c.String("uri"))
	if err != nil {
		return err
	}
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	prefix := loc.Prefix
	if prefix != "" {
		prefix += "/"
	}
	res, err := storage.Mirror(c.Context, store, loc.Bucket, prefix, c.String("dest"), storage.MirrorOptions{Logger: newLogger(c)})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "mirrored %d objects and %d directories from %s\n", res.Objects, res.Directories, loc)
	return nil
}

func runUpload(c *cli.Context) error {
	loc, err := storage.ParseURI(c.String("uri"))
	if err != nil {
		return err
	}
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	logger := newLogger(c)
	var reported bool
	dest, err := storage.UploadDirectory(c.Context, store, loc.Scheme, c.String("src"), storage.UploadOptions{
		Bucket:    loc.Bucket,
		KeyPrefix: loc.Prefix,
		ProgressCallback: func(done, total int64) {
			if done == total && total > 0 && !reported {
				reported = true
				logger.Infof("uploaded %s", runner.FormatBytes(total))
			}
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, dest)
	return nil
}

func runToken(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	signer, err := auth.NewSigner(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	token, err := signer.Issue(c.String("subject"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}
