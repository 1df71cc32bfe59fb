package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchbio/wf-core-guideseq/internal/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"wfctl"}, args...))
	return out.String(), err
}

func TestUploadThenMirror(t *testing.T) {
	chdir(t, t.TempDir())
	buckets := t.TempDir()

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "data", "undemux.r1.fastq.gz"), []byte("reads"), 0o644))

	out, err := run(t, "--provider", "file", "--file-root", buckets, "upload", "--src", src, "--uri", "file://inputs/run1")
	require.NoError(t, err)
	assert.Equal(t, "file://inputs/run1\n", out)

	dest := t.TempDir()
	out, err = run(t, "--provider", "file", "--file-root", buckets, "mirror", "--uri", "file://inputs/run1/", "--dest", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "mirrored 1 objects")

	data, err := os.ReadFile(filepath.Join(dest, "run1", "data", "undemux.r1.fastq.gz"))
	require.NoError(t, err)
	assert.Equal(t, "reads", string(data))
}

func TestMirror_RejectsBadURI(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := run(t, "--provider", "mem", "mirror", "--uri", "ftp://x/y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestToken(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GUIDESEQ_AUTH_JWTSECRET", "cli-secret")

	out, err := run(t, "token", "--subject", "alice", "--ttl", "1h")
	require.NoError(t, err)

	signer, err := auth.NewSigner("cli-secret")
	require.NoError(t, err)
	subject, err := signer.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func TestToken_RequiresSecret(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GUIDESEQ_AUTH_JWTSECRET", "")

	_, err := run(t, "token", "--subject", "alice")
	require.Error(t, err)
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
