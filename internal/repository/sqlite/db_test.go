package sqlite

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesPragmas(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "a", "b", "runs.db"))
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode;`).Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var fk int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys;`).Scan(&fk))
	assert.Equal(t, 1, fk)

	var timeout int
	require.NoError(t, db.QueryRow(`PRAGMA busy_timeout;`).Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
