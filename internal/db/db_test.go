package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenForTesting(t *testing.T) {
	db, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, db.Close()) })

	assert.NoError(t, db.Ping())

	var tableName string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='vote_attempts'").Scan(&tableName)
	require.NoError(t, err)
	assert.Equal(t, "vote_attempts", tableName)
}

func TestOpenForTestingIsPrivate(t *testing.T) {
	a, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	b, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, b.Close()) })

	_, err = a.Exec(`INSERT INTO vote_attempts (id, campaign_id, applicant_id, vote_page, outcome, created_at)
		VALUES ('x', 'c1', 'a1', 'basic', 'success', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	var n int
	require.NoError(t, b.QueryRow("SELECT COUNT(*) FROM vote_attempts").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestOpenFileIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.db")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, second.Close()) })

	var version int
	require.NoError(t, second.QueryRow("SELECT version FROM schema_migrations").Scan(&version))
	assert.Equal(t, 1, version)
}

func TestVotePageConstraint(t *testing.T) {
	db, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, db.Close()) })

	_, err = db.Exec(`INSERT INTO vote_attempts (id, campaign_id, applicant_id, vote_page, outcome, created_at)
		VALUES ('x', 'c1', 'a1', 'gold', 'success', CURRENT_TIMESTAMP)`)
	assert.Error(t, err)
}
