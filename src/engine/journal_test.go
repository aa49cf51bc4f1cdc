package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalWritesAndRotates(t *testing.T) {
	fs := afero.NewMemMapFs()
	day := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	j, err := newJournal(fs, "/journal/shelfdb.journal", 2, func() time.Time { return day })
	require.NoError(t, err)

	require.NoError(t, j.AddEntry("INSERT", "movies", `{"title":"Tenet"}`))
	day = day.Add(24 * time.Hour)
	require.NoError(t, j.AddEntry("DELETE", "movies", "title == Tenet"))

	files, err := j.Files()
	require.NoError(t, err)
	assert.Contains(t, files, "/journal/shelfdb_2024-03-01.journal")
	assert.Contains(t, files, "/journal/shelfdb_2024-03-02.journal")

	data, err := afero.ReadFile(fs, "/journal/shelfdb_2024-03-02.journal")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), " | DELETE | movies | title == Tenet\n"))

	day = day.AddDate(0, 0, 5)
	require.NoError(t, j.AddEntry("UPDATE", "movies", "{}"))
	removed, err := j.CleanupOldJournals()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, 2)

	files, err = j.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"/journal/shelfdb_2024-03-07.journal"}, files)
	require.NoError(t, j.Close())
}

func TestGetBaseFilePath(t *testing.T) {
	assert.Equal(t, "/j/shelfdb", getBaseFilePath("/j/shelfdb.journal"))
	assert.Equal(t, "/j/shelfdb", getBaseFilePath("/j/shelfdb_2024-01-02.journal"))
}
