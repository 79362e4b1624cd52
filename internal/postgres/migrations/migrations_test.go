package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_splitSections(t *testing.T) {
	t.Parallel()

	t.Run("up and down", func(t *testing.T) {
		t.Parallel()

		up, down, err := splitSections("-- +migrate Up\nCREATE TABLE t (id BIGINT);\n-- +migrate Down\nDROP TABLE t;\n")
		require.NoError(t, err)
		assert.Equal(t, "CREATE TABLE t (id BIGINT);", up)
		assert.Equal(t, "DROP TABLE t;", down)
	})

	t.Run("up only", func(t *testing.T) {
		t.Parallel()

		up, down, err := splitSections("-- +migrate Up\nCREATE TABLE t (id BIGINT);\n")
		require.NoError(t, err)
		assert.Equal(t, "CREATE TABLE t (id BIGINT);", up)
		assert.Empty(t, down)
	})

	t.Run("missing up marker", func(t *testing.T) {
		t.Parallel()

		_, _, err := splitSections("CREATE TABLE t (id BIGINT);")
		require.ErrorContains(t, err, "separator")
	})
}

func Test_embeddedMigrationsParse(t *testing.T) {
	t.Parallel()

	for _, m := range all() {
		up, down, err := splitSections(m.SQL)
		require.NoError(t, err, m.ID)
		assert.NotEmpty(t, up, m.ID)
		assert.NotEmpty(t, down, m.ID)
	}
}
