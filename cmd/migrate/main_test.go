package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateUpThenDown(t *testing.T) {
	t.Setenv("WX_DB_PATH", filepath.Join(t.TempDir(), "migrate.db"))
	t.Setenv("WX_LOG_LEVEL", "error")

	for _, dir := range []string{"up", "up", "down"} {
		var out bytes.Buffer
		cmd := newRootCommand()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{dir})
		require.NoError(t, cmd.Execute(), dir)
		assert.Contains(t, out.String(), "Migrations "+dir+" completed")
	}
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"sideways"})
	assert.Error(t, cmd.Execute())
}
