package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/pipeline"
	"weather-pipeline/internal/services"
)

func stationDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "USC00110072.txt"),
		[]byte("20230101\t250\t150\t0\n20230102\tx\t160\t5\n"), 0o600))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("WX_DB_PATH", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("WX_LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInspectCommand(t *testing.T) {
	out, err := execute(t, "inspect", "--data-dir", stationDir(t))
	require.NoError(t, err)
	assert.Contains(t, out, "USC00110072")
	assert.Contains(t, out, "max_temp=1")
	assert.Regexp(t, `TOTAL\s+2\s+1\s+1`, out)
}

func TestInspectCommand_NoFiles(t *testing.T) {
	_, err := execute(t, "inspect", "--data-dir", t.TempDir())
	assert.ErrorIs(t, err, services.ErrNoDataFiles)
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "run", "--data-dir", stationDir(t), "--batch-size", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "PIPELINE RUN")
	assert.Contains(t, out, "Appended:           1")
	assert.Contains(t, out, "Stats upserted:     1 of 1 groups")
}

func TestRunCommand_RejectsBadOverride(t *testing.T) {
	_, err := execute(t, "run", "--data-dir", stationDir(t), "--batch-size", "20000")
	assert.ErrorContains(t, err, "batch")
}

func TestFormatReasons(t *testing.T) {
	assert.Equal(t, "-", formatReasons(nil))
	assert.Equal(t, "field_count=2,precipitation=1", formatReasons(map[string]int{
		models.ReasonPrecipitation: 1,
		models.ReasonFieldCount:    2,
	}))
}

func TestPrintReport_TruncatesErrors(t *testing.T) {
	errs := make([]string, maxPrintedErrors+3)
	for i := range errs {
		errs[i] = "file failed"
	}
	var out bytes.Buffer
	printReport(&out, &pipeline.RunReport{
		RunID:     "r1",
		Ingestion: &services.IngestionResult{TotalFiles: 13, FilesFailed: 13, Errors: errs},
	})
	assert.Contains(t, out.String(), "Errors (13)")
	assert.Contains(t, out.String(), "... and 3 more errors")
}
