package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_TeesToFile(t *testing.T) {
	t.Setenv("JOURNAL_STREAM", "")
	os.Unsetenv("JOURNAL_STREAM")
	path := filepath.Join(t.TempDir(), "test.log")

	closeLog, err := Setup(path)
	require.NoError(t, err)
	log.Info().Str("component", "test").Msg("hello from test")
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Contains(t, string(data), "component=test")
}

func TestSetup_UnderSystemdSkipsFile(t *testing.T) {
	t.Setenv("JOURNAL_STREAM", "8:12345")
	path := filepath.Join(t.TempDir(), "test.log")

	closeLog, err := Setup(path)
	require.NoError(t, err)
	closeLog()

	assert.NoFileExists(t, path)
}
