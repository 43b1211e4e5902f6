package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arces-wot/sepa/internal/config"
)

func TestNewWithoutFileReturnsNopCloser(t *testing.T) {
	logger, closer, err := New(config.LoggingConfig{Level: "info", Format: "text"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.NoError(t, closer.Close())
}

func TestNewWithFileConfiguresRotatedHandler(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "sepa.log")
	logger, closer, err := New(config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		File:   mainPath,
	})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("hello")
	logger.Warn("careful")
	assert.NoError(t, closer.Close())

	_, err = os.Stat(mainPath)
	assert.NoError(t, err)
	_, err = os.Stat(errorLogPath(mainPath))
	assert.NoError(t, err)
}

func TestErrorLogPathDerivesFromMainPath(t *testing.T) {
	assert.Equal(t, "/var/log/sepa-errors.log", errorLogPath("/var/log/sepa.log"))
	assert.Equal(t, "sepa-errors", errorLogPath("sepa"))
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	assert.Equal(t, 0, int(parseLevel("info")))
	assert.Equal(t, 0, int(parseLevel("unknown")))
}
