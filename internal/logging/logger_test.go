package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hujra/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(config.LogConfig{Level: "info"}, &buf)
	require.NoError(t, err)
	log.Debug("hidden")
	log.Info("visit recorded")
	_ = log.Sync()

	out := buf.String()
	assert.Contains(t, out, `"msg":"visit recorded"`)
	assert.Contains(t, out, `"level":"INFO"`)
	assert.NotContains(t, out, "hidden")
}

func TestNewWithWriterTeesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hujra.log")
	var buf bytes.Buffer
	log, err := NewWithWriter(config.LogConfig{Level: "debug", Pretty: true, File: path, MaxSizeMB: 1}, &buf)
	require.NoError(t, err)
	log.Debug("store opened")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"store opened"`)
	assert.True(t, strings.Contains(buf.String(), "store opened"))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	require.Error(t, err)
}
