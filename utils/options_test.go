package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	opt, err := ParseOptions([]byte(`
work_dir: /tmp/extlog
log_level: debug
queue_width: 4
copy_buffer_size: 1024
timeout: 5s
cache_base: true
exchange_format: proto
`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/extlog", opt.WorkDir)
	assert.Equal(t, LogLevelDebug, opt.LogLevel)
	assert.Equal(t, 4, opt.QueueWidth)
	assert.Equal(t, int64(1024), opt.CopyBufferSize)
	assert.Equal(t, 5*time.Second, opt.Timeout)
	assert.True(t, opt.CacheBase)
	assert.Equal(t, ExchangeFormatProto, opt.ExchangeFormat)
	// untouched fields keep their defaults
	assert.Equal(t, int64(DefaultCloneSpeedup), opt.CloneSpeedup)
	assert.Equal(t, DefaultCacheBlocks, opt.CacheBlocks)

	_, err = ParseOptions([]byte("exchange_format: json\n"))
	assert.Error(t, err)
}

func TestParseOptionsNumericLevel(t *testing.T) {
	opt, err := ParseOptions([]byte("log_level: 3\nqueue_width: -1\n"))
	require.NoError(t, err)
	assert.Equal(t, LogLevelError, opt.LogLevel)
	assert.Equal(t, DefaultQueueWidth, opt.QueueWidth)

	_, err = ParseOptions([]byte("log_level: 9\n"))
	assert.Error(t, err)
}

func TestLoadOptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warning\n"), 0o644))
	opt, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, LogLevelWarn, opt.LogLevel)

	_, err = LoadOptions(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
