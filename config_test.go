package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btree-query-bench/gbptree/dbms/index/bptree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, bptree.SortedLayout, cfg.Index.nodeLayout())
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
index:
  path: /tmp/x.gbp
  node_layout: indirect
  storage_page_size: 8192
  page_size: 1024
bench:
  engines: [bptree]
  keys: 500
logging:
  level: debug
  file: /tmp/gbptree.log
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.gbp", cfg.Index.Path)
	assert.Equal(t, bptree.IndirectLayout, cfg.Index.nodeLayout())
	assert.Equal(t, 1024, cfg.Index.PageSize)
	assert.Equal(t, []string{"bptree"}, cfg.Bench.Engines)
	assert.Equal(t, 500, cfg.Bench.Keys)
	assert.Equal(t, 4, cfg.Bench.Readers, "unset keys keep their defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)

	opts := cfg.Index.kvOptions(nil, nil)
	assert.Equal(t, 8192, opts.Index.StoragePageSize)
	assert.Equal(t, bptree.IndirectLayout, opts.Index.NodeLayout)
	assert.Equal(t, cfg.Index.SplitLeftFraction, opts.Writer.SplitLeftFraction)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown key", body: "index:\n  colour: blue\n"},
		{name: "bad layout", body: "index:\n  node_layout: hashed\n"},
		{name: "page larger than storage", body: "index:\n  storage_page_size: 1024\n  page_size: 2048\n"},
		{name: "split fraction", body: "index:\n  split_left_fraction: 1\n"},
		{name: "unknown engine", body: "bench:\n  engines: [bptree, rocks]\n"},
		{name: "no engines", body: "bench:\n  engines: []\n"},
		{name: "value larger than slot", body: "index:\n  max_value_size: 8\nbench:\n  value_size: 9\n"},
		{name: "log level", body: "logging:\n  level: verbose\n"},
		{name: "not yaml", body: "index: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "gbptree.log")
	logger, err := newLogger(LoggingConfig{Level: "debug", File: file, MaxSizeMB: 1})
	require.NoError(t, err)
	logger.Debug("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)

	_, err = newLogger(LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
