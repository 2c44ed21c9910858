package main

import (
	"bytes"
	"os"

	"github.com/btree-query-bench/gbptree/dbms/index/bptree"
	"github.com/btree-query-bench/gbptree/dbms/index/kv"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration of the command line tool. Flags given on
// the command line override it.
type Config struct {
	Index   IndexConfig   `yaml:"index"`
	Bench   BenchConfig   `yaml:"bench"`
	Logging LoggingConfig `yaml:"logging"`
}

// IndexConfig describes the bptree file.
type IndexConfig struct {
	Path              string  `yaml:"path" validate:"required"`
	StoragePageSize   int     `yaml:"storage_page_size" validate:"min=64"`
	PageSize          int     `yaml:"page_size" validate:"omitempty,min=64,ltefield=StoragePageSize"`
	CachePages        int     `yaml:"cache_pages" validate:"min=1"`
	NodeLayout        string  `yaml:"node_layout" validate:"oneof=sorted indirect"`
	MaxValueSize      int     `yaml:"max_value_size" validate:"min=1,max=65535"`
	SplitLeftFraction float64 `yaml:"split_left_fraction" validate:"gt=0,lt=1"`
}

// BenchConfig describes a benchmark run.
type BenchConfig struct {
	Engines    []string `yaml:"engines" validate:"min=1,dive,oneof=bptree lsm"`
	Keys       int      `yaml:"keys" validate:"min=1"`
	ValueSize  int      `yaml:"value_size" validate:"min=0"`
	Readers    int      `yaml:"readers" validate:"min=1,max=256"`
	RangeScans int      `yaml:"range_scans" validate:"min=0"`
	RangeWidth int64    `yaml:"range_width" validate:"min=1"`
	Seed       int64    `yaml:"seed"`
	OutputDir  string   `yaml:"output_dir" validate:"required"`
	Plot       bool     `yaml:"plot"`
}

// LoggingConfig selects the log level and an optional rotated log file.
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Index: IndexConfig{
			Path:              "index.gbp",
			StoragePageSize:   4096,
			CachePages:        1024,
			NodeLayout:        "sorted",
			MaxValueSize:      64,
			SplitLeftFraction: bptree.DefaultSplitLeftFraction,
		},
		Bench: BenchConfig{
			Engines:    []string{"bptree", "lsm"},
			Keys:       100000,
			ValueSize:  16,
			Readers:    4,
			RangeScans: 100,
			RangeWidth: 100,
			Seed:       1,
			OutputDir:  "results",
			Plot:       true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "config: read")
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, errors.Wrapf(err, "config: decode %s", path)
		}
	}
	return cfg, cfg.Validate()
}

var validate = validator.New()

// Validate checks field constraints and the rules that span fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "config: invalid")
	}
	if c.Bench.ValueSize > c.Index.MaxValueSize {
		return errors.Newf("config: bench.value_size %d exceeds index.max_value_size %d",
			c.Bench.ValueSize, c.Index.MaxValueSize)
	}
	return nil
}

func (c IndexConfig) nodeLayout() bptree.NodeLayoutKind {
	if c.NodeLayout == "indirect" {
		return bptree.IndirectLayout
	}
	return bptree.SortedLayout
}

// kvOptions maps the index section to store options.
func (c IndexConfig) kvOptions(logger *zap.Logger, reg prometheus.Registerer) kv.Options {
	return kv.Options{
		MaxValueSize: c.MaxValueSize,
		Index: bptree.Options{
			StoragePageSize: c.StoragePageSize,
			PageSize:        c.PageSize,
			CachePages:      c.CachePages,
			NodeLayout:      c.nodeLayout(),
			Logger:          logger,
			Registerer:      reg,
		},
		Writer: bptree.WriterOptions{SplitLeftFraction: c.SplitLeftFraction},
	}
}
