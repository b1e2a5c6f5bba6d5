package utils

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Options to control the behavior of the segment stack (passed to extlog.Open)
type Options struct {
	WorkDir  string   `yaml:"work_dir"`
	LogLevel LogLevel `yaml:"log_level"`

	QueueWidth     int   `yaml:"queue_width"`      // concurrent child operations per batch
	CopyBufferSize int64 `yaml:"copy_buffer_size"` // bytes per buffer of the copy pipeline
	// CloneSpeedup is how much cheaper a base byte is to clone than a log byte.
	CloneSpeedup int64         `yaml:"clone_speedup"`
	Timeout      time.Duration `yaml:"timeout"`

	// ExchangeFormat selects the exnode encoding: text (ini) or proto.
	ExchangeFormat string `yaml:"exchange_format"`

	CacheBase      bool  `yaml:"cache_base"`
	CacheBlockSize int64 `yaml:"cache_block_size"`
	CacheBlocks    int   `yaml:"cache_blocks"`
}

func DefaultOptions() *Options {
	return &Options{
		WorkDir:        "./work",
		LogLevel:       LogLevelInfo,
		QueueWidth:     DefaultQueueWidth,
		CopyBufferSize: DefaultCopyBufferSize,
		CloneSpeedup:   DefaultCloneSpeedup,
		Timeout:        DefaultTimeout,
		ExchangeFormat: ExchangeFormatText,
		CacheBlockSize: DefaultCacheBlockSize,
		CacheBlocks:    DefaultCacheBlocks,
	}
}

// LoadOptions reads a YAML file on top of DefaultOptions.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read options %s", path)
	}
	return ParseOptions(data)
}

func ParseOptions(data []byte) (*Options, error) {
	opt := DefaultOptions()
	if err := yaml.Unmarshal(data, opt); err != nil {
		return nil, errors.Wrap(err, "parse options")
	}
	opt.Normalize()
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	return opt, nil
}

// Validate rejects settings Normalize cannot repair.
func (opt *Options) Validate() error {
	switch opt.ExchangeFormat {
	case ExchangeFormatText, ExchangeFormatProto:
		return nil
	}
	return errors.Errorf("unknown exchange format %q", opt.ExchangeFormat)
}

// Normalize replaces unset or invalid values with their defaults.
func (opt *Options) Normalize() {
	if opt.QueueWidth <= 0 {
		opt.QueueWidth = DefaultQueueWidth
	}
	if opt.CopyBufferSize <= 0 {
		opt.CopyBufferSize = DefaultCopyBufferSize
	}
	if opt.CloneSpeedup <= 0 {
		opt.CloneSpeedup = DefaultCloneSpeedup
	}
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}
	if opt.ExchangeFormat == "" {
		opt.ExchangeFormat = ExchangeFormatText
	}
	if opt.CacheBlockSize <= 0 {
		opt.CacheBlockSize = DefaultCacheBlockSize
	}
	if opt.CacheBlocks <= 0 {
		opt.CacheBlocks = DefaultCacheBlocks
	}
}
