/*
Package config loads bfio settings from a TOML file.  Every setting has a default, so an
empty or missing file yields a usable configuration.

	[engine]
	concurrency = 16          # chunks processed at once per request
	cache_mb = 256            # chunk cache size; 0 disables caching and prefetch
	prefetch_concurrency = 8  # chunks prefetched at once

	[zarr]
	compressor = "blosc"      # blosc, zstd, gzip, zlib, lz4 or null
	cname = "lz4"             # blosc inner compressor
	level = 5
	shuffle = 1
	separator = ""            # "." or "/"; empty selects the format default

	[tiff]
	level = 6                 # deflate level of written tiles

	[logging]
	logfile = "/var/log/bfio.log"
	max_log_size = 500        # MB
	max_log_age = 30          # days
	level = "info"
*/
package config

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/codec"
	"github.com/janelia-flyem/bfio/engine"
	"github.com/janelia-flyem/bfio/storage"
)

// Config is the complete set of bfio settings.
type Config struct {
	Engine  EngineConfig  `toml:"engine"`
	Zarr    ZarrConfig    `toml:"zarr"`
	Tiff    TiffConfig    `toml:"tiff"`
	Logging bio.LogConfig `toml:"logging"`
}

type EngineConfig struct {
	Concurrency         int   `toml:"concurrency" validate:"gte=1,lte=1024"`
	CacheMB             int64 `toml:"cache_mb" validate:"gte=0"`
	PrefetchConcurrency int   `toml:"prefetch_concurrency" validate:"gte=1,lte=1024"`
}

type ZarrConfig struct {
	Compressor string `toml:"compressor" validate:"oneof=blosc zstd gzip zlib lz4 null raw"`
	CName      string `toml:"cname" validate:"omitempty,oneof=lz4 snappy zlib zstd"`
	Level      int    `toml:"level" validate:"gte=-2,lte=22"`
	Shuffle    int    `toml:"shuffle" validate:"gte=0,lte=2"`
	Separator  string `toml:"separator" validate:"omitempty,oneof=. /"`
}

type TiffConfig struct {
	Level int `toml:"level" validate:"gte=-2,lte=9"`
}

// Default returns the settings used when no configuration file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Concurrency:         engine.DefaultConcurrency,
			CacheMB:             256,
			PrefetchConcurrency: 8,
		},
		Zarr: ZarrConfig{
			Compressor: "blosc",
			CName:      "lz4",
			Level:      5,
			Shuffle:    1,
		},
		Tiff: TiffConfig{
			Level: 6,
		},
	}
}

var validate = validator.New()

// Load reads a TOML file over the defaults and validates the result.  Relative log file
// paths are taken relative to the configuration file.
func Load(filename string) (*Config, error) {
	c := Default()
	if filename == "" {
		return c, nil
	}
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return nil, bio.WrapError(err, bio.CodeInvalidInput, "could not decode TOML config %q", filename)
	}
	if c.Logging.Logfile != "" && !filepath.IsAbs(c.Logging.Logfile) {
		c.Logging.Logfile = filepath.Join(filepath.Dir(filename), c.Logging.Logfile)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	bio.Debugf("Loaded configuration from %s: %+v\n", filename, *c)
	return c, nil
}

// Decode parses TOML text over the defaults and validates the result.
func Decode(text string) (*Config, error) {
	c := Default()
	if _, err := toml.Decode(text, c); err != nil {
		return nil, bio.WrapError(err, bio.CodeInvalidInput, "could not decode TOML config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the struct tag rules and the settings that depend on each other.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if c.Zarr.Compressor == "blosc" && c.Zarr.CName == "" {
		return bio.NewError(bio.CodeInvalidInput, "zarr: blosc compressor requires cname")
	}
	if _, err := codec.New(c.CompressorSpec()); err != nil {
		return err
	}
	return nil
}

func formatValidationError(err error) error {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		e := errs[0]
		return bio.NewError(bio.CodeInvalidInput, "%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return bio.WrapError(err, bio.CodeInvalidInput, "invalid configuration")
}

// CompressorSpec returns the zarr chunk compressor.
func (c *Config) CompressorSpec() codec.Spec {
	spec := codec.Spec{Name: c.Zarr.Compressor, Level: c.Zarr.Level}
	if c.Zarr.Compressor == "blosc" {
		spec.CName = c.Zarr.CName
		spec.Shuffle = c.Zarr.Shuffle
	}
	return spec
}

// EngineOptions returns the engine settings; metrics are attached by the caller.
func (c *Config) EngineOptions() engine.Config {
	return engine.Config{
		Concurrency:         c.Engine.Concurrency,
		CacheBytes:          c.Engine.CacheMB << 20,
		PrefetchConcurrency: c.Engine.PrefetchConcurrency,
	}
}

// StoreConfig returns the blob store settings.
func (c *Config) StoreConfig() storage.Config {
	return storage.Config{Concurrency: c.Engine.Concurrency}
}

func (c *Config) String() string {
	return fmt.Sprintf("engine %+v, zarr %s, tiff level %d", c.Engine, c.CompressorSpec(), c.Tiff.Level)
}
