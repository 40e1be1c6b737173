package bfio

import (
	"github.com/janelia-flyem/bfio/codec"
	"github.com/janelia-flyem/bfio/config"
	"github.com/janelia-flyem/bfio/engine"
	"github.com/janelia-flyem/bfio/storage"
)

// Option customizes a reader or writer.
type Option func(*settings)

type settings struct {
	config      *config.Config
	concurrency int
	cacheBytes  int64
	cacheSet    bool
	compressor  *codec.Spec
	metrics     *engine.Metrics
}

func newSettings(opts []Option) *settings {
	s := &settings{config: config.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithConfig uses settings loaded from a configuration file instead of the defaults.
// Other options override the corresponding configuration values.
func WithConfig(c *config.Config) Option {
	return func(s *settings) {
		if c != nil {
			s.config = c
		}
	}
}

// WithConcurrency bounds the number of chunks processed at once per request and the
// number of simultaneous store operations.
func WithConcurrency(n int) Option {
	return func(s *settings) {
		s.concurrency = n
	}
}

// WithCacheSize sets the reader's chunk cache size in bytes.  Zero disables caching
// and prefetch.
func WithCacheSize(numBytes int64) Option {
	return func(s *settings) {
		s.cacheBytes = numBytes
		s.cacheSet = true
	}
}

// WithCompressor sets the chunk compressor of a new Zarr image.
func WithCompressor(spec codec.Spec) Option {
	return func(s *settings) {
		s.compressor = &spec
	}
}

// WithMetrics records chunk I/O in the given Prometheus metrics.
func WithMetrics(m *engine.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

func (s *settings) engineConfig() engine.Config {
	ec := s.config.EngineOptions()
	if s.concurrency > 0 {
		ec.Concurrency = s.concurrency
	}
	if s.cacheSet {
		ec.CacheBytes = s.cacheBytes
	}
	ec.Metrics = s.metrics
	return ec
}

func (s *settings) storeConfig() storage.Config {
	sc := s.config.StoreConfig()
	if s.concurrency > 0 {
		sc.Concurrency = s.concurrency
	}
	return sc
}

func (s *settings) compressorSpec() codec.Spec {
	if s.compressor != nil {
		return *s.compressor
	}
	return s.config.CompressorSpec()
}
