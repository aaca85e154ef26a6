package idb

import (
	"log/slog"
	"runtime"

	"github.com/hupe1980/idb/internal/fs"
	"github.com/hupe1980/idb/internal/resource"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	fs               fs.FileSystem
	resource         *resource.Controller
	memoryLimit      int64
	ioLimit          int64
	workers          int
	strictCompound   bool
}

// Option configures a DB created with New.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	db := idb.New(idb.WithLogger(idb.NewJSONLogger(slog.LevelInfo)))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
//	metrics := &idb.BasicMetricsCollector{}
//	db := idb.New(idb.WithMetricsCollector(metrics))
//	// ... use db ...
//	fmt.Println(metrics.GetStats().SearchAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithFileSystem replaces the file system used for snapshots, the manifest
// and the journal. Tests use it to inject faults.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithResourceController shares a resource controller between databases.
// It overrides WithMemoryLimit, WithIOLimit and WithWorkers.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resource = rc
	}
}

// WithMemoryLimit bounds the memory held by the record cache.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithIOLimit throttles checkpoint, optimize and backup IO to bytes per second.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithWorkers sets the number of goroutines used to rebuild the indexes.
// Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithStrictCompound makes SearchCompound reject malformed clauses instead
// of skipping them.
func WithStrictCompound() Option {
	return func(o *options) {
		o.strictCompound = true
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		fs:               fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.fs == nil {
		o.fs = fs.Default
	}
	if o.resource == nil {
		workers := o.workers
		if workers <= 0 {
			workers = runtime.GOMAXPROCS(0)
		}
		o.resource = resource.NewController(resource.Config{
			MemoryLimitBytes:     o.memoryLimit,
			MaxBackgroundWorkers: int64(workers),
			IOLimitBytesPerSec:   o.ioLimit,
		})
	}
	return o
}
