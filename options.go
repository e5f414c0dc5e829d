package annex

import (
	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/persistence"
)

// Options configures index construction and search defaults.
type Options struct {
	// Metric selects the similarity used for build and search.
	Metric distance.Metric

	// MaxDegree is the per-node degree bound (M). Typical: 16-64.
	MaxDegree int

	// BeamWidth is the construction search depth (W). Typical: 100-200.
	BeamWidth int

	// NeighborOverflow allows temporary degree overflow during
	// construction by this factor (>= 1.0).
	NeighborOverflow float32

	// Alpha relaxes the diversity rule (>= 1.0). Typical: 1.0-1.5.
	Alpha float32

	// AddHierarchy enables sparse upper layers with geometric level
	// sampling.
	AddHierarchy bool

	// PQSubspaces enables product quantization with this many subspaces
	// when > 0; build and search then score on compressed codes and
	// rerank exactly.
	PQSubspaces int

	// PQClusters is the centroid count per subspace (K <= 256).
	PQClusters int

	// Compression selects the block codec for persisted PQ codes.
	Compression persistence.CompressionType

	// Seed fixes randomized choices (level sampling, PQ training) for
	// reproducible builds. Zero means a random seed.
	Seed int64

	// Logger receives structured build diagnostics.
	Logger *Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Metric:           distance.MetricL2,
		MaxDegree:        32,
		BeamWidth:        100,
		NeighborOverflow: 1.2,
		Alpha:            1.2,
		AddHierarchy:     false,
		PQSubspaces:      0,
		PQClusters:       256,
		Compression:      persistence.CompressionZSTD,
		Logger:           NoopLogger(),
	}
}

// Option mutates Options.
type Option func(*Options)

// WithMetric selects the similarity metric.
func WithMetric(m distance.Metric) Option {
	return func(o *Options) { o.Metric = m }
}

// WithMaxDegree sets the per-node degree bound.
func WithMaxDegree(m int) Option {
	return func(o *Options) { o.MaxDegree = m }
}

// WithBeamWidth sets the construction search depth.
func WithBeamWidth(w int) Option {
	return func(o *Options) { o.BeamWidth = w }
}

// WithNeighborOverflow sets the temporary degree headroom factor.
func WithNeighborOverflow(f float32) Option {
	return func(o *Options) { o.NeighborOverflow = f }
}

// WithAlpha sets the diversity relaxation factor.
func WithAlpha(a float32) Option {
	return func(o *Options) { o.Alpha = a }
}

// WithHierarchy enables the layered hierarchy.
func WithHierarchy() Option {
	return func(o *Options) { o.AddHierarchy = true }
}

// WithPQ enables product quantization with m subspaces and k clusters.
func WithPQ(m, k int) Option {
	return func(o *Options) {
		o.PQSubspaces = m
		o.PQClusters = k
	}
}

// WithCompression selects the persisted code compression.
func WithCompression(ct persistence.CompressionType) Option {
	return func(o *Options) { o.Compression = ct }
}

// WithBuildSeed fixes randomized build choices.
func WithBuildSeed(seed int64) Option {
	return func(o *Options) { o.Seed = seed }
}

// WithIndexLogger attaches a logger.
func WithIndexLogger(l *Logger) Option {
	return func(o *Options) { o.Logger = l }
}
