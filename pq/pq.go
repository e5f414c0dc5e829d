package pq

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/annex/internal/simd"
	"github.com/hupe1980/annex/vectorstore"
)

const (
	// DefaultClusters is the default number of centroids per subspace; codes
	// must fit in one byte.
	DefaultClusters = 256

	// MaxClusters bounds the cluster count so centroid indexes fit in a byte.
	MaxClusters = 256

	// maxTrainingVectors caps the sample used for codebook training.
	maxTrainingVectors = 128_000

	// defaultLloydIterations bounds Lloyd rounds per subspace; training also
	// stops early once fewer than 1% of points change assignment.
	defaultLloydIterations = 6
)

// ErrUnsupportedSimilarity is returned when a metric is not supported by a
// given scoring path (cosine has no symmetric partial-sum table).
var ErrUnsupportedSimilarity = errors.New("pq: unsupported similarity")

// ProductQuantization holds trained codebooks for M contiguous subspaces.
// Built once, then immutable; safe for concurrent use.
type ProductQuantization struct {
	// M is the number of subspaces (one code byte per subspace).
	M int
	// ClusterCount is the number of centroids per subspace (K <= 256).
	ClusterCount int
	// OriginalDimension is the input vector dimensionality.
	OriginalDimension int
	// SubvectorSizesAndOffsets holds {size, offset} per subspace.
	SubvectorSizesAndOffsets [][2]int
	// Codebooks holds one flattened K*size centroid array per subspace.
	Codebooks [][]float32
	// GlobalCentroid, when non-nil, is subtracted from inputs before encoding.
	GlobalCentroid []float32
	// AnisotropicThreshold is the training threshold, or Unweighted.
	AnisotropicThreshold float32
}

// Option configures Compute.
type Option func(*computeConfig)

type computeConfig struct {
	anisotropicThreshold float32
	maxIterations        int
	trainingLimit        int
	seed                 int64
}

// WithAnisotropicThreshold enables anisotropic training with threshold t.
func WithAnisotropicThreshold(t float32) Option {
	return func(c *computeConfig) { c.anisotropicThreshold = t }
}

// WithMaxIterations overrides the Lloyd iteration bound.
func WithMaxIterations(n int) Option {
	return func(c *computeConfig) { c.maxIterations = n }
}

// WithTrainingLimit overrides the training sample cap.
func WithTrainingLimit(n int) Option {
	return func(c *computeConfig) { c.trainingLimit = n }
}

// WithSeed fixes the training RNG seed for reproducible codebooks.
func WithSeed(seed int64) Option {
	return func(c *computeConfig) { c.seed = seed }
}

// SubvectorSizesAndOffsets partitions dim dimensions into m contiguous
// subspaces. When dim is not divisible by m, earlier subspaces are one larger.
func SubvectorSizesAndOffsets(dim, m int) [][2]int {
	base := dim / m
	remainder := dim % m
	out := make([][2]int, m)
	offset := 0
	for i := range out {
		size := base
		if i < remainder {
			size++
		}
		out[i] = [2]int{size, offset}
		offset += size
	}
	return out
}

// Compute trains a ProductQuantization over the vectors in ravv with m
// subspaces and clusters centroids per subspace. When globallyCenter is set,
// the mean vector is subtracted before training and encoding.
func Compute(ravv vectorstore.VectorSource, m, clusters int, globallyCenter bool, opts ...Option) (*ProductQuantization, error) {
	cfg := computeConfig{
		anisotropicThreshold: Unweighted,
		maxIterations:        defaultLloydIterations,
		trainingLimit:        maxTrainingVectors,
		seed:                 rand.Int63(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dim := ravv.Dimension()
	if m <= 0 || m > dim {
		return nil, fmt.Errorf("pq: invalid subspace count %d for dimension %d", m, dim)
	}
	if clusters <= 0 || clusters > MaxClusters {
		return nil, fmt.Errorf("pq: invalid cluster count %d", clusters)
	}
	if ravv.Size() == 0 {
		return nil, errors.New("pq: no vectors to train on")
	}

	training := sampleTraining(ravv, cfg.trainingLimit, cfg.seed)
	if len(training) == 0 {
		return nil, errors.New("pq: no vectors to train on")
	}

	var globalCentroid []float32
	if globallyCenter {
		globalCentroid = meanOf(training, dim)
		for i, v := range training {
			training[i] = simd.Sub(v, globalCentroid)
		}
	}

	pq := &ProductQuantization{
		M:                        m,
		ClusterCount:             clusters,
		OriginalDimension:        dim,
		SubvectorSizesAndOffsets: SubvectorSizesAndOffsets(dim, m),
		Codebooks:                make([][]float32, m),
		GlobalCentroid:           globalCentroid,
		AnisotropicThreshold:     cfg.anisotropicThreshold,
	}

	if err := pq.trainCodebooks(training, cfg, nil); err != nil {
		return nil, err
	}
	return pq, nil
}

// Refine continues clustering on a fresh vector stream starting from the
// existing centroids and returns a new ProductQuantization. On samples drawn
// from the training distribution the refined loss is non-increasing.
func (pq *ProductQuantization) Refine(ravv vectorstore.VectorSource) (*ProductQuantization, error) {
	if ravv.Dimension() != pq.OriginalDimension {
		return nil, fmt.Errorf("pq: dimension mismatch: expected %d, got %d", pq.OriginalDimension, ravv.Dimension())
	}

	cfg := computeConfig{
		anisotropicThreshold: pq.AnisotropicThreshold,
		maxIterations:        defaultLloydIterations,
		trainingLimit:        maxTrainingVectors,
		seed:                 rand.Int63(),
	}
	training := sampleTraining(ravv, cfg.trainingLimit, cfg.seed)
	if len(training) == 0 {
		return nil, errors.New("pq: no vectors to refine on")
	}
	if pq.GlobalCentroid != nil {
		for i, v := range training {
			training[i] = simd.Sub(v, pq.GlobalCentroid)
		}
	}

	refined := &ProductQuantization{
		M:                        pq.M,
		ClusterCount:             pq.ClusterCount,
		OriginalDimension:        pq.OriginalDimension,
		SubvectorSizesAndOffsets: pq.SubvectorSizesAndOffsets,
		Codebooks:                make([][]float32, pq.M),
		GlobalCentroid:           pq.GlobalCentroid,
		AnisotropicThreshold:     pq.AnisotropicThreshold,
	}
	if err := refined.trainCodebooks(training, cfg, pq.Codebooks); err != nil {
		return nil, err
	}
	return refined, nil
}

// trainCodebooks clusters each subspace in parallel. When initial codebooks
// are supplied, clustering continues from them instead of reseeding.
func (pq *ProductQuantization) trainCodebooks(training [][]float32, cfg computeConfig, initial [][]float32) error {
	g := errgroup.Group{}
	g.SetLimit(runtime.GOMAXPROCS(0))

	for m := 0; m < pq.M; m++ {
		g.Go(func() error {
			size, offset := pq.SubvectorSizesAndOffsets[m][0], pq.SubvectorSizesAndOffsets[m][1]
			points := make([][]float32, len(training))
			for i, v := range training {
				points[i] = v[offset : offset+size]
			}

			rng := rand.New(rand.NewSource(cfg.seed + int64(m)))
			var clusterer *KMeansClusterer
			if initial != nil {
				clusterer = NewKMeansClustererFromCentroids(points, initial[m], pq.ClusterCount, cfg.anisotropicThreshold, rng)
			} else {
				clusterer = NewKMeansClusterer(points, pq.ClusterCount, cfg.anisotropicThreshold, rng)
			}
			pq.Codebooks[m] = clusterer.Cluster(cfg.maxIterations)
			return nil
		})
	}
	return g.Wait()
}

// Center returns v with the global centroid subtracted, or v itself when no
// centering is configured.
func (pq *ProductQuantization) Center(v []float32) []float32 {
	if pq.GlobalCentroid == nil {
		return v
	}
	return simd.Sub(v, pq.GlobalCentroid)
}

// Encode writes the M code bytes for v into dst. A nil vector encodes to all
// zero bytes, which materializes absent ordinals during parallel encoding.
func (pq *ProductQuantization) Encode(v []float32, dst []byte) error {
	if v == nil {
		clear(dst[:pq.M])
		return nil
	}
	if len(v) != pq.OriginalDimension {
		return fmt.Errorf("pq: dimension mismatch: expected %d, got %d", pq.OriginalDimension, len(v))
	}
	centered := pq.Center(v)
	for m := 0; m < pq.M; m++ {
		size, offset := pq.SubvectorSizesAndOffsets[m][0], pq.SubvectorSizesAndOffsets[m][1]
		dst[m] = byte(pq.closestCentroid(m, centered[offset:offset+size]))
	}
	return nil
}

func (pq *ProductQuantization) closestCentroid(m int, sub []float32) int {
	codebook := pq.Codebooks[m]
	size := len(sub)
	best := 0
	bestDist := simd.SquaredL2(sub, codebook[:size])
	for j := 1; j < pq.ClusterCount; j++ {
		d := simd.SquaredL2(sub, codebook[j*size:(j+1)*size])
		if d < bestDist {
			bestDist = d
			best = j
		}
	}
	return best
}

// Decode reconstructs the approximate vector for code into dst.
func (pq *ProductQuantization) Decode(code []byte, dst []float32) {
	for m := 0; m < pq.M; m++ {
		size, offset := pq.SubvectorSizesAndOffsets[m][0], pq.SubvectorSizesAndOffsets[m][1]
		centroid := pq.centroid(m, int(code[m]))
		copy(dst[offset:offset+size], centroid)
	}
	if pq.GlobalCentroid != nil {
		simd.AddInPlace(dst, pq.GlobalCentroid)
	}
}

// centroid returns the j-th centroid of subspace m as a slice view.
func (pq *ProductQuantization) centroid(m, j int) []float32 {
	size := pq.SubvectorSizesAndOffsets[m][0]
	return pq.Codebooks[m][j*size : (j+1)*size]
}

// EncodeAll encodes every ordinal of ravv into a PQVectors store. Absent
// ordinals (nil vectors) encode to all-zero codes. Encoding runs in parallel
// across a bounded worker pool.
func (pq *ProductQuantization) EncodeAll(ctx context.Context, ravv vectorstore.VectorSource) (*PQVectors, error) {
	n := ravv.Size()
	layout, err := NewLayout(n, pq.M)
	if err != nil {
		return nil, err
	}

	chunks := make([][]byte, layout.TotalChunks)
	for i := range chunks {
		if i < layout.FullSizeChunks {
			chunks[i] = make([]byte, layout.FullChunkBytes)
		} else {
			chunks[i] = make([]byte, layout.LastChunkBytes)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	const batch = 1024
	for start := 0; start < n; start += batch {
		end := min(start+batch, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for ord := start; ord < end; ord++ {
				chunk, offset := layout.ChunkOf(ord)
				if err := pq.Encode(ravv.Vector(ord), chunks[chunk][offset:offset+pq.M]); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &PQVectors{pq: pq, chunks: chunks, layout: layout}, nil
}

func sampleTraining(ravv vectorstore.VectorSource, limit int, seed int64) [][]float32 {
	n := ravv.Size()
	var picks []int
	if n <= limit {
		picks = make([]int, 0, n)
		for i := 0; i < n; i++ {
			picks = append(picks, i)
		}
	} else {
		rng := rand.New(rand.NewSource(seed))
		picks = rng.Perm(n)[:limit]
	}

	out := make([][]float32, 0, len(picks))
	for _, ord := range picks {
		if v := ravv.Vector(ord); v != nil {
			out = append(out, v)
		}
	}
	return out
}

func meanOf(vectors [][]float32, dim int) []float32 {
	mean := make([]float32, dim)
	for _, v := range vectors {
		simd.AddInPlace(mean, v)
	}
	simd.ScaleInPlace(mean, 1/float32(len(vectors)))
	return mean
}
