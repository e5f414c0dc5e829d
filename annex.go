package annex

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/graph"
	"github.com/hupe1980/annex/persistence"
	"github.com/hupe1980/annex/pq"
	"github.com/hupe1980/annex/vectorstore"
)

// Container format for a combined index (graph + optional PQ blob).
const (
	indexMagic   = 0x414E5830 // "ANX0"
	indexVersion = 1
)

// Index ties the subsystems together: an optional PQ codec, the layered
// graph, and per-goroutine searchers. Build once, search concurrently.
type Index struct {
	opts   *Options
	ravv   vectorstore.VectorSource
	pq     *pq.ProductQuantization
	cv     *pq.PQVectors
	g      *graph.OnHeapGraphIndex
	bsp    graph.BuildScoreProvider
	logger *Logger

	searchers sync.Pool
}

// Build constructs an index over all vectors in ravv.
func Build(ctx context.Context, ravv vectorstore.VectorSource, opts ...Option) (*Index, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if ravv.Size() == 0 {
		return nil, ErrNoVectors
	}
	if ravv.Dimension() <= 0 {
		return nil, &ErrInvalidDimension{Dimension: ravv.Dimension()}
	}

	ix := &Index{opts: o, ravv: ravv, logger: o.Logger}

	if o.PQSubspaces > 0 {
		var pqOpts []pq.Option
		if o.Seed != 0 {
			pqOpts = append(pqOpts, pq.WithSeed(o.Seed))
		}
		trained, err := pq.Compute(ravv, o.PQSubspaces, o.PQClusters, false, pqOpts...)
		if err != nil {
			return nil, fmt.Errorf("annex: train pq: %w", err)
		}
		cv, err := trained.EncodeAll(ctx, ravv)
		if err != nil {
			return nil, fmt.Errorf("annex: encode vectors: %w", err)
		}
		ix.pq = trained
		ix.cv = cv
		ix.bsp = graph.PQBuildScoreProvider(o.Metric, cv, ravv)
		ix.logger.Info("trained product quantization", "subspaces", o.PQSubspaces, "clusters", o.PQClusters)
	} else {
		ix.bsp = graph.RandomAccessScoreProvider(ravv, o.Metric)
	}

	var builderOpts []graph.BuilderOption
	if o.Seed != 0 {
		builderOpts = append(builderOpts, graph.WithSeed(o.Seed))
	}
	builderOpts = append(builderOpts, graph.WithLogger(ix.logger.Logger))

	b, err := graph.NewGraphIndexBuilder(ix.bsp, ravv.Dimension(), o.MaxDegree, o.BeamWidth,
		o.NeighborOverflow, o.Alpha, o.AddHierarchy, builderOpts...)
	if err != nil {
		return nil, err
	}
	g, err := b.Build(ctx, ravv)
	if err != nil {
		return nil, fmt.Errorf("annex: build graph: %w", err)
	}
	ix.g = g
	ix.initSearcherPool()
	return ix, nil
}

func (ix *Index) initSearcherPool() {
	ix.searchers.New = func() any {
		return graph.NewGraphSearcher(ix.g)
	}
}

// Graph returns the underlying graph index.
func (ix *Index) Graph() *graph.OnHeapGraphIndex { return ix.g }

// PQ returns the trained quantization, or nil for exact indexes.
func (ix *Index) PQ() *pq.ProductQuantization { return ix.pq }

// Search returns the topK nearest ordinals to q.
func (ix *Index) Search(q []float32, topK int) (*graph.SearchResult, error) {
	return ix.SearchWith(q, topK, max(topK, ix.opts.BeamWidth), graph.AllBits)
}

// SearchWith searches with an explicit rerank depth and accept filter.
func (ix *Index) SearchWith(q []float32, topK, rerankK int, accept graph.Bits) (*graph.SearchResult, error) {
	if topK <= 0 {
		return nil, ErrInvalidK
	}
	if len(q) != ix.ravv.Dimension() {
		return nil, &ErrDimensionMismatch{Expected: ix.ravv.Dimension(), Actual: len(q)}
	}

	ssp, err := ix.bsp.SearchProviderFor(q)
	if err != nil {
		return nil, err
	}
	defer ssp.Close()

	searcher := ix.searchers.Get().(*graph.GraphSearcher)
	defer ix.searchers.Put(searcher)

	return searcher.SearchWith(ssp, topK, rerankK, 0, accept), nil
}

// Save writes the combined container: header, graph, then the PQ blob and
// the encoded codes when quantization is enabled.
func (ix *Index) Save(w io.Writer) error {
	bw := persistence.NewWriter(w)
	if err := bw.WriteUint32(indexMagic); err != nil {
		return err
	}
	if err := bw.WriteInt(indexVersion); err != nil {
		return err
	}
	if err := bw.WriteInt(int(ix.opts.Metric)); err != nil {
		return err
	}
	hasPQ := 0
	if ix.pq != nil {
		hasPQ = 1
	}
	if err := bw.WriteInt(hasPQ); err != nil {
		return err
	}

	if err := ix.g.Save(w); err != nil {
		return err
	}
	if ix.pq != nil {
		if err := ix.pq.Write(w); err != nil {
			return err
		}
		if err := ix.cv.WriteCodes(w, ix.opts.Compression); err != nil {
			return err
		}
	}
	return nil
}

// SaveFile atomically writes the container to path.
func (ix *Index) SaveFile(path string) error {
	return persistence.AtomicSave(path, ix.Save)
}

// Load reads a combined container written by Save. ravv must supply the
// same vectors the index was built over (the container does not embed raw
// vectors).
func Load(r io.Reader, ravv vectorstore.VectorSource, opts ...Option) (*Index, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	br := persistence.NewReader(r)
	magic, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	if magic != indexMagic {
		return nil, fmt.Errorf("annex: unsupported magic number: %#x", magic)
	}
	version, err := br.ReadInt()
	if err != nil {
		return nil, err
	}
	if version != indexVersion {
		return nil, fmt.Errorf("annex: unsupported version: %d", version)
	}
	metric, err := br.ReadInt()
	if err != nil {
		return nil, err
	}
	o.Metric = distance.Metric(metric)
	hasPQ, err := br.ReadInt()
	if err != nil {
		return nil, err
	}

	ix := &Index{opts: o, ravv: ravv, logger: o.Logger}

	// The graph needs its diversity provider up front, so it is bound to the
	// exact path. For PQ containers the codes arrive after the graph; only the
	// search provider switches to PQ scoring once they are loaded.
	exactBsp := graph.RandomAccessScoreProvider(ravv, o.Metric)
	g, err := graph.Load(r, float64(o.NeighborOverflow), graph.NewVamanaDiversity(exactBsp, o.Alpha))
	if err != nil {
		return nil, err
	}
	ix.g = g
	ix.bsp = exactBsp

	if hasPQ == 1 {
		trained, err := pq.Load(r)
		if err != nil {
			return nil, err
		}
		cv, err := pq.LoadCodes(r, trained)
		if err != nil {
			return nil, err
		}
		ix.pq = trained
		ix.cv = cv
		ix.bsp = graph.PQBuildScoreProvider(o.Metric, cv, ravv)
	}

	ix.initSearcherPool()
	return ix, nil
}

// LoadFile reads a combined container from path.
func LoadFile(path string, ravv vectorstore.VectorSource, opts ...Option) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, ravv, opts...)
}
