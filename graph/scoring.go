package graph

import (
	"fmt"
	"sync"

	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/pq"
	"github.com/hupe1980/annex/vectorstore"
)

// ScoreFunction scores a graph node against a fixed query or source node.
// Higher is closer.
type ScoreFunction func(node int) float32

// SearchScoreProvider binds a query to an approximate score function and an
// optional exact rerank function.
type SearchScoreProvider struct {
	score   ScoreFunction
	rerank  ScoreFunction
	release func()
}

// NewSearchScoreProvider creates a provider. rerank may be nil for
// exact-only scoring (rerank is then the identity).
func NewSearchScoreProvider(score ScoreFunction, rerank ScoreFunction) *SearchScoreProvider {
	return &SearchScoreProvider{score: score, rerank: rerank}
}

// Score returns the approximate similarity of node to the bound query.
func (ssp *SearchScoreProvider) Score(node int) float32 { return ssp.score(node) }

// Rerank returns the exact rerank function, or nil when the approximate
// score is already exact.
func (ssp *SearchScoreProvider) Rerank() ScoreFunction { return ssp.rerank }

// Close releases pooled scoring buffers. Safe to call more than once.
func (ssp *SearchScoreProvider) Close() {
	if ssp.release != nil {
		ssp.release()
		ssp.release = nil
	}
}

// BuildScoreProvider yields scoring for insertion candidates and for pairs
// of graph ordinals during construction and search.
type BuildScoreProvider interface {
	// SearchProviderFor binds a raw query vector.
	SearchProviderFor(q []float32) (*SearchScoreProvider, error)
	// SearchProviderForNode binds a graph node as the query.
	SearchProviderForNode(node int) (*SearchScoreProvider, error)
	// DiversityProviderFor returns sim(node, other) for diversity decisions.
	DiversityProviderFor(node int) (ScoreFunction, error)
}

// ----------------------------------------------------------------------------
// Exact provider over a random-access vector source
// ----------------------------------------------------------------------------

type randomAccessScoreProvider struct {
	ravv        vectorstore.VectorSource
	graphToRavv []int // nil for the identity mapping
	metric      distance.Metric
}

// RandomAccessScoreProvider scores exactly against the vectors in ravv.
func RandomAccessScoreProvider(ravv vectorstore.VectorSource, metric distance.Metric) BuildScoreProvider {
	return &randomAccessScoreProvider{ravv: ravv, metric: metric}
}

// RandomAccessScoreProviderWithMap scores exactly against ravv, translating
// graph ordinals through graphToRavv first, so the graph's ordinal space may
// differ from the underlying vector storage's.
func RandomAccessScoreProviderWithMap(ravv vectorstore.VectorSource, graphToRavv []int, metric distance.Metric) BuildScoreProvider {
	return &randomAccessScoreProvider{ravv: ravv, graphToRavv: graphToRavv, metric: metric}
}

func (p *randomAccessScoreProvider) vectorFor(node int) ([]float32, error) {
	ord := node
	if p.graphToRavv != nil {
		if node < 0 || node >= len(p.graphToRavv) {
			return nil, fmt.Errorf("graph: ordinal %d outside mapping of size %d", node, len(p.graphToRavv))
		}
		ord = p.graphToRavv[node]
	}
	v := p.ravv.Vector(ord)
	if v == nil {
		return nil, fmt.Errorf("graph: no vector for ordinal %d", ord)
	}
	return v, nil
}

func (p *randomAccessScoreProvider) SearchProviderFor(q []float32) (*SearchScoreProvider, error) {
	exact := func(node int) float32 {
		v, err := p.vectorFor(node)
		if err != nil {
			return 0
		}
		return p.metric.Compare(q, v)
	}
	return NewSearchScoreProvider(exact, nil), nil
}

func (p *randomAccessScoreProvider) SearchProviderForNode(node int) (*SearchScoreProvider, error) {
	q, err := p.vectorFor(node)
	if err != nil {
		return nil, err
	}
	return p.SearchProviderFor(q)
}

func (p *randomAccessScoreProvider) DiversityProviderFor(node int) (ScoreFunction, error) {
	q, err := p.vectorFor(node)
	if err != nil {
		return nil, err
	}
	return func(other int) float32 {
		v, err := p.vectorFor(other)
		if err != nil {
			return 0
		}
		return p.metric.Compare(q, v)
	}, nil
}

// ----------------------------------------------------------------------------
// PQ-backed provider
// ----------------------------------------------------------------------------

type pqBuildScoreProvider struct {
	metric distance.Metric
	cv     *pq.PQVectors
	ravv   vectorstore.VectorSource // optional; enables exact reranking

	// The symmetric table is K^2-sized per subspace; build it once.
	sdcOnce sync.Once
	sdc     func(a, b int) float32
	sdcErr  error
}

// PQBuildScoreProvider scores approximately against PQ codes. Searches use
// the precomputed asymmetric tables; diversity uses the symmetric table on
// encoded codes. When ravv is non-nil, search providers carry an exact
// rerank function.
func PQBuildScoreProvider(metric distance.Metric, cv *pq.PQVectors, ravv vectorstore.VectorSource) BuildScoreProvider {
	return &pqBuildScoreProvider{metric: metric, cv: cv, ravv: ravv}
}

func (p *pqBuildScoreProvider) SearchProviderFor(q []float32) (*SearchScoreProvider, error) {
	approx, release, err := p.cv.PrecomputedScoreFunction(q, p.metric)
	if err != nil {
		return nil, err
	}

	var rerank ScoreFunction
	if p.ravv != nil {
		rerank = func(node int) float32 {
			v := p.ravv.Vector(node)
			if v == nil {
				return 0
			}
			return p.metric.Compare(q, v)
		}
	}

	ssp := NewSearchScoreProvider(ScoreFunction(approx), rerank)
	ssp.release = release
	return ssp, nil
}

func (p *pqBuildScoreProvider) SearchProviderForNode(node int) (*SearchScoreProvider, error) {
	if p.ravv != nil {
		if v := p.ravv.Vector(node); v != nil {
			return p.SearchProviderFor(v)
		}
	}
	// Without raw vectors, the decoded reconstruction stands in as the query.
	q := make([]float32, p.cv.PQ().OriginalDimension)
	p.cv.PQ().Decode(p.cv.Get(node), q)
	return p.SearchProviderFor(q)
}

func (p *pqBuildScoreProvider) DiversityProviderFor(node int) (ScoreFunction, error) {
	p.sdcOnce.Do(func() {
		p.sdc, p.sdcErr = p.cv.DiversityFunction(p.metric)
	})
	if p.sdcErr != nil {
		return nil, p.sdcErr
	}
	sdc := p.sdc
	return func(other int) float32 {
		return sdc(node, other)
	}, nil
}
